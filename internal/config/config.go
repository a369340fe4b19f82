// Package config loads the stash configuration file.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/aretw0/stash/pkg/schema"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Backend types.
const (
	TypeNone      = "none"
	TypeMemory    = "memory"
	TypeFile      = "file"
	TypeSQLite    = "sqlite"
	TypeRedis     = "redis"
	TypeRistretto = "ristretto"
)

// DefaultPath is read when no --config flag is given.
const DefaultPath = "stash.yaml"

// Config is the root of stash.yaml.
type Config struct {
	LogLevel   string     `yaml:"log_level"`
	Backing    Backend    `yaml:"backing"`
	Cache      Backend    `yaml:"cache"`
	Sweep      Sweep      `yaml:"sweep"`
	HTTP       HTTP       `yaml:"http"`
	Encryption Encryption `yaml:"encryption"`
	// Redact lists key patterns whose values are masked before storage.
	Redact []string `yaml:"redact"`
	// MaxRecordBytes rejects larger encoded records. Zero disables the limit.
	MaxRecordBytes int `yaml:"max_record_bytes"`
	// Schema maps field names to type strings (see schema.ParseType).
	Schema map[string]string `yaml:"schema"`
}

// Backend selects a store implementation. Options are decoded per type.
type Backend struct {
	Type    string         `yaml:"type"`
	Options map[string]any `yaml:"options"`
}

// Sweep configures the expired session sweeper.
type Sweep struct {
	Schedule string        `yaml:"schedule"`
	Timeout  time.Duration `yaml:"timeout"`
	Disabled bool          `yaml:"disabled"`
}

// HTTP configures the admin API.
type HTTP struct {
	Addr string `yaml:"addr"`
}

// Encryption holds base64 encoded AES-256 keys. An empty Key disables encryption.
type Encryption struct {
	Key          string   `yaml:"key"`
	FallbackKeys []string `yaml:"fallback_keys"`
}

// MemoryOptions configures the memory backend.
type MemoryOptions struct {
	MaxTTL time.Duration `mapstructure:"max_ttl"`
}

// FileOptions configures the file backend.
type FileOptions struct {
	Path string `mapstructure:"path"`
}

// SQLiteOptions configures the sqlite backend.
type SQLiteOptions struct {
	Path  string `mapstructure:"path"`
	Table string `mapstructure:"table"`
}

// RedisOptions configures the redis backend.
type RedisOptions struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
	// Lock enables distributed session locks on the same server.
	Lock    bool          `mapstructure:"lock"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// RistrettoOptions configures the ristretto cache.
type RistrettoOptions struct {
	MaxEntries int64         `mapstructure:"max_entries"`
	MaxBytes   int64         `mapstructure:"max_bytes"`
	MaxTTL     time.Duration `mapstructure:"max_ttl"`
}

// Default returns a configuration that runs entirely in memory.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Backing:  Backend{Type: TypeMemory},
		Cache:    Backend{Type: TypeNone},
		Sweep:    Sweep{Schedule: "@every 10m", Timeout: time.Minute},
		HTTP:     HTTP{Addr: ":8080"},
	}
}

// Load reads path, expands ${VAR} references and validates the result.
// A missing DefaultPath yields Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && path == DefaultPath {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse decodes YAML on top of Default() and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks types and decodes every options block once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Backing.Type {
	case TypeMemory, TypeFile, TypeSQLite, TypeRedis:
		if err := c.Backing.check(); err != nil {
			errs = append(errs, fmt.Errorf("backing: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("backing: unknown type %q", c.Backing.Type))
	}

	switch c.Cache.Type {
	case "", TypeNone:
	case TypeMemory, TypeRistretto, TypeRedis:
		if err := c.Cache.check(); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("cache: unknown type %q", c.Cache.Type))
	}

	if c.Encryption.Key != "" {
		if _, _, err := c.Encryption.Keys(); err != nil {
			errs = append(errs, fmt.Errorf("encryption: %w", err))
		}
	}
	for _, p := range c.Redact {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Errorf("redact: %w", err))
		}
	}
	if _, err := schema.ParseTypeMap(c.Schema); err != nil {
		errs = append(errs, fmt.Errorf("schema: %w", err))
	}
	if c.MaxRecordBytes < 0 {
		errs = append(errs, errors.New("max_record_bytes must not be negative"))
	}
	return errors.Join(errs...)
}

func (b Backend) check() error {
	var err error
	switch b.Type {
	case TypeMemory:
		_, err = Decode[MemoryOptions](b)
	case TypeFile:
		_, err = Decode[FileOptions](b)
	case TypeSQLite:
		var o SQLiteOptions
		if o, err = Decode[SQLiteOptions](b); err == nil && o.Path == "" {
			err = errors.New("sqlite: path is required")
		}
	case TypeRedis:
		var o RedisOptions
		if o, err = Decode[RedisOptions](b); err == nil && o.Addr == "" {
			err = errors.New("redis: addr is required")
		}
	case TypeRistretto:
		_, err = Decode[RistrettoOptions](b)
	}
	return err
}

// Decode maps the free-form options of b onto T.
// Durations accept strings such as "5m"; unknown keys are errors.
func Decode[T any](b Backend) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(b.Options); err != nil {
		return out, fmt.Errorf("%s options: %w", b.Type, err)
	}
	return out, nil
}

// Keys decodes the active and fallback keys.
func (e Encryption) Keys() ([]byte, [][]byte, error) {
	active, err := decodeKey(e.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("key: %w", err)
	}
	fallbacks := make([][]byte, 0, len(e.FallbackKeys))
	for i, k := range e.FallbackKeys {
		key, err := decodeKey(k)
		if err != nil {
			return nil, nil, fmt.Errorf("fallback key %d: %w", i, err)
		}
		fallbacks = append(fallbacks, key)
	}
	return active, fallbacks, nil
}

func decodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("want 32 bytes, got %d", len(key))
	}
	return key, nil
}
