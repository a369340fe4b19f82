package cli

import (
	"context"
	"encoding/base64"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/stash/internal/config"
	"github.com/aretw0/stash/internal/logging"
	"github.com/aretw0/stash/pkg/adapters/sqlite"
	"github.com/aretw0/stash/pkg/domain"
	"github.com/aretw0/stash/pkg/persistence/caching"
	"github.com/aretw0/stash/pkg/persistence/middleware"
	"github.com/aretw0/stash/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, doc string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	return cfg
}

func roundTrip(t *testing.T, cfg *config.Config) *domain.Record {
	t.Helper()
	ctx := context.Background()
	s, err := NewStash(ctx, cfg, logging.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })

	rec, err := s.Create(ctx, map[string]string{"user": "ana"}, domain.NoExpiry())
	require.NoError(t, err)
	loaded, err := s.Load(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, loaded.Has("user"))

	stored, err := s.Backing().Load(ctx, rec.ID)
	require.NoError(t, err)
	return stored
}

func TestNewStash_Default(t *testing.T) {
	roundTrip(t, config.Default())
}

func TestNewStash_SQLiteWithRistretto(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stash.db")
	cfg := parse(t, `
backing: {type: sqlite, options: {path: `+path+`}}
cache: {type: ristretto, options: {max_entries: 100, max_ttl: 1m}}
sweep: {disabled: true}
`)
	roundTrip(t, cfg)
}

func TestNewStash_SQLiteTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stash.db")
	roundTrip(t, parse(t, "backing: {type: sqlite, options: {path: "+path+", table: web_sessions}}"))

	_, err := NewStash(context.Background(), parse(t, "backing: {type: sqlite, options: {path: "+path+", table: \"a;b\"}}"), logging.NewNop(), nil)
	assert.ErrorIs(t, err, sqlite.ErrInvalidTableName)
}

func TestNewStash_FileBacking(t *testing.T) {
	cfg := parse(t, "backing: {type: file, options: {path: "+t.TempDir()+"}}")
	roundTrip(t, cfg)
}

func TestNewStash_RedisWithLock(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := parse(t, `
backing: {type: redis, options: {addr: `+mr.Addr()+`, prefix: "test:", lock: true, lock_ttl: 5s}}
cache: {type: memory}
`)
	roundTrip(t, cfg)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "test:"))
}

func TestNewStash_RedisUnavailable(t *testing.T) {
	cfg := parse(t, "backing: {type: redis, options: {addr: 127.0.0.1:1}}")
	_, err := NewStash(context.Background(), cfg, logging.NewNop(), nil)
	assert.ErrorIs(t, err, domain.ErrIO)
}

func TestNewStash_Middlewares(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	cfg := parse(t, `
encryption: {key: `+key+`}
redact: ["^user$"]
max_record_bytes: 4096
`)
	stored := roundTrip(t, cfg)
	assert.True(t, stored.Has(middleware.EncryptedKey))
	assert.False(t, stored.Has("user"))
}

func TestNewStash_Schema(t *testing.T) {
	cfg := parse(t, `schema: {user: string, "visits?": int}`)
	roundTrip(t, cfg)

	s, err := NewStash(context.Background(), cfg, logging.NewNop(), nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Create(context.Background(), map[string]int{"user": 1}, domain.NoExpiry())
	assert.ErrorIs(t, err, schema.ErrInvalid)
}

func TestNewStash_CacheIsOutermost(t *testing.T) {
	cfg := parse(t, "cache: {type: memory}")
	s, err := NewStash(context.Background(), cfg, logging.NewNop(), nil)
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.Store().(*caching.Store)
	assert.True(t, ok)
}

func TestNewStash_RedactionIsAboveCache(t *testing.T) {
	ctx := context.Background()
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	cfg := parse(t, `
cache: {type: memory}
redact: ["^user$"]
encryption: {key: `+key+`}
`)
	s, err := NewStash(ctx, cfg, logging.NewNop(), nil)
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.Create(ctx, map[string]string{"user": "ana"}, domain.NoExpiry())
	require.NoError(t, err)

	read := func() string {
		loaded, err := s.Load(ctx, rec.ID)
		require.NoError(t, err)
		var user string
		_, err = loaded.Get("user", &user)
		require.NoError(t, err)
		return user
	}
	warm := read()
	require.NoError(t, s.Cache().Delete(ctx, rec.ID))
	cold := read()

	assert.Equal(t, middleware.Mask, warm)
	assert.Equal(t, warm, cold)

	cached, err := s.Cache().Load(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, cached.Has("user"), "the cache holds decrypted records")
}

func TestNewLogger(t *testing.T) {
	_, err := NewLogger("debug")
	assert.NoError(t, err)
	_, err = NewLogger("loud")
	assert.Error(t, err)
}
