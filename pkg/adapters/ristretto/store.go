// Package ristretto provides a bounded in-process cache tier backed by
// github.com/dgraph-io/ristretto.
//
// Entries may be evicted at any time, which makes this store unsuitable as a
// source of truth. Pair it with a durable store through the caching combinator.
package ristretto

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/stash/pkg/codec"
	"github.com/aretw0/stash/pkg/domain"
	"github.com/aretw0/stash/pkg/ports"
	backend "github.com/dgraph-io/ristretto"
)

// ErrRejected is returned when the cache refuses a write (admission policy or
// full write buffers).
var ErrRejected = errors.New("cache rejected write")

// Config sizes the cache.
type Config struct {
	// MaxEntries is the expected number of live sessions. It sizes the
	// admission counters (ten per entry).
	MaxEntries int64
	// MaxBytes bounds the total size of cached envelopes.
	MaxBytes int64
	// MaxTTL caps how long an entry lives, whatever its record expiry. Zero means no cap.
	MaxTTL time.Duration
}

// DefaultConfig suits a single process holding around ten thousand sessions.
func DefaultConfig() Config {
	return Config{
		MaxEntries: 10_000,
		MaxBytes:   64 << 20,
		MaxTTL:     5 * time.Minute,
	}
}

// Store implements ports.Store on top of a ristretto cache.
type Store struct {
	cache    *backend.Cache[string, []byte]
	maxTTL   time.Duration
	now      func() time.Time
	ids      domain.IDGenerator
	attempts int
}

// Option configures a Store.
type Option func(*Store)

// WithNow replaces the clock used to evaluate record expiry on reads.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator sets the generator used by Create.
func WithIDGenerator(gen domain.IDGenerator) Option {
	return func(s *Store) {
		s.ids = gen
	}
}

// New creates a cache sized by cfg.
func New(cfg Config, opts ...Option) (*Store, error) {
	if cfg.MaxEntries <= 0 || cfg.MaxBytes <= 0 {
		return nil, fmt.Errorf("ristretto: max_entries and max_bytes must be positive")
	}
	cache, err := backend.NewCache(&backend.Config[string, []byte]{
		NumCounters:        cfg.MaxEntries * 10,
		MaxCost:            cfg.MaxBytes,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto: failed to create cache: %w", err)
	}

	s := &Store{
		cache:    cache,
		maxTTL:   cfg.MaxTTL,
		now:      time.Now,
		ids:      domain.RandomIDs,
		attempts: ports.DefaultCreateAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func key(id domain.ID) string {
	return "session:" + string(id)
}

// ttl returns how long to keep rec, or false when it is already expired.
func (s *Store) ttl(rec *domain.Record) (time.Duration, bool) {
	d, set := rec.Expiry.TTL(s.now())
	if set && d <= 0 {
		return 0, false
	}
	if s.maxTTL > 0 && (!set || d > s.maxTTL) {
		d = s.maxTTL
	}
	return d, true
}

func (s *Store) put(op string, rec *domain.Record) error {
	ttl, live := s.ttl(rec)
	if !live {
		s.cache.Del(key(rec.ID))
		s.cache.Wait()
		return nil
	}
	b, err := codec.Encode(rec)
	if err != nil {
		return domain.SerdeError(op, err)
	}
	if !s.cache.SetWithTTL(key(rec.ID), b, int64(len(b)), ttl) {
		return domain.IOError(op, ErrRejected)
	}
	s.cache.Wait()
	return nil
}

func (s *Store) get(id domain.ID) (*domain.Record, error) {
	b, ok := s.cache.Get(key(id))
	if !ok {
		return nil, domain.ErrNotFound
	}
	rec, err := codec.DecodeFor(id, b)
	if err != nil {
		return nil, domain.SerdeError("load", err)
	}
	if rec.Expired(s.now()) {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

// Create inserts rec if its ID is not cached. The check and the insert are
// not atomic: concurrent creates of one ID may both succeed, which is
// acceptable for a tier that is never the source of truth.
func (s *Store) Create(ctx context.Context, rec *domain.Record) error {
	return ports.InsertWithRetry(ctx, rec, s.ids, s.attempts, func(ctx context.Context, rec *domain.Record) (bool, error) {
		if _, err := s.get(rec.ID); err == nil {
			return false, nil
		}
		if err := s.put("create", rec); err != nil {
			return false, err
		}
		return true, nil
	})
}

// Load returns the cached record.
func (s *Store) Load(ctx context.Context, id domain.ID) (*domain.Record, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return s.get(id)
}

// Save caches rec. Saving an already expired record evicts it.
func (s *Store) Save(ctx context.Context, rec *domain.Record) error {
	if err := rec.ID.Validate(); err != nil {
		return err
	}
	return s.put("save", rec)
}

// Delete evicts id.
func (s *Store) Delete(ctx context.Context, id domain.ID) error {
	if err := id.Validate(); err != nil {
		return err
	}
	s.cache.Del(key(id))
	s.cache.Wait()
	return nil
}

// Clear drops every entry.
func (s *Store) Clear() {
	s.cache.Clear()
}

// Close stops the cache's background goroutines.
func (s *Store) Close() error {
	s.cache.Close()
	return nil
}
