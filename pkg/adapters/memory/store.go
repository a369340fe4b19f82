package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/stash/pkg/codec"
	"github.com/aretw0/stash/pkg/domain"
	"github.com/aretw0/stash/pkg/ports"
)

type entry struct {
	envelope []byte
	deadline domain.Expiry
}

// Store implements ports.Store in memory.
// Records are kept as encoded envelopes, so every Load returns a fresh copy
// and codec failures surface exactly as they would from a remote backend.
// Safe for concurrent use.
type Store struct {
	data map[domain.ID]entry
	mu   sync.RWMutex

	now      func() time.Time
	maxTTL   time.Duration
	ids      domain.IDGenerator
	attempts int
}

// Option configures a Store.
type Option func(*Store)

// WithNow replaces the clock used to evaluate expiry.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithMaxTTL caps how long an entry is kept, whatever its record expiry.
// Zero means no cap. Useful when the store serves as a cache tier.
func WithMaxTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.maxTTL = ttl
	}
}

// WithIDGenerator sets the generator used by Create.
func WithIDGenerator(gen domain.IDGenerator) Option {
	return func(s *Store) {
		s.ids = gen
	}
}

// WithCreateAttempts bounds the ID-collision loop of Create.
func WithCreateAttempts(n int) Option {
	return func(s *Store) {
		s.attempts = n
	}
}

// New creates a new in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		data:     make(map[domain.ID]entry),
		now:      time.Now,
		ids:      domain.RandomIDs,
		attempts: ports.DefaultCreateAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) entryFor(rec *domain.Record, now time.Time) (entry, error) {
	b, err := codec.Encode(rec)
	if err != nil {
		return entry{}, domain.SerdeError("encode", err)
	}
	deadline := rec.Expiry
	if s.maxTTL > 0 {
		capped := now.Add(s.maxTTL)
		if at, ok := deadline.Time(); !ok || capped.Before(at) {
			deadline = domain.ExpiresAt(capped)
		}
	}
	return entry{envelope: b, deadline: deadline}, nil
}

// Create inserts rec under a fresh ID. Expired entries do not count as taken.
func (s *Store) Create(ctx context.Context, rec *domain.Record) error {
	return ports.InsertWithRetry(ctx, rec, s.ids, s.attempts, func(ctx context.Context, rec *domain.Record) (bool, error) {
		now := s.now()
		e, err := s.entryFor(rec, now)
		if err != nil {
			return false, err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if old, ok := s.data[rec.ID]; ok && !old.deadline.Expired(now) {
			return false, nil
		}
		s.data[rec.ID] = e
		return true, nil
	})
}

// Load retrieves the record from memory.
func (s *Store) Load(ctx context.Context, id domain.ID) (*domain.Record, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	e, ok := s.data[id]
	s.mu.RUnlock()

	if !ok || e.deadline.Expired(s.now()) {
		return nil, domain.ErrNotFound
	}

	rec, err := codec.DecodeFor(id, e.envelope)
	if err != nil {
		return nil, domain.SerdeError("decode", err)
	}
	return rec, nil
}

// Save replaces the record in memory.
func (s *Store) Save(ctx context.Context, rec *domain.Record) error {
	if err := rec.ID.Validate(); err != nil {
		return err
	}
	e, err := s.entryFor(rec, s.now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[rec.ID] = e
	return nil
}

// Delete removes the record.
func (s *Store) Delete(ctx context.Context, id domain.ID) error {
	if err := id.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}

// DeleteExpired drops every entry whose deadline has passed.
func (s *Store) DeleteExpired(ctx context.Context) error {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.data {
		if e.deadline.Expired(now) {
			delete(s.data, id)
		}
	}
	return nil
}

// List returns live session IDs in sorted order.
func (s *Store) List(ctx context.Context) ([]domain.ID, error) {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]domain.ID, 0, len(s.data))
	for id, e := range s.data {
		if !e.deadline.Expired(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Len reports the number of entries held, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
