package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aretw0/stash/pkg/codec"
	"github.com/aretw0/stash/pkg/domain"
	"github.com/aretw0/stash/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces session keys.
const DefaultPrefix = "stash:session:"

// Store implements ports.Store using Redis.
// Redis expires keys on its own, so the store does not advertise
// ports.ExpiredDeleter. Records are still checked against their expiry on
// every read.
type Store struct {
	client   backend.UniversalClient
	prefix   string
	now      func() time.Time
	ids      domain.IDGenerator
	attempts int
}

type Option func(*Store)

// WithPrefix sets the key prefix for sessions.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithNow replaces the clock used to compute key TTLs and check expiry.
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

// WithCreateAttempts bounds the ID-collision loop of Create.
func WithCreateAttempts(n int) Option {
	return func(s *Store) {
		s.attempts = n
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client backend.UniversalClient, opts ...Option) *Store {
	store := &Store{
		client:   client,
		prefix:   DefaultPrefix,
		now:      time.Now,
		ids:      domain.RandomIDs,
		attempts: ports.DefaultCreateAttempts,
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

func (s *Store) key(id domain.ID) string {
	return s.prefix + string(id)
}

// encode returns the envelope and its key TTL. live is false when the
// record is already expired and must not be written.
func (s *Store) encode(op string, rec *domain.Record) (data []byte, ttl time.Duration, live bool, err error) {
	ttl, set := rec.Expiry.TTL(s.now())
	if set && ttl <= 0 {
		return nil, 0, false, nil
	}
	if set && ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	data, err = codec.Encode(rec)
	if err != nil {
		return nil, 0, false, domain.SerdeError(op, err)
	}
	// A zero TTL keeps the key until deleted.
	return data, ttl, true, nil
}

// Create inserts rec with SET NX, regenerating the ID while it is taken.
func (s *Store) Create(ctx context.Context, rec *domain.Record) error {
	return ports.InsertWithRetry(ctx, rec, s.ids, s.attempts, func(ctx context.Context, rec *domain.Record) (bool, error) {
		data, ttl, live, err := s.encode("create", rec)
		if err != nil {
			return false, err
		}
		if !live {
			// Nothing to store, but the ID must still be free.
			n, err := s.client.Exists(ctx, s.key(rec.ID)).Result()
			if err != nil {
				return false, domain.IOError("create", err)
			}
			return n == 0, nil
		}
		ok, err := s.client.SetNX(ctx, s.key(rec.ID), data, ttl).Result()
		if err != nil {
			return false, domain.IOError("create", err)
		}
		return ok, nil
	})
}

// Load retrieves the record from Redis.
func (s *Store) Load(ctx context.Context, id domain.ID) (*domain.Record, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	val, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.IOError("load", err)
	}

	rec, err := codec.DecodeFor(id, val)
	if err != nil {
		return nil, domain.SerdeError("load", err)
	}
	if rec.Expired(s.now()) {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

// Save replaces the record. An already expired record is deleted instead.
func (s *Store) Save(ctx context.Context, rec *domain.Record) error {
	if err := rec.ID.Validate(); err != nil {
		return err
	}
	data, ttl, live, err := s.encode("save", rec)
	if err != nil {
		return err
	}
	if !live {
		if err := s.client.Del(ctx, s.key(rec.ID)).Err(); err != nil {
			return domain.IOError("save", err)
		}
		return nil
	}
	if err := s.client.Set(ctx, s.key(rec.ID), data, ttl).Err(); err != nil {
		return domain.IOError("save", err)
	}
	return nil
}

// Delete removes the session.
func (s *Store) Delete(ctx context.Context, id domain.ID) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return domain.IOError("delete", err)
	}
	return nil
}

// List returns live session IDs by scanning the key prefix.
// Keys under the prefix that are not valid IDs (lock keys, for instance) are skipped.
func (s *Store) List(ctx context.Context) ([]domain.ID, error) {
	var ids []domain.ID
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id := domain.ID(strings.TrimPrefix(iter.Val(), s.prefix))
		if id.Validate() != nil {
			continue
		}
		ids = append(ids, id)
	}
	if err := iter.Err(); err != nil {
		return nil, domain.IOError("list", err)
	}
	return ids, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return domain.IOError("ping", err)
	}
	return nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
