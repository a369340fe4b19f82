package caching

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aretw0/stash/internal/logging"
	"github.com/aretw0/stash/pkg/domain"
	"github.com/aretw0/stash/pkg/ports"
)

// Store presents a cache tier and a backing tier as a single ports.Store.
// The backing tier is the source of truth; the cache may lose entries at any
// time without affecting correctness.
type Store struct {
	cache   ports.Store
	backing ports.Store

	flights  *flights
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

var (
	_ ports.Store          = (*Store)(nil)
	_ ports.ExpiredDeleter = (*Store)(nil)
	_ ports.Lister         = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used to report swallowed cache failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithObserver installs an Observer.
func WithObserver(o Observer) Option {
	return func(s *Store) {
		s.observer = o
	}
}

// WithNow replaces the clock used to re-check expiry on cache hits.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New composes cache and backing.
func New(cache, backing ports.Store, opts ...Option) *Store {
	s := &Store{
		cache:    cache,
		backing:  backing,
		flights:  newFlights(),
		logger:   logging.NewNop(),
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cache returns the cache tier.
func (s *Store) Cache() ports.Store { return s.cache }

// Backing returns the backing tier.
func (s *Store) Backing() ports.Store { return s.backing }

// InFlight reports how many backing loads are in progress.
func (s *Store) InFlight() int { return s.flights.pending() }

// Create inserts rec into the backing tier, which enforces ID uniqueness,
// then mirrors it into the cache.
func (s *Store) Create(ctx context.Context, rec *domain.Record) error {
	if err := s.backing.Create(ctx, rec); err != nil {
		return err
	}
	s.mirror(rec.ID, "create", func() error {
		return s.cache.Save(ctx, rec)
	})
	return nil
}

// Load serves id from the cache, falling back to the backing tier.
// Concurrent misses for one id share a single backing load. Absence is
// never cached.
func (s *Store) Load(ctx context.Context, id domain.ID) (*domain.Record, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if rec, ok := s.cached(ctx, id); ok {
		return rec, nil
	}

	for {
		f, leader := s.flights.join(id)
		if leader {
			s.fetch(ctx, id, f)
		} else {
			s.observer.CoalescedWait()
			select {
			case <-f.done:
			case <-ctx.Done():
				return nil, domain.IOError("load", ctx.Err())
			}
			// The leader's caller gave up. Ours has not, so load again.
			if isCanceled(f.err) && ctx.Err() == nil {
				continue
			}
		}
		if f.err != nil {
			return nil, f.err
		}
		return f.rec.Clone(), nil
	}
}

// Save writes rec to the backing tier, then mirrors it into the cache.
func (s *Store) Save(ctx context.Context, rec *domain.Record) error {
	if err := s.backing.Save(ctx, rec); err != nil {
		s.evictAfterFailure(ctx, rec.ID)
		return err
	}
	s.mirror(rec.ID, "save", func() error {
		return s.cache.Save(ctx, rec)
	})
	return nil
}

// Delete removes id from the backing tier, then from the cache.
func (s *Store) Delete(ctx context.Context, id domain.ID) error {
	if err := s.backing.Delete(ctx, id); err != nil {
		s.evictAfterFailure(ctx, id)
		return err
	}
	s.mirror(id, "delete", func() error {
		return s.cache.Delete(ctx, id)
	})
	return nil
}

// DeleteExpired delegates to the backing tier only. Returns
// ports.ErrNotSupported when it cannot purge eagerly. The cache tier expires
// its own entries and is swept on its own.
func (s *Store) DeleteExpired(ctx context.Context) error {
	d, ok := s.backing.(ports.ExpiredDeleter)
	if !ok {
		return ports.ErrNotSupported
	}
	return d.DeleteExpired(ctx)
}

// List enumerates the backing tier. Returns ports.ErrNotSupported when it cannot.
func (s *Store) List(ctx context.Context) ([]domain.ID, error) {
	l, ok := s.backing.(ports.Lister)
	if !ok {
		return nil, ports.ErrNotSupported
	}
	return l.List(ctx)
}

// cached checks the cache tier. Any cache failure counts as a miss.
func (s *Store) cached(ctx context.Context, id domain.ID) (*domain.Record, bool) {
	rec, err := s.cache.Load(ctx, id)
	switch {
	case err == nil && !rec.Expired(s.now()):
		s.observer.CacheHit()
		return rec, true
	case err == nil, errors.Is(err, domain.ErrNotFound):
	default:
		s.bestEffort(id, "load", err)
	}
	s.observer.CacheMiss()
	return nil, false
}

// fetch runs the backing load for a flight the caller leads. The flight is
// released on every path, panics included.
func (s *Store) fetch(ctx context.Context, id domain.ID, f *flight) {
	defer s.flights.finish(id, f)

	s.observer.BackingLoad()
	rec, err := s.backing.Load(ctx, id)
	if err != nil {
		f.err = err
		return
	}
	f.populate(func() {
		s.bestEffort(id, "populate", s.cache.Save(ctx, rec))
	})
	f.rec, f.err = rec, nil
}

// mirror applies a cache write after a successful backing write. It wins
// over any backing load still in flight for the same id.
func (s *Store) mirror(id domain.ID, op string, write func() error) {
	s.flights.supersede(id, func() {
		s.bestEffort(id, op, write())
	})
}

// evictAfterFailure drops the cached copy when a backing write failed: the
// write may have been applied anyway.
func (s *Store) evictAfterFailure(ctx context.Context, id domain.ID) {
	if id.Validate() != nil {
		return
	}
	s.mirror(id, "evict", func() error {
		return s.cache.Delete(ctx, id)
	})
}

// bestEffort swallows a cache-tier failure after recording it.
func (s *Store) bestEffort(id domain.ID, op string, err error) {
	if err == nil {
		return
	}
	s.logger.Warn("Session cache operation failed",
		"op", op,
		"session_id", id,
		"err", err,
	)
	s.observer.CacheError(op, err)
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
