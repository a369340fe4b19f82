package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/aretw0/stash/internal/logging"
	"github.com/aretw0/stash/pkg/domain"
	"github.com/aretw0/stash/pkg/ports"
)

// DefaultLockTTL bounds how long a distributed lock outlives a crashed holder.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager orchestrates session access, ensuring safe concurrent operations.
// It uses Reference Counting to garbage collect unused locks.
type Manager struct {
	store ports.Store

	mu    sync.Mutex               // Global lock for the map
	locks map[domain.ID]*lockEntry // Map of active locks

	locker  ports.DistributedLocker // Optional distributed locker
	lockTTL time.Duration
	logger  *slog.Logger // Logger for internal events (like deferred errors)
	now     func() time.Time
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the TTL of distributed locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithNow replaces the clock used by Update to skip expired records.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a new Session Manager with the given persistence store.
func NewManager(store ports.Store, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[domain.ID]*lockEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(), // Default to no-op
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(id) after unlocking.
func (m *Manager) acquire(id domain.ID) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[id]
	if !exists {
		entry = &lockEntry{}
		m.locks[id] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(id domain.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[id]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, id)
	}
}

// Create stores a new session holding the fields of data (a struct or map, may
// be nil) and returns it with its generated id.
func (m *Manager) Create(ctx context.Context, data any, expiry domain.Expiry) (*domain.Record, error) {
	rec := domain.NewRecord("", expiry)
	if data != nil {
		if err := rec.Merge(data); err != nil {
			return nil, domain.SerdeError("create", err)
		}
	}
	if err := m.store.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Load retrieves an existing session from the store.
func (m *Manager) Load(ctx context.Context, id domain.ID) (*domain.Record, error) {
	var rec *domain.Record
	err := m.WithLock(ctx, id, func(ctx context.Context) error {
		var err error
		rec, err = m.store.Load(ctx, id)
		return err
	})
	return rec, err
}

// LoadOrCreate loads a session, or stores an empty one under id if none is live.
func (m *Manager) LoadOrCreate(ctx context.Context, id domain.ID, expiry domain.Expiry) (*domain.Record, error) {
	var rec *domain.Record
	err := m.WithLock(ctx, id, func(ctx context.Context) error {
		var err error
		rec, err = m.store.Load(ctx, id)
		if err == nil {
			return nil
		}

		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("failed to check session existence: %w", err)
		}

		rec = domain.NewRecord(id, expiry)
		// Persist immediately to reserve the ID
		if err := m.store.Save(ctx, rec); err != nil {
			return fmt.Errorf("failed to initialize session: %w", err)
		}
		return nil
	})
	return rec, err
}

// Save persists the session record.
func (m *Manager) Save(ctx context.Context, rec *domain.Record) error {
	return m.WithLock(ctx, rec.ID, func(ctx context.Context) error {
		return m.store.Save(ctx, rec)
	})
}

// Update runs a read-modify-write cycle on one session under its lock.
// fn receives a private copy; the record is saved only if fn returns nil.
func (m *Manager) Update(ctx context.Context, id domain.ID, fn func(*domain.Record) error) (*domain.Record, error) {
	var rec *domain.Record
	err := m.WithLock(ctx, id, func(ctx context.Context) error {
		loaded, err := m.store.Load(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(loaded); err != nil {
			return err
		}
		if loaded.Expired(m.now()) {
			// fn expired the session; persist as a removal.
			if err := m.store.Delete(ctx, id); err != nil {
				return err
			}
			return domain.ErrNotFound
		}
		if err := m.store.Save(ctx, loaded); err != nil {
			return err
		}
		rec = loaded
		return nil
	})
	return rec, err
}

// Touch replaces the expiry of a session, keeping its data.
func (m *Manager) Touch(ctx context.Context, id domain.ID, expiry domain.Expiry) (*domain.Record, error) {
	var rec *domain.Record
	err := m.WithLock(ctx, id, func(ctx context.Context) error {
		var err error
		rec, err = ports.Touch(ctx, m.store, id, expiry)
		return err
	})
	return rec, err
}

// Delete removes the session from the store.
func (m *Manager) Delete(ctx context.Context, id domain.ID) error {
	return m.WithLock(ctx, id, func(ctx context.Context) error {
		return m.store.Delete(ctx, id)
	})
}

// List delegates to the store when it can enumerate sessions.
func (m *Manager) List(ctx context.Context) ([]domain.ID, error) {
	lister, ok := m.store.(ports.Lister)
	if !ok {
		return nil, ports.ErrNotSupported
	}
	return lister.List(ctx)
}

// Store returns the underlying session store.
func (m *Manager) Store() ports.Store {
	return m.store
}

// WithLock executes a function while holding the lock for the session.
func (m *Manager) WithLock(ctx context.Context, id domain.ID, fn func(context.Context) error) error {
	if err := id.Validate(); err != nil {
		return err
	}

	entry := m.acquire(id)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(id)
	}()

	// Distributed Locking
	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, string(id), m.lockTTL)
		if err != nil {
			return domain.IOError("lock", fmt.Errorf("failed to acquire distributed lock: %w", err))
		}
		defer func() {
			// The caller's ctx may be done by now; the release still has to go out.
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"session_id", id,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
