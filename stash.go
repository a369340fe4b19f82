package stash

import (
	"context"
	_ "embed"
	"errors"
	"io"
	"log/slog"

	"github.com/aretw0/stash/internal/logging"
	"github.com/aretw0/stash/pkg/observability"
	"github.com/aretw0/stash/pkg/persistence/caching"
	"github.com/aretw0/stash/pkg/persistence/middleware"
	"github.com/aretw0/stash/pkg/ports"
	"github.com/aretw0/stash/pkg/session"
	"github.com/aretw0/stash/pkg/sweep"
)

// Version is the release of this module.
//
//go:embed VERSION
var Version string

// Stash is the high-level entry point for the library.
// It composes a backing store with an optional cache tier and middlewares,
// and serves sessions through a session.Manager.
type Stash struct {
	*session.Manager

	backing ports.Store
	cache   ports.Store
	store   ports.Store
	sweeper *sweep.Sweeper
	metrics *observability.Metrics
	logger  *slog.Logger
	closers []io.Closer
}

type options struct {
	cache       ports.Store
	middlewares []middleware.Middleware
	storage     []middleware.Middleware
	locker      ports.DistributedLocker
	sessionOpts []session.Option
	metrics     *observability.Metrics
	sweepOpts   []sweep.Option
	noSweep     bool
	logger      *slog.Logger
	closers     []io.Closer
}

// Option defines a functional option for configuring a Stash.
type Option func(*options)

// WithCache puts cache in front of the backing store.
func WithCache(cache ports.Store) Option {
	return func(o *options) {
		o.cache = cache
	}
}

// WithMiddleware adds store middlewares in front of the cache tier, so the
// cache only ever holds what they let through. Use it for anything that
// rewrites or rejects records (PII masking, schema, size limits).
// The first one given is the outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) {
		o.middlewares = append(o.middlewares, mws...)
	}
}

// WithStorageMiddleware adds middlewares between the cache tier and the
// backing store. They must be lossless: a record loaded through them must
// equal the record saved, as with encryption.
func WithStorageMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) {
		o.storage = append(o.storage, mws...)
	}
}

// WithLocker serializes session access across replicas.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(o *options) {
		o.locker = locker
	}
}

// WithSessionOptions passes extra options to the session manager.
func WithSessionOptions(opts ...session.Option) Option {
	return func(o *options) {
		o.sessionOpts = append(o.sessionOpts, opts...)
	}
}

// WithMetrics reports cache and sweep activity to m.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithSweep configures the expired session sweeper.
func WithSweep(opts ...sweep.Option) Option {
	return func(o *options) {
		o.sweepOpts = append(o.sweepOpts, opts...)
	}
}

// WithoutSweep disables the sweeper; Start then does nothing.
func WithoutSweep() Option {
	return func(o *options) {
		o.noSweep = true
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithCloser registers resources released by Close, in reverse order.
func WithCloser(c ...io.Closer) Option {
	return func(o *options) {
		o.closers = append(o.closers, c...)
	}
}

// New composes a Stash over backing.
func New(backing ports.Store, opts ...Option) (*Stash, error) {
	if backing == nil {
		return nil, errors.New("stash: backing store is required")
	}
	o := &options{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(o)
	}

	mws := append([]middleware.Middleware{}, o.middlewares...)
	if o.cache != nil {
		cacheOpts := []caching.Option{caching.WithLogger(o.logger)}
		if o.metrics != nil {
			cacheOpts = append(cacheOpts, caching.WithObserver(o.metrics))
		}
		mws = append(mws, middleware.WithCache(o.cache, cacheOpts...))
	}
	mws = append(mws, o.storage...)
	store := middleware.Chain(backing, mws...)

	s := &Stash{
		backing: backing,
		cache:   o.cache,
		store:   store,
		metrics: o.metrics,
		logger:  o.logger,
		closers: o.closers,
	}

	sessionOpts := []session.Option{session.WithLogger(o.logger)}
	if o.locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(o.locker))
	}
	s.Manager = session.NewManager(store, append(sessionOpts, o.sessionOpts...)...)

	if !o.noSweep {
		sweepOpts := []sweep.Option{sweep.WithLogger(o.logger)}
		if o.metrics != nil {
			sweepOpts = append(sweepOpts, sweep.WithObserver(o.metrics))
		}
		sweeper, err := sweep.New(append(sweepOpts, o.sweepOpts...)...)
		if err != nil {
			return nil, err
		}
		sweeper.Add("backing", backing)
		if o.cache != nil {
			sweeper.Add("cache", o.cache)
		}
		s.sweeper = sweeper
	}
	return s, nil
}

// Store returns the composed store every Manager call goes through.
func (s *Stash) Store() ports.Store { return s.store }

// Cache returns the cache tier, or nil.
func (s *Stash) Cache() ports.Store { return s.cache }

// Backing returns the source-of-truth store.
func (s *Stash) Backing() ports.Store { return s.backing }

// Metrics returns the configured metrics, or nil.
func (s *Stash) Metrics() *observability.Metrics { return s.metrics }

// Sweep purges expired sessions once, outside the schedule.
func (s *Stash) Sweep(ctx context.Context) error {
	if s.sweeper == nil {
		return nil
	}
	return s.sweeper.RunOnce(ctx)
}

// Start begins the scheduled sweeps.
func (s *Stash) Start(ctx context.Context) error {
	if s.sweeper == nil {
		return nil
	}
	return s.sweeper.Start(ctx)
}

// Close stops the sweeper and releases registered resources.
func (s *Stash) Close() error {
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
