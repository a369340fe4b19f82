// Package sweep purges expired sessions on a schedule.
//
// Stores that reap on their own (Redis) or only expire lazily are skipped;
// only stores advertising ports.ExpiredDeleter are swept.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/stash/internal/logging"
	"github.com/aretw0/stash/pkg/ports"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// DefaultSchedule runs a sweep every ten minutes.
const DefaultSchedule = "@every 10m"

// Result labels reported to an Observer.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

// Observer is notified once per store per sweep.
type Observer interface {
	SweepCompleted(store, result string)
}

type nopObserver struct{}

func (nopObserver) SweepCompleted(string, string) {}

type target struct {
	name  string
	store ports.Store
}

// Sweeper runs DeleteExpired over a set of named stores.
type Sweeper struct {
	schedule string
	timeout  time.Duration
	logger   *slog.Logger
	observer Observer

	mu      sync.Mutex
	targets []target
	cron    *cron.Cron
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithSchedule sets the cron expression. Standard five-field specs and
// descriptors such as "@every 5m" are accepted.
func WithSchedule(spec string) Option {
	return func(s *Sweeper) {
		s.schedule = spec
	}
}

// WithTimeout bounds a single scheduled sweep.
func WithTimeout(d time.Duration) Option {
	return func(s *Sweeper) {
		s.timeout = d
	}
}

// WithLogger configures a logger for sweep outcomes.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

// WithObserver installs an Observer.
func WithObserver(o Observer) Option {
	return func(s *Sweeper) {
		s.observer = o
	}
}

// New creates a Sweeper. It fails if the schedule does not parse.
func New(opts ...Option) (*Sweeper, error) {
	s := &Sweeper{
		schedule: DefaultSchedule,
		timeout:  time.Minute,
		logger:   logging.NewNop(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	return s, nil
}

// Add registers a store under a name used in logs and metrics.
func (s *Sweeper) Add(name string, store ports.Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = append(s.targets, target{name: name, store: store})
}

// RunOnce sweeps every registered store concurrently and returns the
// failures joined together.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	s.mu.Lock()
	targets := append([]target(nil), s.targets...)
	s.mu.Unlock()

	errs := make([]error, len(targets))
	var g errgroup.Group
	for i, t := range targets {
		g.Go(func() error {
			errs[i] = s.sweep(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (s *Sweeper) sweep(ctx context.Context, t target) error {
	deleter, ok := t.store.(ports.ExpiredDeleter)
	if !ok {
		s.observer.SweepCompleted(t.name, ResultSkipped)
		return nil
	}

	start := time.Now()
	err := deleter.DeleteExpired(ctx)
	switch {
	case errors.Is(err, ports.ErrNotSupported):
		s.observer.SweepCompleted(t.name, ResultSkipped)
		return nil
	case err != nil:
		s.observer.SweepCompleted(t.name, ResultError)
		s.logger.Error("Session sweep failed", "store", t.name, "err", err)
		return fmt.Errorf("sweep %s: %w", t.name, err)
	}
	s.observer.SweepCompleted(t.name, ResultOK)
	s.logger.Debug("Session sweep done", "store", t.name, "took", time.Since(start))
	return nil
}

// Start schedules RunOnce. Each run gets its own timeout derived from ctx.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("sweeper already started")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(s.schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		_ = s.RunOnce(runCtx)
	})
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("Session sweeper started", "schedule", s.schedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}
