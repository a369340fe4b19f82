package caching_test

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/aretw0/stash/pkg/domain"
	"github.com/aretw0/stash/pkg/ports"
)

// instrumented wraps a store, counting calls and injecting failures.
type instrumented struct {
	ports.Store

	loads   atomic.Int64
	saves   atomic.Int64
	creates atomic.Int64

	mu        sync.Mutex
	loadErr   error
	saveErr   error
	deleteErr error
	panicLoad bool

	// When set, Load blocks on the gate (or ctx) after reading the inner
	// store, and entered receives one value per Load that reached the gate.
	gate    chan struct{}
	entered chan struct{}
}

func instrument(inner ports.Store) *instrumented {
	return &instrumented{Store: inner}
}

func (s *instrumented) failLoad(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadErr = err
}

func (s *instrumented) failSave(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

func (s *instrumented) failDelete(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteErr = err
}

func (s *instrumented) hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	s.entered = make(chan struct{}, 64)
}

func (s *instrumented) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.gate)
}

func (s *instrumented) Load(ctx context.Context, id domain.ID) (*domain.Record, error) {
	s.loads.Add(1)
	s.mu.Lock()
	loadErr, gate, entered, panicLoad := s.loadErr, s.gate, s.entered, s.panicLoad
	s.mu.Unlock()

	if panicLoad {
		panic("backing exploded")
	}
	if loadErr != nil {
		return nil, loadErr
	}
	rec, err := s.Store.Load(ctx, id)
	if gate != nil {
		entered <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, domain.IOError("load", ctx.Err())
		}
	}
	return rec, err
}

func (s *instrumented) Save(ctx context.Context, rec *domain.Record) error {
	s.saves.Add(1)
	s.mu.Lock()
	saveErr := s.saveErr
	s.mu.Unlock()
	if saveErr != nil {
		return saveErr
	}
	return s.Store.Save(ctx, rec)
}

func (s *instrumented) Create(ctx context.Context, rec *domain.Record) error {
	s.creates.Add(1)
	return s.Store.Create(ctx, rec)
}

func (s *instrumented) Delete(ctx context.Context, id domain.ID) error {
	s.mu.Lock()
	deleteErr := s.deleteErr
	s.mu.Unlock()
	if deleteErr != nil {
		return deleteErr
	}
	return s.Store.Delete(ctx, id)
}

// counter is an Observer recording every event.
type counter struct {
	hits      atomic.Int64
	misses    atomic.Int64
	backing   atomic.Int64
	coalesced atomic.Int64
	errors    atomic.Int64

	mu  sync.Mutex
	ops []string
}

func (c *counter) CacheHit()      { c.hits.Add(1) }
func (c *counter) CacheMiss()     { c.misses.Add(1) }
func (c *counter) BackingLoad()   { c.backing.Add(1) }
func (c *counter) CoalescedWait() { c.coalesced.Add(1) }

func (c *counter) CacheError(op string, err error) {
	c.errors.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = append(c.ops, op)
}

func (c *counter) errorOps() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ops...)
}
