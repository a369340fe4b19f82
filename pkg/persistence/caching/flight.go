package caching

import (
	"errors"
	"sync"

	"github.com/aretw0/stash/pkg/domain"
)

// errLoadAborted is the result of a flight whose leader panicked.
var errLoadAborted = errors.New("session load aborted")

// flight is one in-progress backing load shared by every concurrent caller
// for the same id.
type flight struct {
	done chan struct{}
	rec  *domain.Record
	err  error

	// mu orders the flight's cache population against writes that
	// supersede it.
	mu         sync.Mutex
	superseded bool
}

// flights is the in-flight map. Its mutex guards only the map itself, never
// a fetch.
type flights struct {
	mu    sync.Mutex
	calls map[domain.ID]*flight
}

func newFlights() *flights {
	return &flights{calls: make(map[domain.ID]*flight)}
}

// join returns the flight for id, starting one if none is pending.
// leader is true for the caller that started it and must finish it.
func (fs *flights) join(id domain.ID) (f *flight, leader bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if f, ok := fs.calls[id]; ok {
		return f, false
	}
	f = &flight{done: make(chan struct{}), err: errLoadAborted}
	fs.calls[id] = f
	return f, true
}

// finish removes f from the map and releases its waiters.
func (fs *flights) finish(id domain.ID, f *flight) {
	fs.mu.Lock()
	if fs.calls[id] == f {
		delete(fs.calls, id)
	}
	fs.mu.Unlock()
	close(f.done)
}

// supersede detaches the pending flight for id, if any, and marks it so it
// will not write its now stale result into the cache, then runs write.
// Callers already waiting on the flight still get its result; later loads
// start a new flight.
func (fs *flights) supersede(id domain.ID, write func()) {
	fs.mu.Lock()
	f := fs.calls[id]
	if f != nil {
		delete(fs.calls, id)
	}
	fs.mu.Unlock()

	if f != nil {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.superseded = true
	}
	write()
}

// populate runs write unless the flight was superseded.
func (f *flight) populate(write func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.superseded {
		write()
	}
}

// pending reports the number of flights in progress.
func (fs *flights) pending() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.calls)
}
