package middleware

import (
	"context"

	"github.com/aretw0/stash/pkg/domain"
	"github.com/aretw0/stash/pkg/persistence/caching"
	"github.com/aretw0/stash/pkg/ports"
)

// Middleware allows wrapping a Store to add behavior.
type Middleware func(ports.Store) ports.Store

// Chain wraps store with mws. The first middleware is the outermost one,
// so Chain(s, a, b) serves calls through a, then b, then s.
func Chain(store ports.Store, mws ...Middleware) ports.Store {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}

// WithCache puts a read-through cache tier in front of the wrapped store.
// Only lossless middlewares (encryption) may sit below it; anything that
// rewrites or rejects records belongs above it, or the cache would serve
// records the backing store never holds.
func WithCache(cache ports.Store, opts ...caching.Option) Middleware {
	return func(next ports.Store) ports.Store {
		return caching.New(cache, next, opts...)
	}
}

// passthrough forwards the optional capabilities of the wrapped store.
type passthrough struct {
	next ports.Store
}

func (p passthrough) Delete(ctx context.Context, id domain.ID) error {
	return p.next.Delete(ctx, id)
}

// DeleteExpired returns ports.ErrNotSupported when the wrapped store cannot purge.
func (p passthrough) DeleteExpired(ctx context.Context) error {
	deleter, ok := p.next.(ports.ExpiredDeleter)
	if !ok {
		return ports.ErrNotSupported
	}
	return deleter.DeleteExpired(ctx)
}

// List returns ports.ErrNotSupported when the wrapped store cannot enumerate.
func (p passthrough) List(ctx context.Context) ([]domain.ID, error) {
	lister, ok := p.next.(ports.Lister)
	if !ok {
		return nil, ports.ErrNotSupported
	}
	return lister.List(ctx)
}
