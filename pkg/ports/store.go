package ports

import (
	"context"
	"errors"

	"github.com/aretw0/stash/pkg/domain"
)

// Store persists session records.
// Every backend adapter and the caching combinator implement it, so stores nest freely.
//
// Failures are *domain.StoreError values classified as KindIO, KindSerde or
// KindIDExhaustion. Absence is reported by Load as domain.ErrNotFound.
type Store interface {
	// Create inserts rec under a fresh ID. An empty rec.ID is generated first.
	// When the ID is taken by a live record, a new one is generated and the
	// insert retried a bounded number of times; rec.ID holds the final ID.
	Create(ctx context.Context, rec *domain.Record) error

	// Load returns the record stored under id.
	// Returns domain.ErrNotFound if the record is absent or its expiry has passed.
	Load(ctx context.Context, id domain.ID) (*domain.Record, error)

	// Save replaces the whole record stored under rec.ID, inserting it if absent.
	Save(ctx context.Context, rec *domain.Record) error

	// Delete removes the record. Deleting an absent ID succeeds.
	Delete(ctx context.Context, id domain.ID) error
}

// ExpiredDeleter is implemented by stores able to purge expired records eagerly.
// Stores without it rely on lazy expiry alone.
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context) error
}

// Lister is implemented by stores able to enumerate their live sessions.
type Lister interface {
	List(ctx context.Context) ([]domain.ID, error)
}

// ErrNotSupported is returned when a wrapper is asked for a capability its
// inner store lacks.
var ErrNotSupported = errors.New("operation not supported by store")
