package ports

import (
	"context"

	"github.com/aretw0/stash/pkg/domain"
)

// DefaultCreateAttempts bounds the ID-collision loop of Create.
const DefaultCreateAttempts = 8

// InsertFunc tries to insert rec only if its ID is free.
// It reports false, with a nil error, when the ID is already taken.
type InsertFunc func(ctx context.Context, rec *domain.Record) (inserted bool, err error)

// InsertWithRetry runs the bounded create loop shared by the adapters.
// An empty rec.ID is generated before the first attempt. Every collision
// draws a new ID from gen until insert succeeds or maxAttempts inserts were
// tried, in which case a KindIDExhaustion error is returned.
func InsertWithRetry(ctx context.Context, rec *domain.Record, gen domain.IDGenerator, maxAttempts int, insert InsertFunc) error {
	if gen == nil {
		gen = domain.RandomIDs
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultCreateAttempts
	}
	if rec.ID == "" {
		if err := nextID(rec, gen); err != nil {
			return err
		}
	}

	for attempt := 1; ; attempt++ {
		if err := rec.ID.Validate(); err != nil {
			return err
		}
		inserted, err := insert(ctx, rec)
		if err != nil {
			return err
		}
		if inserted {
			return nil
		}
		if attempt >= maxAttempts {
			return domain.IDExhaustionError("create", attempt)
		}
		if err := ctx.Err(); err != nil {
			return domain.IOError("create", err)
		}
		if err := nextID(rec, gen); err != nil {
			return err
		}
	}
}

func nextID(rec *domain.Record, gen domain.IDGenerator) error {
	id, err := gen.NewID()
	if err != nil {
		return domain.IOError("generate id", err)
	}
	rec.ID = id
	return nil
}
