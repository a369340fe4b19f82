package ports

import (
	"context"

	"github.com/aretw0/stash/pkg/domain"
)

// Touch moves the expiry of a stored session, keeping its data.
// Returns domain.ErrNotFound if the session is absent or already expired.
// The load and save are not atomic; callers needing that serialize through
// the session manager.
func Touch(ctx context.Context, store Store, id domain.ID, expiry domain.Expiry) (*domain.Record, error) {
	rec, err := store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.Expiry = expiry
	if err := store.Save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
