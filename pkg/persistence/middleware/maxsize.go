package middleware

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/stash/pkg/codec"
	"github.com/aretw0/stash/pkg/domain"
	"github.com/aretw0/stash/pkg/ports"
)

// ErrRecordTooLarge is wrapped in a serde error when an encoded record exceeds the limit.
var ErrRecordTooLarge = errors.New("session record too large")

type maxSizeMiddleware struct {
	passthrough
	limit int
}

// NewMaxSizeMiddleware rejects writes whose encoded envelope is larger than limit bytes.
// A limit of zero or less disables the check.
func NewMaxSizeMiddleware(limit int) Middleware {
	return func(next ports.Store) ports.Store {
		if limit <= 0 {
			return next
		}
		return &maxSizeMiddleware{passthrough: passthrough{next: next}, limit: limit}
	}
}

func (m *maxSizeMiddleware) Create(ctx context.Context, rec *domain.Record) error {
	if err := m.check("create", rec); err != nil {
		return err
	}
	return m.next.Create(ctx, rec)
}

func (m *maxSizeMiddleware) Save(ctx context.Context, rec *domain.Record) error {
	if err := m.check("save", rec); err != nil {
		return err
	}
	return m.next.Save(ctx, rec)
}

func (m *maxSizeMiddleware) Load(ctx context.Context, id domain.ID) (*domain.Record, error) {
	return m.next.Load(ctx, id)
}

func (m *maxSizeMiddleware) check(op string, rec *domain.Record) error {
	b, err := codec.Encode(rec)
	if err != nil {
		return domain.SerdeError(op, err)
	}
	if len(b) > m.limit {
		return domain.SerdeError(op, fmt.Errorf("%w: %d bytes, limit %d", ErrRecordTooLarge, len(b), m.limit))
	}
	return nil
}
