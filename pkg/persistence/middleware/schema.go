package middleware

import (
	"context"

	"github.com/aretw0/stash/pkg/domain"
	"github.com/aretw0/stash/pkg/ports"
	"github.com/aretw0/stash/pkg/schema"
)

type schemaMiddleware struct {
	passthrough
	schema schema.Schema
}

// NewSchemaMiddleware rejects writes whose declared fields do not match s.
// Failures are serde errors wrapping schema.ErrInvalid. Loads are not checked.
func NewSchemaMiddleware(s schema.Schema) Middleware {
	return func(next ports.Store) ports.Store {
		if len(s) == 0 {
			return next
		}
		return &schemaMiddleware{passthrough: passthrough{next: next}, schema: s}
	}
}

func (m *schemaMiddleware) Create(ctx context.Context, rec *domain.Record) error {
	if err := schema.Validate(m.schema, rec); err != nil {
		return domain.SerdeError("create", err)
	}
	return m.next.Create(ctx, rec)
}

func (m *schemaMiddleware) Save(ctx context.Context, rec *domain.Record) error {
	if err := rec.ID.Validate(); err != nil {
		return err
	}
	if err := schema.Validate(m.schema, rec); err != nil {
		return domain.SerdeError("save", err)
	}
	return m.next.Save(ctx, rec)
}

func (m *schemaMiddleware) Load(ctx context.Context, id domain.ID) (*domain.Record, error) {
	return m.next.Load(ctx, id)
}
