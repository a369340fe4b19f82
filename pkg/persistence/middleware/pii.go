package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/stash/pkg/domain"
	"github.com/aretw0/stash/pkg/ports"
)

// Mask replaces the value of every key a PII pattern matches.
const Mask = "***"

type piiMiddleware struct {
	passthrough
	patterns []*regexp.Regexp
	mask     domain.RawValue
}

// NewPIIMiddleware creates a middleware that masks values of keys matching the
// patterns before they reach the wrapped store. Only top-level keys are
// inspected; values are opaque.
func NewPIIMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	mask, err := domain.EncodeValue(Mask)
	if err != nil {
		panic(err)
	}
	return func(next ports.Store) ports.Store {
		return &piiMiddleware{passthrough: passthrough{next: next}, patterns: patterns, mask: mask}
	}
}

func (m *piiMiddleware) Create(ctx context.Context, rec *domain.Record) error {
	masked := m.masked(rec)
	if err := m.next.Create(ctx, masked); err != nil {
		return err
	}
	rec.ID = masked.ID
	return nil
}

func (m *piiMiddleware) Save(ctx context.Context, rec *domain.Record) error {
	// The caller keeps its unmasked record.
	return m.next.Save(ctx, m.masked(rec))
}

func (m *piiMiddleware) Load(ctx context.Context, id domain.ID) (*domain.Record, error) {
	return m.next.Load(ctx, id)
}

func (m *piiMiddleware) masked(rec *domain.Record) *domain.Record {
	cloned := rec.Clone()
	for k := range cloned.Data {
		for _, p := range m.patterns {
			if p.MatchString(k) {
				cloned.Data[k] = m.mask.Clone()
				break
			}
		}
	}
	return cloned
}
