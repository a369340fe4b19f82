package schema

import (
	"sort"

	"github.com/aretw0/stash/pkg/domain"
)

// Field is one declared session field.
type Field struct {
	Type     Type
	Optional bool
}

// Schema maps field names to their declared types.
type Schema map[string]Field

// Validate checks every declared field of rec. All failures are reported
// together, sorted by field name.
func Validate(s Schema, rec *domain.Record) error {
	if len(s) == 0 {
		return nil
	}

	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		field := s[name]
		raw, ok := rec.Data[name]
		if !ok {
			if !field.Optional {
				errs = append(errs, &ValidationError{Key: name, Reason: "required"})
			}
			continue
		}

		var value any
		if err := domain.DecodeValue(raw, &value); err != nil {
			errs = append(errs, &ValidationError{Key: name, Reason: "undecodable value"})
			continue
		}
		if err := field.Type.Validate(value); err != nil {
			errs = append(errs, &ValidationError{Key: name, Reason: err.Error(), Value: value})
		}
	}

	if len(errs) > 0 {
		return &AggregateError{Errors: errs}
	}
	return nil
}
