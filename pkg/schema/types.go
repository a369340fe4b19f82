package schema

import (
	"fmt"
	"math"
	"strings"
)

// Type checks one decoded session value.
type Type interface {
	// Name returns the type string ParseType accepts for it.
	Name() string
	// Validate checks a value as decoded from the record.
	Validate(value any) error
}

type stringType struct{}

func (stringType) Name() string { return "string" }

func (stringType) Validate(value any) error {
	if _, ok := value.(string); !ok {
		return fmt.Errorf("expected string, got %T", value)
	}
	return nil
}

type intType struct{}

func (intType) Name() string { return "int" }

// Validate accepts every integer width and floats without a fractional part,
// since a value may have been written by a JSON client.
func (intType) Validate(value any) error {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return nil
	case float64:
		if v == math.Trunc(v) {
			return nil
		}
		return fmt.Errorf("expected int, got fractional %v", v)
	}
	return fmt.Errorf("expected int, got %T", value)
}

type floatType struct{}

func (floatType) Name() string { return "float" }

func (floatType) Validate(value any) error {
	switch value.(type) {
	case float32, float64, int, int64, uint64:
		return nil
	}
	return fmt.Errorf("expected float, got %T", value)
}

type boolType struct{}

func (boolType) Name() string { return "bool" }

func (boolType) Validate(value any) error {
	if _, ok := value.(bool); !ok {
		return fmt.Errorf("expected bool, got %T", value)
	}
	return nil
}

type bytesType struct{}

func (bytesType) Name() string { return "bytes" }

func (bytesType) Validate(value any) error {
	if _, ok := value.([]byte); !ok {
		return fmt.Errorf("expected bytes, got %T", value)
	}
	return nil
}

type anyType struct{}

func (anyType) Name() string { return "any" }

func (anyType) Validate(any) error { return nil }

type sliceType struct {
	elem Type
}

func (t sliceType) Name() string {
	return "[" + t.elem.Name() + "]"
}

func (t sliceType) Validate(value any) error {
	items, ok := value.([]any)
	if !ok {
		return fmt.Errorf("expected %s, got %T", t.Name(), value)
	}
	for i, item := range items {
		if err := t.elem.Validate(item); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

type customType struct {
	name     string
	validate func(any) error
}

func (t customType) Name() string { return t.name }

func (t customType) Validate(value any) error { return t.validate(value) }

// String matches text values.
func String() Type { return stringType{} }

// Int matches integers of any width.
func Int() Type { return intType{} }

// Float matches floating point and integer values.
func Float() Type { return floatType{} }

// Bool matches booleans.
func Bool() Type { return boolType{} }

// Bytes matches byte strings.
func Bytes() Type { return bytesType{} }

// Any matches every well-formed value; it only asserts presence.
func Any() Type { return anyType{} }

// Slice matches arrays whose every element matches elem.
func Slice(elem Type) Type { return sliceType{elem: elem} }

// Custom wraps an application check under a name.
func Custom(name string, validate func(any) error) Type {
	return customType{name: name, validate: validate}
}

// ParseType parses "string", "int", "float", "bool", "bytes", "any" and
// "[T]" for arrays of T.
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		elem, err := ParseType(s[1 : len(s)-1])
		if err != nil {
			return nil, err
		}
		return Slice(elem), nil
	}
	switch s {
	case "string":
		return String(), nil
	case "int":
		return Int(), nil
	case "float":
		return Float(), nil
	case "bool":
		return Bool(), nil
	case "bytes":
		return Bytes(), nil
	case "any":
		return Any(), nil
	}
	return nil, fmt.Errorf("unknown type %q", s)
}

// ParseTypeMap builds a Schema from field names to type strings.
// A field name ending in "?" is optional.
func ParseTypeMap(types map[string]string) (Schema, error) {
	s := make(Schema, len(types))
	for name, typ := range types {
		t, err := ParseType(typ)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		field := Field{Type: t}
		if strings.HasSuffix(name, "?") {
			name = strings.TrimSuffix(name, "?")
			field.Optional = true
		}
		if name == "" {
			return nil, fmt.Errorf("empty field name")
		}
		s[name] = field
	}
	return s, nil
}
