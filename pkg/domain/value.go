package domain

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// RawValue is one encoded session value (a single CBOR data item).
// Stores never interpret it, so values the application does not claim survive
// a round trip byte for byte.
type RawValue []byte

var (
	valueEncMode cbor.EncMode
	valueDecMode cbor.DecMode
)

func init() {
	var err error
	valueEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("domain: cbor enc mode: %v", err))
	}
	valueDecMode, err = cbor.DecOptions{
		DupMapKey:      cbor.DupMapKeyEnforcedAPF,
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("domain: cbor dec mode: %v", err))
	}
}

// EncodeValue encodes v into a RawValue.
func EncodeValue(v any) (RawValue, error) {
	b, err := valueEncMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return RawValue(b), nil
}

// DecodeValue decodes raw into dst. Any failure to coerce the stored value into
// dst's type is reported as ErrFieldTypeMismatch.
func DecodeValue(raw RawValue, dst any) error {
	if err := valueDecMode.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrFieldTypeMismatch, err)
	}
	return nil
}

// WellFormed reports whether raw holds exactly one valid data item.
func (raw RawValue) WellFormed() error {
	return valueDecMode.Wellformed(raw)
}

// Clone returns a copy of raw.
func (raw RawValue) Clone() RawValue {
	if raw == nil {
		return nil
	}
	out := make(RawValue, len(raw))
	copy(out, raw)
	return out
}
