package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Record is the unit every store manipulates.
// Saves replace the whole record: Data and Expiry are never patched partially.
type Record struct {
	// ID is the lookup key. Create may replace it with a fresh one.
	ID ID

	// Data is the application payload, one encoded value per key.
	Data map[string]RawValue

	// Expiry is when the record becomes logically absent.
	Expiry Expiry
}

// NewRecord creates an empty record with the given ID and expiry.
func NewRecord(id ID, expiry Expiry) *Record {
	return &Record{
		ID:     id,
		Data:   make(map[string]RawValue),
		Expiry: expiry,
	}
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := &Record{
		ID:     r.ID,
		Data:   make(map[string]RawValue, len(r.Data)),
		Expiry: r.Expiry,
	}
	for k, v := range r.Data {
		out.Data[k] = v.Clone()
	}
	return out
}

// Expired reports whether the record is logically gone at now.
func (r *Record) Expired(now time.Time) bool {
	return r.Expiry.Expired(now)
}

// Set encodes v under key.
func (r *Record) Set(key string, v any) error {
	raw, err := EncodeValue(v)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	if r.Data == nil {
		r.Data = make(map[string]RawValue)
	}
	r.Data[key] = raw
	return nil
}

// Get decodes the value under key into dst. It returns false when the key is absent.
func (r *Record) Get(key string, dst any) (bool, error) {
	raw, ok := r.Data[key]
	if !ok {
		return false, nil
	}
	if err := DecodeValue(raw, dst); err != nil {
		return true, fmt.Errorf("get %q: %w", key, err)
	}
	return true, nil
}

// Has reports whether key holds a value.
func (r *Record) Has(key string) bool {
	_, ok := r.Data[key]
	return ok
}

// Remove deletes key from the record.
func (r *Record) Remove(key string) {
	delete(r.Data, key)
}

// Keys returns the keys in sorted order.
func (r *Record) Keys() []string {
	keys := make([]string, 0, len(r.Data))
	for k := range r.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Bind decodes every key claimed by dst (a struct with cbor tags, or a map).
// Keys dst does not claim are left alone.
func (r *Record) Bind(dst any) error {
	m := make(map[string]cbor.RawMessage, len(r.Data))
	for k, v := range r.Data {
		m[k] = cbor.RawMessage(v)
	}
	b, err := valueEncMode.Marshal(m)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFieldTypeMismatch, err)
	}
	return DecodeValue(b, dst)
}

// Merge encodes the fields of src (a struct or map) into the record,
// overwriting keys it shares and keeping every other key.
func (r *Record) Merge(src any) error {
	b, err := valueEncMode.Marshal(src)
	if err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	var fields map[string]cbor.RawMessage
	if err := valueDecMode.Unmarshal(b, &fields); err != nil {
		return fmt.Errorf("merge: source is not a string-keyed map: %w", err)
	}
	if r.Data == nil {
		r.Data = make(map[string]RawValue, len(fields))
	}
	for k, v := range fields {
		r.Data[k] = RawValue(v).Clone()
	}
	return nil
}
