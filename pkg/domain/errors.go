package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Load when a session is absent or logically expired.
// It is the absence signal of the store contract, not a failure kind.
var ErrNotFound = errors.New("session not found")

// ErrInvalidID is returned when an ID cannot be used as a lookup key.
var ErrInvalidID = errors.New("invalid session id")

// ErrFieldTypeMismatch is returned when a stored value cannot be decoded into the
// type requested by the application. It is never silently defaulted.
var ErrFieldTypeMismatch = errors.New("session field type mismatch")

// Kind classifies store failures so callers can pick a retry policy.
type Kind uint8

const (
	// KindIO means the backend was unreachable or timed out. Retry later.
	KindIO Kind = iota + 1
	// KindSerde means an envelope could not be encoded or decoded. Do not retry blindly.
	KindSerde
	// KindIDExhaustion means create could not find a free ID. Usually misconfiguration.
	KindIDExhaustion
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindSerde:
		return "serde"
	case KindIDExhaustion:
		return "id_exhaustion"
	default:
		return "unknown"
	}
}

// Sentinels matching any StoreError of the corresponding kind via errors.Is.
var (
	ErrIO           = &StoreError{Kind: KindIO}
	ErrSerde        = &StoreError{Kind: KindSerde}
	ErrIDExhaustion = &StoreError{Kind: KindIDExhaustion}
)

// StoreError is the error surfaced by every store for backend or codec failures.
type StoreError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return "session store: " + e.Kind.String()
	case e.Err == nil:
		return fmt.Sprintf("session store: %s: %s", e.Op, e.Kind)
	case e.Op == "":
		return fmt.Sprintf("session store: %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("session store: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is matches another StoreError of the same kind, so the package sentinels
// work with errors.Is regardless of Op and Err.
func (e *StoreError) Is(target error) bool {
	var t *StoreError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// IOError wraps a transport failure.
func IOError(op string, err error) error {
	return &StoreError{Kind: KindIO, Op: op, Err: err}
}

// SerdeError wraps an encode or decode failure.
func SerdeError(op string, err error) error {
	return &StoreError{Kind: KindSerde, Op: op, Err: err}
}

// IDExhaustionError reports that attempts ran out while looking for a free ID.
func IDExhaustionError(op string, attempts int) error {
	return &StoreError{Kind: KindIDExhaustion, Op: op, Err: fmt.Errorf("no free id after %d attempts", attempts)}
}

// KindOf returns the kind of a StoreError in err's chain, or 0.
func KindOf(err error) Kind {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}
