package domain

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// IDBytes is the amount of randomness in a generated session ID (128 bits).
const IDBytes = 16

// MaxIDLength bounds the length of IDs accepted by stores.
const MaxIDLength = 128

// ID identifies a session. Equality is byte equality.
type ID string

// String returns the ID as a plain string.
func (id ID) String() string {
	return string(id)
}

// Validate reports whether the ID can be used as a lookup key.
// IDs must be non-empty and restricted to the URL-safe base64 alphabet so they are
// safe as Redis keys, SQL values and file names alike.
func (id ID) Validate() error {
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidID)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%w: id longer than %d bytes", ErrInvalidID, MaxIDLength)
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return fmt.Errorf("%w: unexpected character %q", ErrInvalidID, c)
		}
	}
	return nil
}

// IDGenerator produces fresh session identifiers.
// Implementations must be unpredictable: an ID must never be derivable from prior IDs.
type IDGenerator interface {
	NewID() (ID, error)
}

// IDGeneratorFunc adapts a function to the IDGenerator interface.
type IDGeneratorFunc func() (ID, error)

// NewID calls f.
func (f IDGeneratorFunc) NewID() (ID, error) {
	return f()
}

// RandomIDs is the default generator: 128 bits from crypto/rand, base64url encoded
// without padding (22 characters).
var RandomIDs IDGenerator = IDGeneratorFunc(NewRandomID)

// NewRandomID returns a fresh ID from crypto/rand.
func NewRandomID() (ID, error) {
	var b [IDBytes]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to read random id: %w", err)
	}
	return ID(base64.RawURLEncoding.EncodeToString(b[:])), nil
}
