package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
	"unicode/utf8"

	"github.com/aretw0/stash/pkg/domain"
	"github.com/fxamacker/cbor/v2"
)

const (
	// VersionV1 stores the expiry as whole unix seconds.
	VersionV1 uint8 = 1
	// VersionV2 adds nanoseconds to the expiry.
	VersionV2 uint8 = 2
	// CurrentVersion is the version written by Encode.
	CurrentVersion = VersionV2
)

const (
	expiryNone uint8 = 0
	expirySet  uint8 = 1
)

var (
	// ErrCorruptEnvelope is reported for truncated, malformed or version 0 envelopes.
	ErrCorruptEnvelope = errors.New("corrupt session envelope")
	// ErrUnsupportedVersion is reported for envelopes newer than this codec understands.
	ErrUnsupportedVersion = errors.New("unsupported session envelope version")
	// ErrDataTooLarge is reported when the data map does not fit the length prefix.
	ErrDataTooLarge = errors.New("session data too large for envelope")
	// ErrInvalidKey is reported for data keys that are not valid UTF-8.
	ErrInvalidKey = errors.New("session data key is not valid UTF-8")
)

// DecodeError describes why an envelope was rejected.
// errors.Is matches both the sentinel (Err) and the underlying cause.
type DecodeError struct {
	Reason  string
	Version uint8
	Err     error
	Cause   error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("decode envelope v%d: %s", e.Version, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func corrupt(version uint8, reason string, cause error) error {
	return &DecodeError{Reason: reason, Version: version, Err: ErrCorruptEnvelope, Cause: cause}
}

var (
	dataEncMode cbor.EncMode
	dataDecMode cbor.DecMode
)

func init() {
	var err error
	dataEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: cbor enc mode: %v", err))
	}
	dataDecMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: cbor dec mode: %v", err))
	}
}

// Encode serializes rec into the current envelope version.
// The ID is not part of the envelope: it is the lookup key of every backend.
func Encode(rec *domain.Record) ([]byte, error) {
	return EncodeVersion(rec, CurrentVersion)
}

// EncodeVersion serializes rec into a specific envelope version.
// Writing an older version truncates the expiry to what that version can hold.
func EncodeVersion(rec *domain.Record, version uint8) ([]byte, error) {
	if version != VersionV1 && version != VersionV2 {
		return nil, fmt.Errorf("encode envelope: %w: %d", ErrUnsupportedVersion, version)
	}

	fields := make(map[string][]byte, len(rec.Data))
	for k, v := range rec.Data {
		// Decode requires UTF-8 text keys; reject here so a written envelope always reads back.
		if !utf8.ValidString(k) {
			return nil, fmt.Errorf("encode envelope: %w: %q", ErrInvalidKey, k)
		}
		fields[k] = v
	}
	data, err := dataEncMode.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode envelope data: %w", err)
	}
	if uint64(len(data)) > math.MaxUint32 {
		return nil, fmt.Errorf("encode envelope: %w (%d bytes)", ErrDataTooLarge, len(data))
	}

	var buf bytes.Buffer
	buf.Grow(1 + 4 + len(data) + 1 + 12)
	buf.WriteByte(version)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(data)))
	buf.Write(data)

	at, ok := rec.Expiry.Time()
	if !ok {
		buf.WriteByte(expiryNone)
		return buf.Bytes(), nil
	}
	buf.WriteByte(expirySet)
	_ = binary.Write(&buf, binary.BigEndian, at.Unix())
	if version >= VersionV2 {
		_ = binary.Write(&buf, binary.BigEndian, uint32(at.Nanosecond()))
	}
	return buf.Bytes(), nil
}

// Decode parses an envelope of any supported version.
// The returned record has no ID; the caller sets it from the lookup key.
func Decode(b []byte) (*domain.Record, error) {
	reader := bytes.NewReader(b)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, corrupt(0, "empty envelope", nil)
	}
	switch {
	case version == 0:
		return nil, corrupt(version, "version byte is zero", nil)
	case version > CurrentVersion:
		return nil, &DecodeError{Reason: "version not supported", Version: version, Err: ErrUnsupportedVersion}
	}

	var dataLen uint32
	if err := binary.Read(reader, binary.BigEndian, &dataLen); err != nil {
		return nil, corrupt(version, "truncated data length", err)
	}
	if int64(dataLen) > int64(reader.Len()) {
		return nil, corrupt(version, "data length exceeds envelope", nil)
	}
	data := make([]byte, dataLen)
	if _, err := io.ReadFull(reader, data); err != nil {
		return nil, corrupt(version, "truncated data", err)
	}

	var fields map[string][]byte
	if err := dataDecMode.Unmarshal(data, &fields); err != nil {
		return nil, corrupt(version, "malformed data map", err)
	}

	rec := &domain.Record{Data: make(map[string]domain.RawValue, len(fields))}
	for k, v := range fields {
		rec.Data[k] = domain.RawValue(v)
	}

	flag, err := reader.ReadByte()
	if err != nil {
		return nil, corrupt(version, "missing expiry flag", nil)
	}
	switch flag {
	case expiryNone:
		rec.Expiry = domain.NoExpiry()
	case expirySet:
		var sec int64
		if err := binary.Read(reader, binary.BigEndian, &sec); err != nil {
			return nil, corrupt(version, "truncated expiry", err)
		}
		var nsec uint32
		if version >= VersionV2 {
			if err := binary.Read(reader, binary.BigEndian, &nsec); err != nil {
				return nil, corrupt(version, "truncated expiry nanoseconds", err)
			}
			if nsec >= uint32(time.Second) {
				return nil, corrupt(version, fmt.Sprintf("expiry nanoseconds out of range (%d)", nsec), nil)
			}
		}
		rec.Expiry = domain.ExpiresAt(time.Unix(sec, int64(nsec)).UTC())
	default:
		return nil, corrupt(version, fmt.Sprintf("unknown expiry flag %d", flag), nil)
	}

	if reader.Len() != 0 {
		return nil, corrupt(version, fmt.Sprintf("%d trailing bytes", reader.Len()), nil)
	}
	return rec, nil
}

// DecodeFor decodes b and stamps the record with id.
func DecodeFor(id domain.ID, b []byte) (*domain.Record, error) {
	rec, err := Decode(b)
	if err != nil {
		return nil, err
	}
	rec.ID = id
	return rec, nil
}

// Version returns the version byte of an envelope without decoding it.
func Version(b []byte) (uint8, error) {
	if len(b) == 0 {
		return 0, corrupt(0, "empty envelope", nil)
	}
	return b[0], nil
}
