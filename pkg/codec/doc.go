// Package codec converts session records to and from the versioned binary
// envelope stored by every backend.
//
// # Envelope layout
//
// All integers are big-endian:
//
//	[version u8][data length u32][data][expiry flag u8][expiry]
//
// data is a deterministic CBOR map from text keys to byte strings, one
// already-encoded value per key. The expiry flag is 0 for "no expiry" and 1
// when a deadline follows. Version 1 stores the deadline as unix seconds
// (i64). Version 2 appends the nanoseconds (u32).
//
// Encode always writes [CurrentVersion]. Decode reads every version up to
// it, so records written by older releases stay readable. Version 0 and any
// layout violation are [ErrCorruptEnvelope]; versions above the current one
// are [ErrUnsupportedVersion].
package codec
