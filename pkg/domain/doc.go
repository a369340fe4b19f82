/*
Package domain contains the core session model shared by every store.

It defines what a session is, independent of where it lives. Nothing in this package
performs I/O; persistence belongs to the adapters behind the ports package.

# Key Entities

  - ID: An opaque, unpredictable, URL-safe session identifier.
  - Record: The unit every store manipulates (ID, opaque data map, expiry).
  - Expiry: An absolute point in time, or "no expiry" for session-only records.
  - StoreError: The error taxonomy (Io, Serde, IdExhaustion) surfaced by stores.
*/
package domain
