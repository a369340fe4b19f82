/*
Package caching composes two stores into one: a fast cache tier in front of a
durable backing tier.

# Policy

  - Load: read-through. A cache hit is returned directly; a miss, or any
    cache failure, falls through to the backing tier and the result is copied
    into the cache. Absent records are not cached.
  - Create, Save, Delete: write-through. The backing tier is written first
    and its errors are returned; the cache is updated afterwards and its
    errors are logged and reported to the Observer, never returned.
  - Concurrent loads of one id that miss the cache share a single backing
    load. A write for that id keeps the pending load from populating the cache
    with what is by then a stale record.

The combinator is itself a ports.Store, so combinators nest.
*/
package caching
