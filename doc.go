/*
Package stash is a pluggable session store for Go services.

A session is a Record: an opaque string ID, a map of independently encoded
values and an optional absolute expiry. Every backend implements the same
ports.Store contract (Create, Load, Save, Delete) and may add DeleteExpired
and List. Records cross backend boundaries as a small versioned binary
envelope (see package codec), so a value the application never decodes
survives a round trip byte for byte.

# Architecture

The engine is assembled from layers that all speak ports.Store:

  - Backends: memory, file, sqlite, redis and ristretto under pkg/adapters.
  - Middlewares: encryption at rest, PII masking and size limits under
    pkg/persistence/middleware.
  - Caching: a read-through, write-through tier that coalesces concurrent
    misses for one ID (pkg/persistence/caching).
  - Sessions: a Manager that serializes read-modify-write per ID, optionally
    across processes with a distributed lock (pkg/session).
  - Sweeps: scheduled purges of expired records (pkg/sweep).

# Usage

	package main

	import (
		"context"
		"log"
		"time"

		"github.com/aretw0/stash"
		"github.com/aretw0/stash/pkg/adapters/memory"
		"github.com/aretw0/stash/pkg/adapters/sqlite"
		"github.com/aretw0/stash/pkg/domain"
	)

	func main() {
		ctx := context.Background()

		db, err := sqlite.Open(ctx, "sessions.db")
		if err != nil {
			log.Fatal(err)
		}

		s, err := stash.New(db,
			stash.WithCache(memory.New(memory.WithMaxTTL(time.Minute))),
			stash.WithCloser(db),
		)
		if err != nil {
			log.Fatal(err)
		}
		defer s.Close()

		rec, err := s.Create(ctx, map[string]any{"user": "ana"}, domain.ExpiresIn(time.Now(), time.Hour))
		if err != nil {
			log.Fatal(err)
		}
		log.Println("created", rec.ID)
	}

The stash command wires the same pieces from a YAML file and serves them over
HTTP; see cmd/stash.
*/
package stash
