package ports

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/stash/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreFactory returns an empty store for one contract subtest.
type StoreFactory func(t *testing.T) Store

// RunStoreContract runs a suite of tests to verify that a Store implementation
// adheres to the defined interface contract. Each subtest gets a fresh store.
func RunStoreContract(t *testing.T, newStore StoreFactory) {
	ctx := context.Background()
	future := func() domain.Expiry { return domain.ExpiresAt(time.Now().Add(time.Hour)) }

	t.Run("Save and Load", func(t *testing.T) {
		store := newStore(t)

		rec := domain.NewRecord("contract-save", future())
		require.NoError(t, rec.Set("foo", "bar"))
		require.NoError(t, rec.Set("count", 42))

		require.NoError(t, store.Save(ctx, rec), "Save should not return error")

		loaded, err := store.Load(ctx, rec.ID)
		require.NoError(t, err, "Load should not return error")
		assertSameRecord(t, rec, loaded)

		var count int
		_, err = loaded.Get("count", &count)
		require.NoError(t, err)
		assert.Equal(t, 42, count, "integers keep their type across a round trip")
	})

	t.Run("Save Replaces Whole Record", func(t *testing.T) {
		store := newStore(t)

		rec := domain.NewRecord("contract-upsert", domain.NoExpiry())
		require.NoError(t, rec.Set("a", 1))
		require.NoError(t, rec.Set("b", 2))
		require.NoError(t, store.Save(ctx, rec))

		next := domain.NewRecord(rec.ID, future())
		require.NoError(t, next.Set("b", 3))
		require.NoError(t, store.Save(ctx, next))

		loaded, err := store.Load(ctx, rec.ID)
		require.NoError(t, err)
		assertSameRecord(t, next, loaded)
		assert.False(t, loaded.Has("a"), "keys absent from the new record must be gone")
	})

	t.Run("Load Returns A Copy", func(t *testing.T) {
		store := newStore(t)

		rec := domain.NewRecord("contract-copy", domain.NoExpiry())
		require.NoError(t, rec.Set("k", "v"))
		require.NoError(t, store.Save(ctx, rec))

		loaded, err := store.Load(ctx, rec.ID)
		require.NoError(t, err)
		require.NoError(t, loaded.Set("k", "mutated"))
		require.NoError(t, rec.Set("k", "mutated too"))

		again, err := store.Load(ctx, rec.ID)
		require.NoError(t, err)
		var v string
		_, err = again.Get("k", &v)
		require.NoError(t, err)
		assert.Equal(t, "v", v)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		store := newStore(t)

		_, err := store.Load(ctx, "contract-missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Load Expired", func(t *testing.T) {
		store := newStore(t)

		rec := domain.NewRecord("contract-expired", domain.ExpiresAt(time.Now().Add(-time.Second)))
		require.NoError(t, rec.Set("k", "v"))
		require.NoError(t, store.Save(ctx, rec))

		_, err := store.Load(ctx, rec.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound, "an expired record is never returned")
	})

	t.Run("Epoch Is Not No-Expiry", func(t *testing.T) {
		store := newStore(t)

		epoch := domain.NewRecord("contract-epoch", domain.ExpiresAt(time.Unix(0, 0)))
		require.NoError(t, store.Save(ctx, epoch))
		_, err := store.Load(ctx, epoch.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		forever := domain.NewRecord("contract-forever", domain.NoExpiry())
		require.NoError(t, store.Save(ctx, forever))
		loaded, err := store.Load(ctx, forever.ID)
		require.NoError(t, err)
		assert.False(t, loaded.Expiry.IsSet())
	})

	t.Run("Delete", func(t *testing.T) {
		store := newStore(t)

		rec := domain.NewRecord("contract-delete", domain.NoExpiry())
		require.NoError(t, store.Save(ctx, rec))

		require.NoError(t, store.Delete(ctx, rec.ID), "Delete should not return error")

		_, err := store.Load(ctx, rec.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound, "Load after Delete should return ErrNotFound")
	})

	t.Run("Delete Is Idempotent", func(t *testing.T) {
		store := newStore(t)

		assert.NoError(t, store.Delete(ctx, "contract-never-created"))

		rec := domain.NewRecord("contract-twice", domain.NoExpiry())
		require.NoError(t, store.Save(ctx, rec))
		assert.NoError(t, store.Delete(ctx, rec.ID))
		assert.NoError(t, store.Delete(ctx, rec.ID))
	})

	t.Run("Create Generates ID", func(t *testing.T) {
		store := newStore(t)

		rec := domain.NewRecord("", future())
		require.NoError(t, rec.Set("k", "v"))
		require.NoError(t, store.Create(ctx, rec))
		require.NotEmpty(t, rec.ID)

		loaded, err := store.Load(ctx, rec.ID)
		require.NoError(t, err)
		assertSameRecord(t, rec, loaded)
	})

	t.Run("Create Regenerates Taken ID", func(t *testing.T) {
		store := newStore(t)

		taken := domain.NewRecord("contract-taken", domain.NoExpiry())
		require.NoError(t, taken.Set("owner", "first"))
		require.NoError(t, store.Save(ctx, taken))

		rec := domain.NewRecord(taken.ID, domain.NoExpiry())
		require.NoError(t, rec.Set("owner", "second"))
		require.NoError(t, store.Create(ctx, rec))
		assert.NotEqual(t, taken.ID, rec.ID, "Create must not overwrite a live record")

		first, err := store.Load(ctx, taken.ID)
		require.NoError(t, err)
		assertSameRecord(t, taken, first)

		second, err := store.Load(ctx, rec.ID)
		require.NoError(t, err)
		assertSameRecord(t, rec, second)
	})

	t.Run("Invalid ID", func(t *testing.T) {
		store := newStore(t)

		_, err := store.Load(ctx, "../escape")
		assert.ErrorIs(t, err, domain.ErrInvalidID)
		assert.ErrorIs(t, store.Save(ctx, domain.NewRecord("", domain.NoExpiry())), domain.ErrInvalidID)
		assert.ErrorIs(t, store.Delete(ctx, "a b"), domain.ErrInvalidID)
	})

	t.Run("Opaque Values Survive", func(t *testing.T) {
		store := newStore(t)

		rec := domain.NewRecord("contract-opaque", domain.NoExpiry())
		// A CBOR tag the application never registered.
		rec.Data["tagged"] = domain.RawValue{0xd8, 0x64, 0x63, 'a', 'b', 'c'}
		require.NoError(t, store.Save(ctx, rec))

		loaded, err := store.Load(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.Data["tagged"], loaded.Data["tagged"])
	})

	t.Run("Delete Expired", func(t *testing.T) {
		store := newStore(t)
		deleter, ok := store.(ExpiredDeleter)
		if !ok {
			t.Skip("store does not purge eagerly")
		}

		live := domain.NewRecord("contract-live", future())
		dead := domain.NewRecord("contract-dead", domain.ExpiresAt(time.Now().Add(-time.Minute)))
		require.NoError(t, store.Save(ctx, live))
		require.NoError(t, store.Save(ctx, dead))

		err := deleter.DeleteExpired(ctx)
		if errors.Is(err, ErrNotSupported) {
			t.Skip("wrapped store does not purge eagerly")
		}
		require.NoError(t, err)

		_, err = store.Load(ctx, live.ID)
		assert.NoError(t, err)
		_, err = store.Load(ctx, dead.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("List", func(t *testing.T) {
		store := newStore(t)
		lister, ok := store.(Lister)
		if !ok {
			t.Skip("store cannot enumerate sessions")
		}

		ids := []domain.ID{"contract-list-1", "contract-list-2"}
		for _, id := range ids {
			require.NoError(t, store.Save(ctx, domain.NewRecord(id, future())))
		}
		require.NoError(t, store.Save(ctx, domain.NewRecord("contract-list-gone", domain.ExpiresAt(time.Unix(1, 0)))))

		listed, err := lister.List(ctx)
		if errors.Is(err, ErrNotSupported) {
			t.Skip("wrapped store cannot enumerate sessions")
		}
		require.NoError(t, err)
		assert.ElementsMatch(t, ids, listed)
	})

	t.Run("Cancelled Context", func(t *testing.T) {
		store := newStore(t)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := store.Load(cctx, "contract-cancelled")
		if err == nil || errors.Is(err, domain.ErrNotFound) {
			// In-process stores may complete without consulting ctx.
			return
		}
		assert.ErrorIs(t, err, domain.ErrIO)
	})
}

func assertSameRecord(t *testing.T, want, got *domain.Record) {
	t.Helper()
	require.NotNil(t, got)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, len(want.Data), len(got.Data))
	for k, v := range want.Data {
		assert.Equal(t, []byte(v), []byte(got.Data[k]), "value of %q", k)
	}
	assert.True(t, want.Expiry.Equal(got.Expiry), "expiry: want %s, got %s", want.Expiry, got.Expiry)
}
