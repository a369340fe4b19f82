package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/stash/pkg/adapters/sqlite"
	"github.com/aretw0/stash/pkg/codec"
	"github.com/aretw0/stash/pkg/domain"
	"github.com/aretw0/stash/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, opts ...sqlite.Option) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "sessions.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_Contract(t *testing.T) {
	ports.RunStoreContract(t, func(t *testing.T) ports.Store {
		return openStore(t)
	})
}

func TestSQLiteStore_InMemory(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(ctx, domain.NewRecord("abc", domain.NoExpiry())))
	_, err = store.Load(ctx, "abc")
	assert.NoError(t, err)
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")

	store, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	rec := domain.NewRecord("durable", domain.NoExpiry())
	require.NoError(t, rec.Set("k", "v"))
	require.NoError(t, store.Save(ctx, rec))
	require.NoError(t, store.Close())

	reopened, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Load(ctx, "durable")
	require.NoError(t, err)
	assert.Equal(t, rec.Data, loaded.Data)
}

func TestSQLiteStore_CounterScenario(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := openStore(t, sqlite.WithNow(func() time.Time { return now }))

	rec := domain.NewRecord("abc", domain.ExpiresIn(now, 10*time.Second))
	require.NoError(t, rec.Set("counter", 0))
	require.NoError(t, store.Save(ctx, rec))

	require.NoError(t, rec.Set("counter", 1))
	require.NoError(t, store.Save(ctx, rec))

	loaded, err := store.Load(ctx, "abc")
	require.NoError(t, err)
	var counter int
	_, err = loaded.Get("counter", &counter)
	require.NoError(t, err)
	assert.Equal(t, 1, counter)

	now = now.Add(10 * time.Second)
	_, err = store.Load(ctx, "abc")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLiteStore_SubMillisecondExpiry(t *testing.T) {
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	now := base
	store := openStore(t, sqlite.WithNow(func() time.Time { return now }))

	deadline := base.Add(500 * time.Microsecond)
	require.NoError(t, store.Save(ctx, domain.NewRecord("abc", domain.ExpiresAt(deadline))))

	now = base.Add(499 * time.Microsecond)
	_, err := store.Load(ctx, "abc")
	require.NoError(t, err)

	now = deadline
	_, err = store.Load(ctx, "abc")
	assert.ErrorIs(t, err, domain.ErrNotFound, "the envelope decides within a millisecond")
}

func TestSQLiteStore_CreateOverwritesExpiredRow(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	store := openStore(t, sqlite.WithNow(func() time.Time { return now }))

	require.NoError(t, store.Save(ctx, domain.NewRecord("abc", domain.ExpiresIn(now, time.Second))))
	now = now.Add(time.Minute)

	rec := domain.NewRecord("abc", domain.NoExpiry())
	require.NoError(t, rec.Set("fresh", true))
	require.NoError(t, store.Create(ctx, rec))
	assert.Equal(t, domain.ID("abc"), rec.ID)

	loaded, err := store.Load(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, loaded.Has("fresh"))
}

func TestSQLiteStore_DeleteExpiredUsesColumn(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	store := openStore(t, sqlite.WithNow(func() time.Time { return now }))

	require.NoError(t, store.Save(ctx, domain.NewRecord("old", domain.ExpiresIn(now, time.Second))))
	require.NoError(t, store.Save(ctx, domain.NewRecord("new", domain.ExpiresIn(now, time.Hour))))
	require.NoError(t, store.Save(ctx, domain.NewRecord("none", domain.NoExpiry())))

	now = now.Add(time.Minute)
	require.NoError(t, store.DeleteExpired(ctx))

	var n int
	require.NoError(t, store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestSQLiteStore_CorruptRowIsSerde(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	_, err := store.DB().ExecContext(ctx, `INSERT INTO sessions (id, data, expiry_date) VALUES ('bad', x'00', NULL)`)
	require.NoError(t, err)

	_, err = store.Load(ctx, "bad")
	assert.ErrorIs(t, err, domain.ErrSerde)
	assert.ErrorIs(t, err, codec.ErrCorruptEnvelope)
}

func TestSQLiteStore_ClosedIsIO(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	require.NoError(t, store.Close())

	_, err := store.Load(ctx, "abc")
	assert.ErrorIs(t, err, domain.ErrIO)
	assert.ErrorIs(t, store.DeleteExpired(ctx), domain.ErrIO)
}

func TestSQLiteStore_TableName(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")

	store, err := sqlite.Open(ctx, path, sqlite.WithTableName("web-sessions"))
	require.NoError(t, err)
	assert.Equal(t, "web-sessions", store.TableName())

	rec := domain.NewRecord("abc", domain.NoExpiry())
	require.NoError(t, rec.Set("k", "v"))
	require.NoError(t, store.Save(ctx, rec))
	require.NoError(t, store.Create(ctx, domain.NewRecord("def", domain.NoExpiry())))

	var n int
	require.NoError(t, store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM "web-sessions"`).Scan(&n))
	assert.Equal(t, 2, n)
	require.NoError(t, store.Close())

	store, err = sqlite.Open(ctx, path, sqlite.WithTableName("web-sessions"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, sqlite.DefaultTableName,
	).Scan(&n))
	assert.Zero(t, n)
	loaded, err := store.Load(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, rec.Data, loaded.Data)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestSQLiteStore_TableNameContract(t *testing.T) {
	ports.RunStoreContract(t, func(t *testing.T) ports.Store {
		return openStore(t, sqlite.WithTableName("tower_sessions"))
	})
}

func TestSQLiteStore_InvalidTableName(t *testing.T) {
	for _, name := range []string{"", "sessions; DROP TABLE x", `a"b`, "a.b", "naïve"} {
		_, err := sqlite.Open(context.Background(), ":memory:", sqlite.WithTableName(name))
		assert.ErrorIs(t, err, sqlite.ErrInvalidTableName, name)
	}
}
