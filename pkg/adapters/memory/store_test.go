package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/stash/pkg/adapters/memory"
	"github.com/aretw0/stash/pkg/domain"
	"github.com/aretw0/stash/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	ports.RunStoreContract(t, func(t *testing.T) ports.Store {
		return memory.New()
	})
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestMemoryStore_CounterScenario(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.New(memory.WithNow(clk.Now))
	expiry := domain.ExpiresIn(clk.now, 10*time.Second)

	rec := domain.NewRecord("abc", expiry)
	require.NoError(t, rec.Set("counter", 0))
	require.NoError(t, store.Save(ctx, rec))

	loaded, err := store.Load(ctx, "abc")
	require.NoError(t, err)
	var counter int
	_, err = loaded.Get("counter", &counter)
	require.NoError(t, err)
	assert.Equal(t, 0, counter)

	require.NoError(t, loaded.Set("counter", 1))
	require.NoError(t, store.Save(ctx, loaded))

	loaded, err = store.Load(ctx, "abc")
	require.NoError(t, err)
	_, err = loaded.Get("counter", &counter)
	require.NoError(t, err)
	assert.Equal(t, 1, counter)

	clk.Advance(10*time.Second + time.Nanosecond)
	_, err = store.Load(ctx, "abc")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStore_MaxTTL(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Unix(1_000, 0)}
	store := memory.New(memory.WithNow(clk.Now), memory.WithMaxTTL(time.Minute))

	require.NoError(t, store.Save(ctx, domain.NewRecord("forever", domain.NoExpiry())))
	require.NoError(t, store.Save(ctx, domain.NewRecord("short", domain.ExpiresIn(clk.now, time.Second))))

	clk.Advance(2 * time.Second)
	_, err := store.Load(ctx, "short")
	assert.ErrorIs(t, err, domain.ErrNotFound, "record expiry applies below the cap")

	loaded, err := store.Load(ctx, "forever")
	require.NoError(t, err)
	assert.False(t, loaded.Expiry.IsSet(), "the cap bounds the entry, not the record")

	clk.Advance(time.Minute)
	_, err = store.Load(ctx, "forever")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStore_CreateReusesExpiredID(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Unix(1_000, 0)}
	store := memory.New(memory.WithNow(clk.Now))

	require.NoError(t, store.Save(ctx, domain.NewRecord("abc", domain.ExpiresIn(clk.now, time.Second))))
	clk.Advance(time.Hour)

	rec := domain.NewRecord("abc", domain.NoExpiry())
	require.NoError(t, store.Create(ctx, rec))
	assert.Equal(t, domain.ID("abc"), rec.ID)
}

func TestMemoryStore_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Unix(1_000, 0)}
	store := memory.New(memory.WithNow(clk.Now))

	require.NoError(t, store.Save(ctx, domain.NewRecord("a", domain.ExpiresIn(clk.now, time.Second))))
	require.NoError(t, store.Save(ctx, domain.NewRecord("b", domain.ExpiresIn(clk.now, time.Hour))))
	require.NoError(t, store.Save(ctx, domain.NewRecord("c", domain.NoExpiry())))
	require.Equal(t, 3, store.Len())

	clk.Advance(time.Minute)
	require.NoError(t, store.DeleteExpired(ctx))
	assert.Equal(t, 2, store.Len())

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.ID{"b", "c"}, ids)
}
