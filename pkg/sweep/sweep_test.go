package sweep_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/stash/pkg/adapters/memory"
	"github.com/aretw0/stash/pkg/domain"
	"github.com/aretw0/stash/pkg/persistence/caching"
	"github.com/aretw0/stash/pkg/persistence/middleware"
	"github.com/aretw0/stash/pkg/ports"
	"github.com/aretw0/stash/pkg/sweep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type results struct {
	mu  sync.Mutex
	got map[string][]string
}

func (r *results) SweepCompleted(store, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.got == nil {
		r.got = make(map[string][]string)
	}
	r.got[store] = append(r.got[store], result)
}

func (r *results) of(store string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got[store]...)
}

// lazyOnly hides DeleteExpired.
type lazyOnly struct{ ports.Store }

type failing struct{ ports.Store }

func (failing) DeleteExpired(context.Context) error {
	return domain.IOError("delete expired", errors.New("disk full"))
}

func seedExpired(t *testing.T, store ports.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, domain.NewRecord("live", domain.NoExpiry())))
	require.NoError(t, store.Save(ctx, domain.NewRecord("dead", domain.ExpiresAt(time.Unix(1, 0)))))
}

func TestRunOnce(t *testing.T) {
	obs := &results{}
	s, err := sweep.New(sweep.WithObserver(obs))
	require.NoError(t, err)

	purged := memory.New()
	seedExpired(t, purged)
	lazy := memory.New()
	seedExpired(t, lazy)

	s.Add("purged", purged)
	s.Add("lazy", lazyOnly{lazy})
	s.Add("wrapped-lazy", middleware.NewMaxSizeMiddleware(1024)(lazyOnly{memory.New()}))
	cachedLazy := memory.New()
	seedExpired(t, cachedLazy)
	s.Add("cached-lazy", caching.New(memory.New(), lazyOnly{cachedLazy}))

	require.NoError(t, s.RunOnce(context.Background()))

	assert.Equal(t, 1, purged.Len())
	assert.Equal(t, 2, lazy.Len(), "stores without the capability are left alone")
	assert.Equal(t, []string{sweep.ResultOK}, obs.of("purged"))
	assert.Equal(t, []string{sweep.ResultSkipped}, obs.of("lazy"))
	assert.Equal(t, []string{sweep.ResultSkipped}, obs.of("wrapped-lazy"))
	assert.Equal(t, []string{sweep.ResultSkipped}, obs.of("cached-lazy"))
	assert.Equal(t, 2, cachedLazy.Len())
}

func TestRunOnce_ReportsFailuresAndContinues(t *testing.T) {
	obs := &results{}
	s, err := sweep.New(sweep.WithObserver(obs))
	require.NoError(t, err)

	ok := memory.New()
	seedExpired(t, ok)
	s.Add("broken", failing{memory.New()})
	s.Add("ok", ok)

	err = s.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrIO)
	assert.Contains(t, err.Error(), "sweep broken")
	assert.Equal(t, 1, ok.Len(), "one failing store does not stop the others")
	assert.Equal(t, []string{sweep.ResultError}, obs.of("broken"))
}

func TestNew_InvalidSchedule(t *testing.T) {
	_, err := sweep.New(sweep.WithSchedule("every tuesday"))
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	obs := &results{}
	s, err := sweep.New(sweep.WithSchedule("@every 1s"), sweep.WithObserver(obs))
	require.NoError(t, err)

	store := memory.New()
	seedExpired(t, store)
	s.Add("memory", store)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "a second Start is rejected")

	require.Eventually(t, func() bool { return store.Len() == 1 }, 3*time.Second, 20*time.Millisecond)
	s.Stop()
	s.Stop()
	assert.NotEmpty(t, obs.of("memory"))
}
