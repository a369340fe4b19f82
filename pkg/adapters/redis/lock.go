package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/stash/pkg/ports"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

var (
	// ErrLockAcquire is returned when the lock cannot be acquired.
	ErrLockAcquire = errors.New("failed to acquire distributed lock")

	errLockHeld = errors.New("lock held by another owner")
)

// unlockScript deletes the lock only if we still own it.
var unlockScript = backend.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Locker implements ports.DistributedLocker using Redis.
type Locker struct {
	client backend.UniversalClient
	prefix string

	initialInterval time.Duration
	maxInterval     time.Duration
}

// LockerOption configures a Locker.
type LockerOption func(*Locker)

// WithPollInterval sets the initial and maximum wait between acquisition attempts.
func WithPollInterval(initial, max time.Duration) LockerOption {
	return func(l *Locker) {
		l.initialInterval = initial
		l.maxInterval = max
	}
}

// NewLocker creates a new Redis locker.
func NewLocker(client backend.UniversalClient, prefix string, opts ...LockerOption) *Locker {
	l := &Locker{
		client:          client,
		prefix:          prefix,
		initialInterval: 20 * time.Millisecond,
		maxInterval:     250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Locker) lockKey(key string) string {
	return l.prefix + "lock:" + key
}

// Lock acquires a distributed lock for the given key using Redis SET NX PX.
// It polls with exponential backoff until the lock is free or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	lockKey := l.lockKey(key)
	token := uuid.NewString()

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = l.initialInterval
	expBackoff.MaxInterval = l.maxInterval
	expBackoff.Reset()

	_, err := backoff.Retry(ctx, func() (bool, error) {
		ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			return false, backoff.Permanent(fmt.Errorf("redis error acquiring lock: %w", err))
		}
		if !ok {
			return false, errLockHeld
		}
		return true, nil
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrLockAcquire, err)
	}

	return func(ctx context.Context) error {
		return unlockScript.Run(ctx, l.client, []string{lockKey}, token).Err()
	}, nil
}
