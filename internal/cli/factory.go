package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aretw0/stash"
	"github.com/aretw0/stash/internal/config"
	"github.com/aretw0/stash/pkg/adapters/file"
	"github.com/aretw0/stash/pkg/adapters/memory"
	redisAdapter "github.com/aretw0/stash/pkg/adapters/redis"
	"github.com/aretw0/stash/pkg/adapters/ristretto"
	"github.com/aretw0/stash/pkg/adapters/sqlite"
	"github.com/aretw0/stash/pkg/observability"
	"github.com/aretw0/stash/pkg/persistence/middleware"
	"github.com/aretw0/stash/pkg/ports"
	"github.com/aretw0/stash/pkg/schema"
	"github.com/aretw0/stash/pkg/session"
	"github.com/aretw0/stash/pkg/sweep"
	backend "github.com/redis/go-redis/v9"
)

// built is one opened store plus what it needs released.
type built struct {
	store  ports.Store
	closer io.Closer
	locker ports.DistributedLocker
}

// NewStash opens the stores cfg names and composes them.
// metrics may be nil. The caller owns Close on the result.
func NewStash(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*stash.Stash, error) {
	backingStore, err := openStore(ctx, cfg.Backing, logger)
	if err != nil {
		return nil, fmt.Errorf("backing: %w", err)
	}

	opts := []stash.Option{stash.WithLogger(logger)}
	closers := []io.Closer{}
	if backingStore.closer != nil {
		closers = append(closers, backingStore.closer)
	}
	if backingStore.locker != nil {
		opts = append(opts, stash.WithLocker(backingStore.locker))
		if ttl := lockTTL(cfg.Backing); ttl > 0 {
			opts = append(opts, stash.WithSessionOptions(session.WithLockTTL(ttl)))
		}
	}

	if cfg.Cache.Type != "" && cfg.Cache.Type != config.TypeNone {
		cacheStore, err := openStore(ctx, cfg.Cache, logger)
		if err != nil {
			closeAll(closers)
			return nil, fmt.Errorf("cache: %w", err)
		}
		if cacheStore.closer != nil {
			closers = append(closers, cacheStore.closer)
		}
		opts = append(opts, stash.WithCache(cacheStore.store))
	}

	mws, storage, err := middlewares(cfg)
	if err != nil {
		closeAll(closers)
		return nil, err
	}
	opts = append(opts,
		stash.WithMiddleware(mws...),
		stash.WithStorageMiddleware(storage...),
		stash.WithCloser(closers...),
	)

	if metrics != nil {
		opts = append(opts, stash.WithMetrics(metrics))
	}
	if cfg.Sweep.Disabled {
		opts = append(opts, stash.WithoutSweep())
	} else {
		opts = append(opts, stash.WithSweep(
			sweep.WithSchedule(cfg.Sweep.Schedule),
			sweep.WithTimeout(cfg.Sweep.Timeout),
		))
	}

	s, err := stash.New(backingStore.store, opts...)
	if err != nil {
		closeAll(closers)
		return nil, err
	}
	logger.Debug("Stash configured", "backing", cfg.Backing.Type, "cache", cfg.Cache.Type, "middlewares", len(mws)+len(storage))
	return s, nil
}

func openStore(ctx context.Context, b config.Backend, logger *slog.Logger) (built, error) {
	switch b.Type {
	case config.TypeMemory:
		o, err := config.Decode[config.MemoryOptions](b)
		if err != nil {
			return built{}, err
		}
		return built{store: memory.New(memory.WithMaxTTL(o.MaxTTL))}, nil

	case config.TypeFile:
		o, err := config.Decode[config.FileOptions](b)
		if err != nil {
			return built{}, err
		}
		return built{store: file.New(o.Path, file.WithLogger(logger))}, nil

	case config.TypeSQLite:
		o, err := config.Decode[config.SQLiteOptions](b)
		if err != nil {
			return built{}, err
		}
		var sqlOpts []sqlite.Option
		if o.Table != "" {
			sqlOpts = append(sqlOpts, sqlite.WithTableName(o.Table))
		}
		store, err := sqlite.Open(ctx, o.Path, sqlOpts...)
		if err != nil {
			return built{}, err
		}
		return built{store: store, closer: store}, nil

	case config.TypeRedis:
		o, err := config.Decode[config.RedisOptions](b)
		if err != nil {
			return built{}, err
		}
		client := backend.NewClient(&backend.Options{Addr: o.Addr, Password: o.Password, DB: o.DB})
		prefix := o.Prefix
		if prefix == "" {
			prefix = redisAdapter.DefaultPrefix
		}
		store := redisAdapter.NewFromClient(client, redisAdapter.WithPrefix(prefix))
		if err := store.Ping(ctx); err != nil {
			_ = client.Close()
			return built{}, err
		}
		out := built{store: store, closer: store}
		if o.Lock {
			out.locker = redisAdapter.NewLocker(client, prefix)
		}
		return out, nil

	case config.TypeRistretto:
		o, err := config.Decode[config.RistrettoOptions](b)
		if err != nil {
			return built{}, err
		}
		rc := ristretto.DefaultConfig()
		if o.MaxEntries > 0 {
			rc.MaxEntries = o.MaxEntries
		}
		if o.MaxBytes > 0 {
			rc.MaxBytes = o.MaxBytes
		}
		if o.MaxTTL > 0 {
			rc.MaxTTL = o.MaxTTL
		}
		store, err := ristretto.New(rc)
		if err != nil {
			return built{}, err
		}
		return built{store: store, closer: store}, nil
	}
	return built{}, fmt.Errorf("unknown store type %q", b.Type)
}

// middlewares orders the configured middlewares: redaction sees plain data,
// the size check sees what is sealed, encryption runs last.
// middlewares splits the configured middlewares into those that run in front
// of the cache (they rewrite or reject records) and the lossless ones that
// run between the cache and the backing store.
func middlewares(cfg *config.Config) (outer, storage []middleware.Middleware, err error) {
	if len(cfg.Schema) > 0 {
		s, err := schema.ParseTypeMap(cfg.Schema)
		if err != nil {
			return nil, nil, fmt.Errorf("schema: %w", err)
		}
		outer = append(outer, middleware.NewSchemaMiddleware(s))
	}
	if len(cfg.Redact) > 0 {
		outer = append(outer, middleware.NewPIIMiddleware(cfg.Redact))
	}
	if cfg.MaxRecordBytes > 0 {
		outer = append(outer, middleware.NewMaxSizeMiddleware(cfg.MaxRecordBytes))
	}
	if cfg.Encryption.Key != "" {
		active, fallbacks, err := cfg.Encryption.Keys()
		if err != nil {
			return nil, nil, fmt.Errorf("encryption: %w", err)
		}
		storage = append(storage, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
			ActiveKey:    active,
			FallbackKeys: fallbacks,
		}))
	}
	return outer, storage, nil
}

func lockTTL(b config.Backend) time.Duration {
	o, err := config.Decode[config.RedisOptions](b)
	if err != nil {
		return 0
	}
	return o.LockTTL
}

func closeAll(closers []io.Closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		_ = closers[i].Close()
	}
}
