// Package file stores one session envelope per file in a local directory.
//
// Writes go to a temporary file that is synced and renamed into place, so a
// reader sees either the old or the new envelope, never a partial one.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aretw0/stash/internal/logging"
	"github.com/aretw0/stash/pkg/codec"
	"github.com/aretw0/stash/pkg/domain"
	"github.com/aretw0/stash/pkg/ports"
)

const ext = ".session"

// Store implements ports.Store using the local filesystem.
type Store struct {
	BasePath string

	now      func() time.Time
	ids      domain.IDGenerator
	attempts int
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithNow replaces the clock used to evaluate expiry.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator sets the generator used by Create.
func WithIDGenerator(gen domain.IDGenerator) Option {
	return func(s *Store) {
		s.ids = gen
	}
}

// WithLogger sets the logger that reports unreadable session files found
// while scanning the directory.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new Store with the given base path.
// If basePath is empty, it defaults to ".stash/sessions".
func New(basePath string, opts ...Option) *Store {
	if basePath == "" {
		basePath = filepath.Join(".stash", "sessions")
	}
	s := &Store{
		BasePath: basePath,
		now:      time.Now,
		ids:      domain.RandomIDs,
		attempts: ports.DefaultCreateAttempts,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) path(id domain.ID) string {
	return filepath.Join(s.BasePath, string(id)+ext)
}

// writeTemp writes data to a synced temporary file next to the destination
// (same filesystem, as rename and link require) and returns its path.
func (s *Store) writeTemp(id domain.ID, data []byte) (string, error) {
	if err := os.MkdirAll(s.BasePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to ensure session directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(s.BasePath, "tmp-"+string(id)+"-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to fsync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	return tmpPath, nil
}

func (s *Store) encode(op string, rec *domain.Record) ([]byte, error) {
	data, err := codec.Encode(rec)
	if err != nil {
		return nil, domain.SerdeError(op, err)
	}
	return data, nil
}

// Create links a freshly written file into place, which fails if the
// destination exists. An expired file in the way is removed first.
func (s *Store) Create(ctx context.Context, rec *domain.Record) error {
	return ports.InsertWithRetry(ctx, rec, s.ids, s.attempts, func(ctx context.Context, rec *domain.Record) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, domain.IOError("create", err)
		}
		data, err := s.encode("create", rec)
		if err != nil {
			return false, err
		}
		tmpPath, err := s.writeTemp(rec.ID, data)
		if err != nil {
			return false, domain.IOError("create", err)
		}
		defer func() { _ = os.Remove(tmpPath) }()

		dest := s.path(rec.ID)
		err = os.Link(tmpPath, dest)
		if errors.Is(err, fs.ErrExist) {
			if _, loadErr := s.read(rec.ID); !errors.Is(loadErr, domain.ErrNotFound) {
				return false, nil
			}
			if rmErr := os.Remove(dest); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				return false, domain.IOError("create", rmErr)
			}
			err = os.Link(tmpPath, dest)
			if errors.Is(err, fs.ErrExist) {
				return false, nil
			}
		}
		if err != nil {
			return false, domain.IOError("create", err)
		}
		return true, nil
	})
}

func (s *Store) read(id domain.ID) (*domain.Record, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.IOError("load", err)
	}
	rec, err := codec.DecodeFor(id, data)
	if err != nil {
		return nil, domain.SerdeError("load", err)
	}
	if rec.Expired(s.now()) {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

// Load retrieves the record from its file.
func (s *Store) Load(ctx context.Context, id domain.ID) (*domain.Record, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.IOError("load", err)
	}
	return s.read(id)
}

// Save persists the record atomically.
func (s *Store) Save(ctx context.Context, rec *domain.Record) error {
	if err := rec.ID.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return domain.IOError("save", err)
	}
	data, err := s.encode("save", rec)
	if err != nil {
		return err
	}
	tmpPath, err := s.writeTemp(rec.ID, data)
	if err != nil {
		return domain.IOError("save", err)
	}
	if err := os.Rename(tmpPath, s.path(rec.ID)); err != nil {
		_ = os.Remove(tmpPath)
		return domain.IOError("save", fmt.Errorf("failed to rename temp file into place: %w", err))
	}
	return nil
}

// Delete removes the session file.
func (s *Store) Delete(ctx context.Context, id domain.ID) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return domain.IOError("delete", err)
	}
	return nil
}

// scan calls fn for every session file in the directory.
func (s *Store) scan(ctx context.Context, op string, fn func(id domain.ID) error) error {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return domain.IOError(op, err)
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return domain.IOError(op, err)
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ext) {
			continue
		}
		id := domain.ID(strings.TrimSuffix(name, ext))
		if id.Validate() != nil {
			continue
		}
		if err := fn(id); err != nil {
			return err
		}
	}
	return nil
}

// DeleteExpired removes files holding expired records. Corrupt files are
// left for an operator to inspect.
func (s *Store) DeleteExpired(ctx context.Context) error {
	now := s.now()
	return s.scan(ctx, "delete expired", func(id domain.ID) error {
		data, err := os.ReadFile(s.path(id))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return domain.IOError("delete expired", err)
		}
		rec, err := codec.Decode(data)
		if err != nil {
			s.logger.Warn("Skipping unreadable session file", "id", id, "error", err)
			return nil
		}
		if !rec.Expired(now) {
			return nil
		}
		if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return domain.IOError("delete expired", err)
		}
		return nil
	})
}

// List returns all live session IDs. Files that do not decode are logged
// and skipped; a file that cannot be read fails the listing.
func (s *Store) List(ctx context.Context) ([]domain.ID, error) {
	var ids []domain.ID
	err := s.scan(ctx, "list", func(id domain.ID) error {
		_, err := s.read(id)
		switch {
		case err == nil:
			ids = append(ids, id)
		case errors.Is(err, domain.ErrNotFound):
		case errors.Is(err, domain.ErrSerde):
			s.logger.Warn("Skipping unreadable session file", "id", id, "error", err)
		default:
			return domain.IOError("list", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
