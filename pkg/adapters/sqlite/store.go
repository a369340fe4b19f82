// Package sqlite stores sessions in a SQLite database through the pure Go
// modernc.org/sqlite driver. The default table is managed by embedded goose
// migrations applied on Open; a table named with WithTableName is created
// directly.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"regexp"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/aretw0/stash/pkg/codec"
	"github.com/aretw0/stash/pkg/domain"
	"github.com/aretw0/stash/pkg/ports"
)

// Store implements ports.Store on a SQLite table.
// The envelope column is authoritative; expiry_date only mirrors the
// record expiry so filters and sweeps can use an index.
type Store struct {
	db       *sql.DB
	table    string
	q        queries
	now      func() time.Time
	ids      domain.IDGenerator
	attempts int
}

var (
	_ ports.Store          = (*Store)(nil)
	_ ports.ExpiredDeleter = (*Store)(nil)
	_ ports.Lister         = (*Store)(nil)
)

// DefaultTableName is the table created by the embedded migrations.
const DefaultTableName = "sessions"

// ErrInvalidTableName is returned for a table name that is empty or holds
// anything but ASCII letters, digits, hyphens and underscores.
var ErrInvalidTableName = errors.New("invalid sqlite table name")

var tableName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Option configures a Store.
type Option func(*Store)

// WithNow replaces the clock used for expiry filters.
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

// WithTableName stores sessions in name instead of DefaultTableName.
// Open creates the table when it does not exist.
func WithTableName(name string) Option {
	return func(s *Store) {
		s.table = name
	}
}

// WithCreateAttempts bounds the ID-collision loop of Create.
func WithCreateAttempts(n int) Option {
	return func(s *Store) {
		s.attempts = n
	}
}

// Open opens (or creates) the database at path and migrates it.
// ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if path == ":memory:" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" {
		// Every connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	s, err := New(db, opts...)
	if err == nil {
		if s.table == DefaultTableName {
			err = runMigrations(ctx, db)
		} else {
			err = createTable(ctx, db, s.table)
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already migrated database.
func New(db *sql.DB, opts ...Option) (*Store, error) {
	s := &Store{
		db:       db,
		table:    DefaultTableName,
		now:      time.Now,
		ids:      domain.RandomIDs,
		attempts: ports.DefaultCreateAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	if !tableName.MatchString(s.table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTableName, s.table)
	}
	s.q = newQueries(s.table)
	return s, nil
}

// TableName returns the table holding the sessions.
func (s *Store) TableName() string {
	return s.table
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// expiryColumn rounds the deadline up to the millisecond, so a row the
// database considers expired is always expired for the envelope too.
func expiryColumn(e domain.Expiry) sql.NullInt64 {
	at, ok := e.Time()
	if !ok {
		return sql.NullInt64{}
	}
	sec := at.Unix()
	switch {
	case sec >= math.MaxInt64/1000-1:
		return sql.NullInt64{Int64: math.MaxInt64, Valid: true}
	case sec <= math.MinInt64/1000+1:
		return sql.NullInt64{Int64: math.MinInt64, Valid: true}
	}
	ms := sec * 1000
	ns := int64(at.Nanosecond())
	ms += ns / int64(time.Millisecond)
	if ns%int64(time.Millisecond) != 0 {
		ms++
	}
	return sql.NullInt64{Int64: ms, Valid: true}
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

type queries struct {
	insertIfFree  string
	upsert        string
	selectLive    string
	deleteID      string
	deleteExpired string
	listLive      string
}

// newQueries renders the statements for table, which must already match
// tableName.
func newQueries(table string) queries {
	t := `"` + table + `"`
	return queries{
		insertIfFree: `
			INSERT INTO ` + t + ` AS s (id, data, expiry_date) VALUES (?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET data = excluded.data, expiry_date = excluded.expiry_date
			WHERE s.expiry_date IS NOT NULL AND s.expiry_date <= ?`,
		upsert: `
			INSERT INTO ` + t + ` (id, data, expiry_date) VALUES (?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET data = excluded.data, expiry_date = excluded.expiry_date`,
		selectLive: `
			SELECT data FROM ` + t + `
			WHERE id = ? AND (expiry_date IS NULL OR expiry_date > ?)`,
		deleteID:      `DELETE FROM ` + t + ` WHERE id = ?`,
		deleteExpired: `DELETE FROM ` + t + ` WHERE expiry_date IS NOT NULL AND expiry_date <= ?`,
		listLive:      `SELECT id FROM ` + t + ` WHERE expiry_date IS NULL OR expiry_date > ? ORDER BY id`,
	}
}

// Create inserts rec. A row holding an expired record counts as free and
// is overwritten in place.
func (s *Store) Create(ctx context.Context, rec *domain.Record) error {
	return ports.InsertWithRetry(ctx, rec, s.ids, s.attempts, func(ctx context.Context, rec *domain.Record) (bool, error) {
		data, err := codec.Encode(rec)
		if err != nil {
			return false, domain.SerdeError("create", err)
		}
		res, err := s.db.ExecContext(ctx, s.q.insertIfFree, string(rec.ID), data, expiryColumn(rec.Expiry), s.nowMillis())
		if err != nil {
			return false, domain.IOError("create", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, domain.IOError("create", err)
		}
		return n > 0, nil
	})
}

// Load retrieves a live record.
func (s *Store) Load(ctx context.Context, id domain.ID) (*domain.Record, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.QueryRowContext(ctx, s.q.selectLive, string(id), s.nowMillis()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
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

// Save upserts rec.
func (s *Store) Save(ctx context.Context, rec *domain.Record) error {
	if err := rec.ID.Validate(); err != nil {
		return err
	}
	data, err := codec.Encode(rec)
	if err != nil {
		return domain.SerdeError("save", err)
	}
	if _, err := s.db.ExecContext(ctx, s.q.upsert, string(rec.ID), data, expiryColumn(rec.Expiry)); err != nil {
		return domain.IOError("save", err)
	}
	return nil
}

// Delete removes the row for id.
func (s *Store) Delete(ctx context.Context, id domain.ID) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.q.deleteID, string(id)); err != nil {
		return domain.IOError("delete", err)
	}
	return nil
}

// DeleteExpired removes every expired row.
func (s *Store) DeleteExpired(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.q.deleteExpired, s.nowMillis())
	if err != nil {
		return domain.IOError("delete expired", err)
	}
	return nil
}

// List returns live session IDs in order.
func (s *Store) List(ctx context.Context) ([]domain.ID, error) {
	rows, err := s.db.QueryContext(ctx, s.q.listLive, s.nowMillis())
	if err != nil {
		return nil, domain.IOError("list", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []domain.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.IOError("list", err)
		}
		ids = append(ids, domain.ID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, domain.IOError("list", err)
	}
	return ids, nil
}
