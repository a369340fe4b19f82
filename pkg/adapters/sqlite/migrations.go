package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// runMigrations applies all pending database migrations using goose.
func runMigrations(ctx context.Context, db *sql.DB) error {
	migrationFS, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create sub filesystem: %w", err)
	}

	provider, err := goose.NewProvider(database.DialectSQLite3, db, migrationFS)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// createTable creates a session table outside the migration history. The
// layout matches migrations/00001_create_sessions.sql.
func createTable(ctx context.Context, db *sql.DB, table string) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS "` + table + `" (
			id          TEXT    PRIMARY KEY NOT NULL,
			data        BLOB    NOT NULL,
			expiry_date INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS "idx_` + table + `_expiry_date" ON "` + table + `" (expiry_date) WHERE expiry_date IS NOT NULL`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table %q: %w", table, err)
		}
	}
	return nil
}
