// Package sqlite stores ordered collections in a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ntauth/fracrank/internal/storage/migrate"
	"github.com/ntauth/fracrank/internal/storage/sqlite/migrations"
)

// DB is a SQLite connection limited to one writer.
type DB struct {
	*sql.DB
}

// Open opens or creates the database at path in WAL mode.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return &DB{DB: db}, nil
}

// Migrate applies the embedded migrations newer than the recorded version
// and returns how many ran.
func (db *DB) Migrate(ctx context.Context) (int, error) {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	all, err := migrate.Load(migrations.FS)
	if err != nil {
		return 0, err
	}
	current, err := db.Version(ctx)
	if err != nil {
		return 0, err
	}

	pending := migrate.Pending(all, current)
	for _, m := range pending {
		if err := db.apply(ctx, m); err != nil {
			return 0, fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
	}
	return len(pending), nil
}

func (db *DB) apply(ctx context.Context, m migrate.Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, m.Version); err != nil {
		return err
	}
	return tx.Commit()
}

// Version returns the highest applied migration, 0 for a fresh database.
func (db *DB) Version(ctx context.Context) (int, error) {
	var version int
	err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
