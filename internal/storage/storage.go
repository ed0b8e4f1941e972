// Package storage opens the item store selected by configuration.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ntauth/fracrank/internal/config"
	"github.com/ntauth/fracrank/internal/domain"
	"github.com/ntauth/fracrank/internal/storage/memory"
	pebblestore "github.com/ntauth/fracrank/internal/storage/pebble"
	"github.com/ntauth/fracrank/internal/storage/postgres"
	"github.com/ntauth/fracrank/internal/storage/sqlite"
)

// Open returns a ready store for cfg, with migrations applied.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (domain.ItemStore, error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		logger.Warn("using in-memory storage; items are lost on restart")
		return memory.New(), nil

	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		applied, err := db.Migrate(ctx)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		logger.Info("opened sqlite storage", "path", cfg.Path, "migrations_applied", applied)
		return sqlite.NewStore(db), nil

	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		applied, err := s.Migrate(ctx)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		logger.Info("opened postgres storage", "migrations_applied", applied)
		return s, nil

	case config.DriverPebble:
		fsync, err := pebblestore.ParseFsyncMode(cfg.Fsync)
		if err != nil {
			return nil, err
		}
		s, err := pebblestore.Open(pebblestore.Options{DataDir: cfg.Path, Fsync: fsync})
		if err != nil {
			return nil, err
		}
		logger.Info("opened pebble storage", "path", cfg.Path, "fsync", cfg.Fsync)
		return s, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
