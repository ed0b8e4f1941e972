// Package postgres stores ordered collections in PostgreSQL through a pgx
// connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ntauth/fracrank/internal/domain"
	"github.com/ntauth/fracrank/internal/storage/migrate"
	"github.com/ntauth/fracrank/internal/storage/postgres/migrations"
)

const (
	itemColumns = `id, collection, rank_key, revision, created_at, updated_at`

	uniqueViolation = "23505"
	pkeyConstraint  = "items_pkey"
)

// Store implements domain.ItemStore on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ domain.ItemStore = (*Store)(nil)

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewStore(pool), nil
}

// NewStore returns a store over an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// Migrate applies the embedded migrations newer than the recorded version,
// one transaction each, and returns how many ran.
func (s *Store) Migrate(ctx context.Context) (int, error) {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	all, err := migrate.Load(migrations.FS)
	if err != nil {
		return 0, err
	}
	var current int
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}

	pending := migrate.Pending(all, current)
	for _, m := range pending {
		err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.Version)
			return err
		})
		if err != nil {
			return 0, fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
	}
	return len(pending), nil
}

func scanItem(row pgx.Row) (domain.Item, error) {
	var (
		it   domain.Item
		coll string
	)
	if err := row.Scan(&it.ID, &coll, &it.Rank, &it.Revision, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return domain.Item{}, err
	}
	c, err := domain.ParseCollection(coll)
	if err != nil {
		return domain.Item{}, err
	}
	it.Collection = c
	return it, nil
}

// mapErr translates unique violations into domain errors.
func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if pgErr.ConstraintName == pkeyConstraint {
			return fmt.Errorf("%w: %s", domain.ErrItemExists, pgErr.Message)
		}
		return fmt.Errorf("%w: %s", domain.ErrRankTaken, pgErr.Message)
	}
	return err
}

func (s *Store) List(ctx context.Context, coll domain.Collection) ([]domain.Item, error) {
	return listItems(ctx, s.pool, coll, "")
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// listItems reads coll in rank order; lock is an optional row locking clause.
func listItems(ctx context.Context, q queryer, coll domain.Collection, lock string) ([]domain.Item, error) {
	rows, err := q.Query(ctx,
		`SELECT `+itemColumns+` FROM items WHERE collection = $1 ORDER BY rank_key `+lock,
		coll.String())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", coll, err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (domain.Item, error) {
	it, err := scanItem(s.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Item{}, domain.ErrItemNotFound
	}
	return it, err
}

func (s *Store) FirstRank(ctx context.Context, coll domain.Collection) (string, bool, error) {
	return s.boundary(ctx, coll, "ASC")
}

func (s *Store) LastRank(ctx context.Context, coll domain.Collection) (string, bool, error) {
	return s.boundary(ctx, coll, "DESC")
}

func (s *Store) boundary(ctx context.Context, coll domain.Collection, dir string) (string, bool, error) {
	var rank string
	err := s.pool.QueryRow(ctx,
		`SELECT rank_key FROM items WHERE collection = $1 ORDER BY rank_key `+dir+` LIMIT 1`,
		coll.String()).Scan(&rank)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return rank, true, nil
}

func (s *Store) Insert(ctx context.Context, items ...domain.Item) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// inserts share the collection lock that a rank rewrite takes
		// exclusively, so no item can slip in while a rewrite runs
		locked := make(map[string]bool)
		for _, it := range items {
			coll := it.Collection.String()
			if locked[coll] {
				continue
			}
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock_shared(hashtext($1))`, coll); err != nil {
				return err
			}
			locked[coll] = true
		}
		for _, it := range items {
			_, err := tx.Exec(ctx,
				`INSERT INTO items (`+itemColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
				it.ID, it.Collection.String(), it.Rank, it.Revision, it.CreatedAt, it.UpdatedAt)
			if err != nil {
				return fmt.Errorf("insert %s: %w", it.ID, mapErr(err))
			}
		}
		return nil
	})
}

func (s *Store) UpdateRank(ctx context.Context, id uuid.UUID, expectedRevision int64, rank string) (domain.Item, error) {
	it, err := scanItem(s.pool.QueryRow(ctx,
		`UPDATE items SET rank_key = $1, revision = revision + 1, updated_at = $2
		 WHERE id = $3 AND revision = $4
		 RETURNING `+itemColumns,
		rank, s.now(), id, expectedRevision))
	if err == nil {
		return it, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Item{}, fmt.Errorf("move %s to %q: %w", id, rank, mapErr(err))
	}

	// nothing updated: either the item is gone or someone moved it first
	cur, err := s.Get(ctx, id)
	if err != nil {
		return domain.Item{}, err
	}
	return domain.Item{}, fmt.Errorf("item %s at revision %d, expected %d: %w", id, cur.Revision, expectedRevision, domain.ErrConflict)
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM items WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

func (s *Store) ReplaceRanks(ctx context.Context, coll domain.Collection, updates map[uuid.UUID]domain.RankUpdate) error {
	now := s.now()
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, coll.String()); err != nil {
			return err
		}
		current, err := listItems(ctx, tx, coll, "FOR UPDATE")
		if err != nil {
			return err
		}
		if err := domain.CheckRankUpdates(current, updates); err != nil {
			return fmt.Errorf("rebalance %s: %w", coll, err)
		}

		// park moving rows outside the alphabet so swaps pass the unique
		// constraint, which is checked row by row
		var moving []domain.Item
		for _, it := range current {
			if updates[it.ID].Rank == it.Rank {
				continue
			}
			tag, err := tx.Exec(ctx,
				`UPDATE items SET rank_key = '~' || id::text WHERE id = $1 AND revision = $2`,
				it.ID, it.Revision)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("rebalance %s: %w", it.ID, domain.ErrConflict)
			}
			moving = append(moving, it)
		}
		for _, it := range moving {
			rank := updates[it.ID].Rank
			_, err := tx.Exec(ctx,
				`UPDATE items SET rank_key = $1, revision = revision + 1, updated_at = $2 WHERE id = $3`,
				rank, now, it.ID)
			if err != nil {
				return fmt.Errorf("rebalance %s to %q: %w", it.ID, rank, mapErr(err))
			}
		}
		return nil
	})
}

// Truncate removes every item.
func (s *Store) Truncate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE items`)
	return err
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
