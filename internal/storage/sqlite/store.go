package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/ntauth/fracrank/internal/domain"
)

const itemColumns = `id, collection, rank_key, revision, created_at, updated_at`

// Store implements domain.ItemStore on SQLite.
type Store struct {
	db  *DB
	now func() time.Time
}

var _ domain.ItemStore = (*Store)(nil)

// NewStore returns a store over a migrated database.
func NewStore(db *DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (domain.Item, error) {
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

// mapErr translates constraint violations into domain errors.
func mapErr(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %s", domain.ErrItemExists, se.Error())
		case sqlite3.ErrConstraintUnique:
			return fmt.Errorf("%w: %s", domain.ErrRankTaken, se.Error())
		}
	}
	return err
}

func (s *Store) List(ctx context.Context, coll domain.Collection) ([]domain.Item, error) {
	return listItems(ctx, s.db, coll)
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (domain.Item, error) {
	it, err := scanItem(s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
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
	err := s.db.QueryRowContext(ctx,
		`SELECT rank_key FROM items WHERE collection = ? ORDER BY rank_key `+dir+` LIMIT 1`,
		coll.String()).Scan(&rank)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return rank, true, nil
}

func (s *Store) Insert(ctx context.Context, items ...domain.Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, it := range items {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
			it.ID, it.Collection.String(), it.Rank, it.Revision, it.CreatedAt, it.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert %s: %w", it.ID, mapErr(err))
		}
	}
	return tx.Commit()
}

func (s *Store) UpdateRank(ctx context.Context, id uuid.UUID, expectedRevision int64, rank string) (domain.Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Item{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE items SET rank_key = ?, revision = revision + 1, updated_at = ?
		 WHERE id = ? AND revision = ?`,
		rank, s.now(), id, expectedRevision)
	if err != nil {
		return domain.Item{}, fmt.Errorf("move %s to %q: %w", id, rank, mapErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Item{}, err
	}

	it, err := scanItem(tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Item{}, domain.ErrItemNotFound
	}
	if err != nil {
		return domain.Item{}, err
	}
	if n == 0 {
		return domain.Item{}, fmt.Errorf("item %s at revision %d, expected %d: %w", id, it.Revision, expectedRevision, domain.ErrConflict)
	}
	return it, tx.Commit()
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

func (s *Store) ReplaceRanks(ctx context.Context, coll domain.Collection, updates map[uuid.UUID]domain.RankUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	current, err := listItems(ctx, tx, coll)
	if err != nil {
		return err
	}
	if err := domain.CheckRankUpdates(current, updates); err != nil {
		return fmt.Errorf("rebalance %s: %w", coll, err)
	}

	// park every moving row on a key outside the alphabet so that swaps do
	// not trip the unique index halfway through
	var moving []domain.Item
	for _, it := range current {
		if updates[it.ID].Rank == it.Rank {
			continue
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE items SET rank_key = '~' || id WHERE id = ? AND revision = ?`,
			it.ID, it.Revision)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("rebalance %s: %w", it.ID, domain.ErrConflict)
		}
		moving = append(moving, it)
	}

	now := s.now()
	for _, it := range moving {
		rank := updates[it.ID].Rank
		_, err := tx.ExecContext(ctx,
			`UPDATE items SET rank_key = ?, revision = revision + 1, updated_at = ? WHERE id = ?`,
			rank, now, it.ID)
		if err != nil {
			return fmt.Errorf("rebalance %s to %q: %w", it.ID, rank, mapErr(err))
		}
	}
	return tx.Commit()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listItems(ctx context.Context, q queryer, coll domain.Collection) ([]domain.Item, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE collection = ? ORDER BY rank_key`,
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

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
