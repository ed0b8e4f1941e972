package pebblestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"github.com/ntauth/fracrank/internal/domain"
)

// Key layout:
//
//	item/<uuid>                 -> JSON record
//	order/<collection>\x00<rank> -> uuid bytes
const (
	itemPrefix  = "item/"
	orderPrefix = "order/"
)

type record struct {
	ID         uuid.UUID `json:"id"`
	Collection string    `json:"collection"`
	Rank       string    `json:"rank"`
	Revision   int64     `json:"revision"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toRecord(it domain.Item) record {
	return record{
		ID:         it.ID,
		Collection: it.Collection.String(),
		Rank:       it.Rank,
		Revision:   it.Revision,
		CreatedAt:  it.CreatedAt,
		UpdatedAt:  it.UpdatedAt,
	}
}

func (r record) item() (domain.Item, error) {
	c, err := domain.ParseCollection(r.Collection)
	if err != nil {
		return domain.Item{}, err
	}
	return domain.Item{
		ID:         r.ID,
		Collection: c,
		Rank:       r.Rank,
		Revision:   r.Revision,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}, nil
}

func itemKey(id uuid.UUID) []byte {
	return append([]byte(itemPrefix), id[:]...)
}

func orderBounds(coll string) (lower, upper []byte) {
	lower = []byte(orderPrefix + coll + "\x00")
	upper = []byte(orderPrefix + coll + "\x01")
	return lower, upper
}

func orderKey(coll, rank string) []byte {
	lower, _ := orderBounds(coll)
	return append(lower, rank...)
}

// Store implements domain.ItemStore on Pebble. Pebble has no transactions,
// so writers are serialized by mu and every write is a single batch.
type Store struct {
	mu  sync.Mutex
	db  *db
	now func() time.Time
}

var _ domain.ItemStore = (*Store)(nil)

// Open creates or opens a store in opts.DataDir.
func Open(opts Options) (*Store, error) {
	d, err := openDB(opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &Store{db: d, now: func() time.Time { return time.Now().UTC() }}, nil
}

func load(r pebble.Reader, id uuid.UUID) (record, error) {
	data, err := get(r, itemKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return record{}, domain.ErrItemNotFound
	}
	if err != nil {
		return record{}, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, fmt.Errorf("decode item %s: %w", id, err)
	}
	return rec, nil
}

func putRecord(b *pebble.Batch, r record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if err := b.Set(itemKey(r.ID), data, nil); err != nil {
		return err
	}
	return b.Set(orderKey(r.Collection, r.Rank), r.ID[:], nil)
}

// scan visits the index entries of coll in rank order until fn returns false.
func scan(r pebble.Reader, coll string, reverse bool, fn func(rank string, id uuid.UUID) bool) error {
	lower, upper := orderBounds(coll)
	iter, err := r.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return err
	}
	defer iter.Close()

	valid := iter.First
	step := iter.Next
	if reverse {
		valid, step = iter.Last, iter.Prev
	}
	for ok := valid(); ok; ok = step() {
		id, err := uuid.FromBytes(iter.Value())
		if err != nil {
			return fmt.Errorf("decode index entry: %w", err)
		}
		if !fn(string(iter.Key()[len(lower):]), id) {
			break
		}
	}
	return iter.Error()
}

// List reads the index and the records from one snapshot, so a concurrent
// write cannot return an item with a rank that disagrees with its position.
func (s *Store) List(ctx context.Context, coll domain.Collection) ([]domain.Item, error) {
	snap := s.db.inner.NewSnapshot()
	defer snap.Close()

	items, err := list(snap, coll.String())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", coll, err)
	}
	return items, nil
}

func list(r pebble.Reader, coll string) ([]domain.Item, error) {
	var (
		items []domain.Item
		inner error
	)
	err := scan(r, coll, false, func(_ string, id uuid.UUID) bool {
		rec, err := load(r, id)
		if err == nil {
			var it domain.Item
			it, err = rec.item()
			items = append(items, it)
		}
		inner = err
		return err == nil
	})
	if err == nil {
		err = inner
	}
	return items, err
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (domain.Item, error) {
	r, err := load(s.db.inner, id)
	if err != nil {
		return domain.Item{}, err
	}
	return r.item()
}

func (s *Store) FirstRank(ctx context.Context, coll domain.Collection) (string, bool, error) {
	return s.boundary(coll, false)
}

func (s *Store) LastRank(ctx context.Context, coll domain.Collection) (string, bool, error) {
	return s.boundary(coll, true)
}

func (s *Store) boundary(coll domain.Collection, reverse bool) (string, bool, error) {
	var (
		rank string
		ok   bool
	)
	err := scan(s.db.inner, coll.String(), reverse, func(r string, _ uuid.UUID) bool {
		rank, ok = r, true
		return false
	})
	return rank, ok, err
}

func (s *Store) Insert(ctx context.Context, items ...domain.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.inner.NewBatch()
	defer b.Close()

	seen := make(map[string]bool, 2*len(items))
	for _, it := range items {
		r := toRecord(it)
		idKey, rankKey := string(itemKey(it.ID)), string(orderKey(r.Collection, r.Rank))
		exists, err := has(s.db.inner, []byte(idKey))
		if err != nil {
			return err
		}
		if exists || seen[idKey] {
			return fmt.Errorf("insert %s: %w", it.ID, domain.ErrItemExists)
		}
		taken, err := has(s.db.inner, []byte(rankKey))
		if err != nil {
			return err
		}
		if taken || seen[rankKey] {
			return fmt.Errorf("insert %s at %q: %w", it.ID, it.Rank, domain.ErrRankTaken)
		}
		seen[idKey], seen[rankKey] = true, true
		if err := putRecord(b, r); err != nil {
			return err
		}
	}
	return s.db.commit(b)
}

func (s *Store) UpdateRank(ctx context.Context, id uuid.UUID, expectedRevision int64, rank string) (domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := load(s.db.inner, id)
	if err != nil {
		return domain.Item{}, err
	}
	if r.Revision != expectedRevision {
		return domain.Item{}, fmt.Errorf("item %s at revision %d, expected %d: %w", id, r.Revision, expectedRevision, domain.ErrConflict)
	}
	if rank != r.Rank {
		taken, err := has(s.db.inner, orderKey(r.Collection, rank))
		if err != nil {
			return domain.Item{}, err
		}
		if taken {
			return domain.Item{}, fmt.Errorf("move %s to %q: %w", id, rank, domain.ErrRankTaken)
		}
	}

	b := s.db.inner.NewBatch()
	defer b.Close()
	if err := b.Delete(orderKey(r.Collection, r.Rank), nil); err != nil {
		return domain.Item{}, err
	}
	r.Rank = rank
	r.Revision++
	r.UpdatedAt = s.now()
	if err := putRecord(b, r); err != nil {
		return domain.Item{}, err
	}
	if err := s.db.commit(b); err != nil {
		return domain.Item{}, err
	}
	return r.item()
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := load(s.db.inner, id)
	if err != nil {
		return err
	}
	b := s.db.inner.NewBatch()
	defer b.Close()
	if err := b.Delete(itemKey(id), nil); err != nil {
		return err
	}
	if err := b.Delete(orderKey(r.Collection, r.Rank), nil); err != nil {
		return err
	}
	return s.db.commit(b)
}

func (s *Store) ReplaceRanks(ctx context.Context, coll domain.Collection, updates map[uuid.UUID]domain.RankUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := coll.String()
	current, err := list(s.db.inner, key)
	if err != nil {
		return fmt.Errorf("rebalance %s: %w", coll, err)
	}
	if err := domain.CheckRankUpdates(current, updates); err != nil {
		return fmt.Errorf("rebalance %s: %w", coll, err)
	}

	b := s.db.inner.NewBatch()
	defer b.Close()
	// a batch applies in order, so all deletes go first
	var moving []domain.Item
	for _, it := range current {
		if updates[it.ID].Rank == it.Rank {
			continue
		}
		if err := b.Delete(orderKey(key, it.Rank), nil); err != nil {
			return err
		}
		moving = append(moving, it)
	}
	now := s.now()
	for _, it := range moving {
		it.Rank = updates[it.ID].Rank
		it.Revision++
		it.UpdatedAt = now
		if err := putRecord(b, toRecord(it)); err != nil {
			return err
		}
	}
	return s.db.commit(b)
}

func (s *Store) Close() error {
	return s.db.close()
}
