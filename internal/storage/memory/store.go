// Package memory keeps ordered collections in a B-tree keyed by
// (collection, rank). It is the store used by tests and by `serve` when no
// database is configured; its contents do not survive a restart.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/google/uuid"

	"github.com/ntauth/fracrank/internal/domain"
)

const defaultDegree = 32

type entry struct {
	coll string
	rank string
	id   uuid.UUID
}

func (e entry) Less(than btree.Item) bool {
	o := than.(entry)
	if e.coll != o.coll {
		return e.coll < o.coll
	}
	return e.rank < o.rank
}

// Store implements domain.ItemStore in memory.
type Store struct {
	mu    sync.RWMutex
	order *btree.BTree
	items map[uuid.UUID]domain.Item
	now   func() time.Time
}

var _ domain.ItemStore = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		order: btree.New(defaultDegree),
		items: make(map[uuid.UUID]domain.Item),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) List(ctx context.Context, coll domain.Collection) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := coll.String()
	var out []domain.Item
	s.order.AscendGreaterOrEqual(entry{coll: key}, func(i btree.Item) bool {
		e := i.(entry)
		if e.coll != key {
			return false
		}
		out = append(out, s.items[e.id])
		return true
	})
	return out, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[id]
	if !ok {
		return domain.Item{}, domain.ErrItemNotFound
	}
	return it, nil
}

func (s *Store) FirstRank(ctx context.Context, coll domain.Collection) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := coll.String()
	var rank string
	var ok bool
	s.order.AscendGreaterOrEqual(entry{coll: key}, func(i btree.Item) bool {
		if e := i.(entry); e.coll == key {
			rank, ok = e.rank, true
		}
		return false
	})
	return rank, ok, nil
}

func (s *Store) LastRank(ctx context.Context, coll domain.Collection) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := coll.String()
	var rank string
	var ok bool
	// 0xff sorts after every alphabet digit
	s.order.DescendLessOrEqual(entry{coll: key, rank: "\xff"}, func(i btree.Item) bool {
		if e := i.(entry); e.coll == key {
			rank, ok = e.rank, true
		}
		return false
	})
	return rank, ok, nil
}

func (s *Store) Insert(ctx context.Context, items ...domain.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make(map[entry]bool, len(items))
	ids := make(map[uuid.UUID]bool, len(items))
	for _, it := range items {
		if _, ok := s.items[it.ID]; ok || ids[it.ID] {
			return fmt.Errorf("insert %s: %w", it.ID, domain.ErrItemExists)
		}
		e := entry{coll: it.Collection.String(), rank: it.Rank}
		if s.order.Has(e) || batch[e] {
			return fmt.Errorf("insert %s at %q: %w", it.ID, it.Rank, domain.ErrRankTaken)
		}
		ids[it.ID] = true
		batch[e] = true
	}
	for _, it := range items {
		s.items[it.ID] = it
		s.order.ReplaceOrInsert(entry{coll: it.Collection.String(), rank: it.Rank, id: it.ID})
	}
	return nil
}

func (s *Store) UpdateRank(ctx context.Context, id uuid.UUID, expectedRevision int64, rank string) (domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return domain.Item{}, domain.ErrItemNotFound
	}
	if it.Revision != expectedRevision {
		return domain.Item{}, fmt.Errorf("item %s at revision %d, expected %d: %w", id, it.Revision, expectedRevision, domain.ErrConflict)
	}
	key := it.Collection.String()
	if held := s.order.Get(entry{coll: key, rank: rank}); held != nil && held.(entry).id != id {
		return domain.Item{}, fmt.Errorf("move %s to %q: %w", id, rank, domain.ErrRankTaken)
	}

	s.order.Delete(entry{coll: key, rank: it.Rank})
	it.Rank = rank
	it.Revision++
	it.UpdatedAt = s.now()
	s.items[id] = it
	s.order.ReplaceOrInsert(entry{coll: key, rank: rank, id: id})
	return it, nil
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return domain.ErrItemNotFound
	}
	s.order.Delete(entry{coll: it.Collection.String(), rank: it.Rank})
	delete(s.items, id)
	return nil
}

func (s *Store) ReplaceRanks(ctx context.Context, coll domain.Collection, updates map[uuid.UUID]domain.RankUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := coll.String()
	var current []domain.Item
	s.order.AscendGreaterOrEqual(entry{coll: key}, func(i btree.Item) bool {
		e := i.(entry)
		if e.coll != key {
			return false
		}
		current = append(current, s.items[e.id])
		return true
	})
	if err := domain.CheckRankUpdates(current, updates); err != nil {
		return fmt.Errorf("rebalance %s: %w", coll, err)
	}

	var moving []domain.Item
	for _, it := range current {
		if updates[it.ID].Rank != it.Rank {
			moving = append(moving, it)
			s.order.Delete(entry{coll: key, rank: it.Rank})
		}
	}
	now := s.now()
	for _, it := range moving {
		it.Rank = updates[it.ID].Rank
		it.Revision++
		it.UpdatedAt = now
		s.items[it.ID] = it
		s.order.ReplaceOrInsert(entry{coll: key, rank: it.Rank, id: it.ID})
	}
	return nil
}

func (s *Store) Close() error { return nil }
