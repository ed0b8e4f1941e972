package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// RankUpdate is the key an item should end up on, guarded by the revision
// it was read at.
type RankUpdate struct {
	Rank             string
	ExpectedRevision int64
}

// RankUpdatesFor returns updates that move items, in order, onto keys.
func RankUpdatesFor(items []Item, keys []string) map[uuid.UUID]RankUpdate {
	updates := make(map[uuid.UUID]RankUpdate, len(items))
	for i, it := range items {
		updates[it.ID] = RankUpdate{Rank: keys[i], ExpectedRevision: it.Revision}
	}
	return updates
}

// CheckRankUpdates verifies updates against current, the items of a
// collection as stored right now. Every item must be named at its current
// revision and no item may be named that is not stored; either mismatch is
// ErrConflict. Two updates ending on the same key are ErrRankTaken.
func CheckRankUpdates(current []Item, updates map[uuid.UUID]RankUpdate) error {
	for _, it := range current {
		u, ok := updates[it.ID]
		if !ok {
			return fmt.Errorf("item %s is not part of the rewrite: %w", it.ID, ErrConflict)
		}
		if u.ExpectedRevision != it.Revision {
			return fmt.Errorf("item %s at revision %d, expected %d: %w", it.ID, it.Revision, u.ExpectedRevision, ErrConflict)
		}
	}
	if len(updates) != len(current) {
		return fmt.Errorf("rewrite names %d items, collection holds %d: %w", len(updates), len(current), ErrConflict)
	}

	held := make(map[string]uuid.UUID, len(updates))
	for id, u := range updates {
		if other, ok := held[u.Rank]; ok {
			return fmt.Errorf("items %s and %s both on %q: %w", other, id, u.Rank, ErrRankTaken)
		}
		held[u.Rank] = id
	}
	return nil
}
