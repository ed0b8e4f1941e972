package domain

import (
	"context"

	"github.com/google/uuid"
)

// ItemStore persists ordered collections. Implementations must return items
// sorted by byte-wise ascending rank and must enforce that no two items of a
// collection share a rank.
type ItemStore interface {
	// List returns the items of coll in rank order.
	List(ctx context.Context, coll Collection) ([]Item, error)

	// Get returns ErrItemNotFound if the item is unknown.
	Get(ctx context.Context, id uuid.UUID) (Item, error)

	// FirstRank and LastRank return the boundary ranks of coll; ok is false
	// when the collection is empty.
	FirstRank(ctx context.Context, coll Collection) (rank string, ok bool, err error)
	LastRank(ctx context.Context, coll Collection) (rank string, ok bool, err error)

	// Insert adds items atomically. It returns ErrItemExists for a duplicate
	// id and ErrRankTaken for a duplicate rank.
	Insert(ctx context.Context, items ...Item) error

	// UpdateRank writes a new rank for id if its revision still equals
	// expectedRevision, and returns the updated item. A revision mismatch is
	// ErrConflict; a duplicate rank is ErrRankTaken.
	UpdateRank(ctx context.Context, id uuid.UUID, expectedRevision int64, rank string) (Item, error)

	// Delete returns ErrItemNotFound if the item is unknown.
	Delete(ctx context.Context, id uuid.UUID) error

	// ReplaceRanks rewrites the ranks of coll in one transaction. updates
	// must name every item of coll at its current revision, otherwise
	// ErrConflict is returned and nothing is written. Items whose rank
	// changes get a new revision; the others keep theirs.
	ReplaceRanks(ctx context.Context, coll Collection, updates map[uuid.UUID]RankUpdate) error

	Close() error
}

// EventPublisher announces order changes to other processes.
type EventPublisher interface {
	Publish(ctx context.Context, event ReorderEvent) error
}
