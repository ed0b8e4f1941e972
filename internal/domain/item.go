package domain

import (
	"time"

	"github.com/google/uuid"
)

// Item is one record of an ordered collection. Only its rank encodes its
// position; Revision increments on every rank write so that concurrent
// movers can detect lost updates.
type Item struct {
	ID         uuid.UUID  `json:"id"`
	Collection Collection `json:"-"`
	Rank       string     `json:"rank"`
	Revision   int64      `json:"revision"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewItem returns an item ready to be inserted at rank.
func NewItem(id uuid.UUID, coll Collection, rank string, now time.Time) Item {
	return Item{
		ID:         id,
		Collection: coll,
		Rank:       rank,
		Revision:   1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
