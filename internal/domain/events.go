package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies a change to an ordered collection.
type EventType string

const (
	EventInserted   EventType = "inserted"
	EventMoved      EventType = "moved"
	EventRemoved    EventType = "removed"
	EventRebalanced EventType = "rebalanced"
)

// ReorderEvent tells subscribers that a collection's order changed and that
// views of it should be re-fetched. For EventRebalanced, ItemID is uuid.Nil.
type ReorderEvent struct {
	ID         uuid.UUID `json:"id"`
	Type       EventType `json:"type"`
	Collection string    `json:"collection"`
	ItemID     uuid.UUID `json:"item_id"`
	Rank       string    `json:"rank,omitempty"`
	Revision   int64     `json:"revision,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewReorderEvent stamps an event for item.
func NewReorderEvent(typ EventType, item Item, now time.Time) ReorderEvent {
	return ReorderEvent{
		ID:         uuid.New(),
		Type:       typ,
		Collection: item.Collection.String(),
		ItemID:     item.ID,
		Rank:       item.Rank,
		Revision:   item.Revision,
		OccurredAt: now,
	}
}
