package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCheckRankUpdates(t *testing.T) {
	coll := LessonsOf(uuid.New())
	now := time.Now()
	a := NewItem(uuid.New(), coll, "a", now)
	b := NewItem(uuid.New(), coll, "b", now)
	b.Revision = 3
	current := []Item{a, b}

	ok := RankUpdatesFor(current, []string{"9", "i"})
	assert.NoError(t, CheckRankUpdates(current, ok))
	assert.Equal(t, RankUpdate{Rank: "i", ExpectedRevision: 3}, ok[b.ID])

	tests := []struct {
		name    string
		updates map[uuid.UUID]RankUpdate
		want    error
	}{
		{"stale revision", map[uuid.UUID]RankUpdate{
			a.ID: {Rank: "9", ExpectedRevision: 1},
			b.ID: {Rank: "i", ExpectedRevision: 2},
		}, ErrConflict},
		{"item missing", map[uuid.UUID]RankUpdate{
			a.ID: {Rank: "9", ExpectedRevision: 1},
		}, ErrConflict},
		{"item gone", map[uuid.UUID]RankUpdate{
			a.ID:       {Rank: "9", ExpectedRevision: 1},
			b.ID:       {Rank: "i", ExpectedRevision: 3},
			uuid.New(): {Rank: "r", ExpectedRevision: 1},
		}, ErrConflict},
		{"same key twice", map[uuid.UUID]RankUpdate{
			a.ID: {Rank: "i", ExpectedRevision: 1},
			b.ID: {Rank: "i", ExpectedRevision: 3},
		}, ErrRankTaken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckRankUpdates(current, tt.updates)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsRetryable(err))
		})
	}
}
