// Package storetest is the behaviour every domain.ItemStore must share. Each
// backend runs it from its own tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ntauth/fracrank/internal/domain"
)

// Factory returns a fresh, empty store. The store is closed by the suite.
type Factory func(t *testing.T) domain.ItemStore

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s domain.ItemStore)
	}{
		{"ListOrder", testListOrder},
		{"Boundaries", testBoundaries},
		{"InsertDuplicates", testInsertDuplicates},
		{"GetMissing", testGetMissing},
		{"UpdateRank", testUpdateRank},
		{"Delete", testDelete},
		{"ReplaceRanks", testReplaceRanks},
		{"ReplaceRanksDetectsConcurrentEdits", testReplaceRanksDetectsConcurrentEdits},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func newItem(coll domain.Collection, rank string) domain.Item {
	return domain.NewItem(uuid.New(), coll, rank, time.Now().UTC().Truncate(time.Millisecond))
}

func ranks(items []domain.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Rank
	}
	return out
}

func testListOrder(t *testing.T, s domain.ItemStore) {
	ctx := context.Background()
	coll := domain.LessonsOf(uuid.New())
	other := domain.PostsOf(uuid.New())

	// byte-wise order: digits < uppercase < lowercase
	require.NoError(t, s.Insert(ctx,
		newItem(coll, "r"),
		newItem(coll, "B"),
		newItem(coll, "0z"),
		newItem(coll, "a"),
		newItem(coll, "ai"),
	))
	require.NoError(t, s.Insert(ctx, newItem(other, "c")))

	got, err := s.List(ctx, coll)
	require.NoError(t, err)
	assert.Equal(t, []string{"0z", "B", "a", "ai", "r"}, ranks(got))
	for _, it := range got {
		assert.Equal(t, coll, it.Collection)
		assert.Equal(t, int64(1), it.Revision)
	}

	got, err = s.List(ctx, domain.LessonsOf(uuid.New()))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testBoundaries(t *testing.T, s domain.ItemStore) {
	ctx := context.Background()
	coll := domain.PostsOf(uuid.New())

	_, ok, err := s.FirstRank(ctx, coll)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.LastRank(ctx, coll)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Insert(ctx, newItem(coll, "i"), newItem(coll, "9"), newItem(coll, "r")))
	// a neighbouring collection must not leak into the boundaries
	require.NoError(t, s.Insert(ctx, newItem(domain.PostsOf(uuid.New()), "z")))

	first, ok, err := s.FirstRank(ctx, coll)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "9", first)

	last, ok, err := s.LastRank(ctx, coll)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "r", last)
}

func testInsertDuplicates(t *testing.T, s domain.ItemStore) {
	ctx := context.Background()
	coll := domain.LessonsOf(uuid.New())

	a := newItem(coll, "i")
	require.NoError(t, s.Insert(ctx, a))

	dupID := a
	dupID.Rank = "r"
	assert.ErrorIs(t, s.Insert(ctx, dupID), domain.ErrItemExists)

	assert.ErrorIs(t, s.Insert(ctx, newItem(coll, "i")), domain.ErrRankTaken)

	// the same rank in another collection is fine
	require.NoError(t, s.Insert(ctx, newItem(domain.LessonsOf(uuid.New()), "i")))

	// a failing batch inserts nothing
	err := s.Insert(ctx, newItem(coll, "w"), newItem(coll, "i"))
	assert.ErrorIs(t, err, domain.ErrRankTaken)
	got, err := s.List(ctx, coll)
	require.NoError(t, err)
	assert.Equal(t, []string{"i"}, ranks(got))
}

func testGetMissing(t *testing.T, s domain.ItemStore) {
	_, err := s.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}

func testUpdateRank(t *testing.T, s domain.ItemStore) {
	ctx := context.Background()
	coll := domain.LessonsOf(uuid.New())
	a, b := newItem(coll, "9"), newItem(coll, "i")
	require.NoError(t, s.Insert(ctx, a, b))

	moved, err := s.UpdateRank(ctx, a.ID, 1, "r")
	require.NoError(t, err)
	assert.Equal(t, "r", moved.Rank)
	assert.Equal(t, int64(2), moved.Revision)

	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, moved.Rank, got.Rank)
	assert.Equal(t, moved.Revision, got.Revision)

	_, err = s.UpdateRank(ctx, a.ID, 1, "w")
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = s.UpdateRank(ctx, a.ID, 2, "i")
	assert.ErrorIs(t, err, domain.ErrRankTaken)

	_, err = s.UpdateRank(ctx, uuid.New(), 1, "w")
	assert.ErrorIs(t, err, domain.ErrItemNotFound)

	list, err := s.List(ctx, coll)
	require.NoError(t, err)
	assert.Equal(t, []string{"i", "r"}, ranks(list))
}

func testDelete(t *testing.T, s domain.ItemStore) {
	ctx := context.Background()
	coll := domain.PostsOf(uuid.New())
	a, b, c := newItem(coll, "9"), newItem(coll, "i"), newItem(coll, "r")
	require.NoError(t, s.Insert(ctx, a, b, c))

	require.NoError(t, s.Delete(ctx, b.ID))
	assert.ErrorIs(t, s.Delete(ctx, b.ID), domain.ErrItemNotFound)

	list, err := s.List(ctx, coll)
	require.NoError(t, err)
	require.Len(t, list, 2)
	// neighbours keep their keys and revisions
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, "9", list[0].Rank)
	assert.Equal(t, int64(1), list[0].Revision)
	assert.Equal(t, c.ID, list[1].ID)
	assert.Equal(t, "r", list[1].Rank)

	// the freed rank can be reused by a new record
	require.NoError(t, s.Insert(ctx, newItem(coll, "i")))
}

func update(rank string, it domain.Item) domain.RankUpdate {
	return domain.RankUpdate{Rank: rank, ExpectedRevision: it.Revision}
}

func testReplaceRanks(t *testing.T, s domain.ItemStore) {
	ctx := context.Background()
	coll := domain.LessonsOf(uuid.New())
	a, b, c := newItem(coll, "a"), newItem(coll, "b"), newItem(coll, "c")
	require.NoError(t, s.Insert(ctx, a, b, c))

	// swapping two ranks collides transiently and must still succeed
	require.NoError(t, s.ReplaceRanks(ctx, coll, map[uuid.UUID]domain.RankUpdate{
		a.ID: update("b", a),
		b.ID: update("a", b),
		c.ID: update("c", c),
	}))

	list, err := s.List(ctx, coll)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, b.ID, list[0].ID)
	assert.Equal(t, a.ID, list[1].ID)
	assert.Equal(t, c.ID, list[2].ID)
	assert.Equal(t, int64(2), list[0].Revision)
	assert.Equal(t, int64(2), list[1].Revision)
	// an unchanged rank keeps its revision
	assert.Equal(t, int64(1), list[2].Revision)

	a, b = list[1], list[0]
	err = s.ReplaceRanks(ctx, coll, map[uuid.UUID]domain.RankUpdate{
		a.ID: update("c", a),
		b.ID: update("a", b),
		c.ID: update("c", c),
	})
	assert.ErrorIs(t, err, domain.ErrRankTaken)

	list, err = s.List(ctx, coll)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ranks(list))
	assert.Equal(t, []uuid.UUID{b.ID, a.ID, c.ID}, []uuid.UUID{list[0].ID, list[1].ID, list[2].ID})
}

func testReplaceRanksDetectsConcurrentEdits(t *testing.T, s domain.ItemStore) {
	ctx := context.Background()
	coll := domain.LessonsOf(uuid.New())
	a, b, c := newItem(coll, "0001"), newItem(coll, "e"), newItem(coll, "zzzzz")
	require.NoError(t, s.Insert(ctx, a, b, c))

	read, err := s.List(ctx, coll)
	require.NoError(t, err)
	spread := domain.RankUpdatesFor(read, []string{"9", "i", "r"})

	// c moves to the head between the read and the rewrite
	moved, err := s.UpdateRank(ctx, c.ID, c.Revision, "0000i")
	require.NoError(t, err)

	err = s.ReplaceRanks(ctx, coll, spread)
	assert.ErrorIs(t, err, domain.ErrConflict)

	list, err := s.List(ctx, coll)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, c.ID, list[0].ID)
	assert.Equal(t, moved.Rank, list[0].Rank)
	assert.Equal(t, []string{"0000i", "0001", "e"}, ranks(list))

	// an item added after the read is not silently left behind
	d := newItem(coll, "f")
	require.NoError(t, s.Insert(ctx, d))
	err = s.ReplaceRanks(ctx, coll, domain.RankUpdatesFor(list, []string{"9", "i", "r"}))
	assert.ErrorIs(t, err, domain.ErrConflict)

	// a deleted item makes the read stale as well
	list, err = s.List(ctx, coll)
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, d.ID))
	err = s.ReplaceRanks(ctx, coll, domain.RankUpdatesFor(list, []string{"4", "9", "i", "r"}))
	assert.ErrorIs(t, err, domain.ErrConflict)

	// a fresh read goes through
	list, err = s.List(ctx, coll)
	require.NoError(t, err)
	require.NoError(t, s.ReplaceRanks(ctx, coll, domain.RankUpdatesFor(list, []string{"9", "i", "r"})))
	list, err = s.List(ctx, coll)
	require.NoError(t, err)
	assert.Equal(t, []string{"9", "i", "r"}, ranks(list))
	assert.Equal(t, c.ID, list[0].ID)
}
