package pebblestore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ntauth/fracrank/internal/domain"
	"github.com/ntauth/fracrank/internal/storage/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.ItemStore {
		s, err := Open(Options{DataDir: t.TempDir(), Fsync: FsyncModeNever})
		require.NoError(t, err)
		return s
	})
}

func TestOpenRequiresDataDir(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err)
}

func TestReopenKeepsOrder(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	coll := domain.PostsOf(uuid.New())
	now := time.Now().UTC()

	s, err := Open(Options{DataDir: dir, Fsync: FsyncModeAlways})
	require.NoError(t, err)
	a := domain.NewItem(uuid.New(), coll, "r", now)
	b := domain.NewItem(uuid.New(), coll, "9", now)
	require.NoError(t, s.Insert(ctx, a, b))
	_, err = s.UpdateRank(ctx, a.ID, 1, "5")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(Options{DataDir: dir, Fsync: FsyncModeAlways})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	list, err := s.List(ctx, coll)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, "5", list[0].Rank)
	assert.Equal(t, int64(2), list[0].Revision)
	assert.Equal(t, b.ID, list[1].ID)

	// the old index entry is gone
	last, ok, err := s.LastRank(ctx, coll)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "9", last)
}

func TestOrderKeysStayInsideCollection(t *testing.T) {
	lower, upper := orderBounds("posts:x")
	k := orderKey("posts:x", "zzzz")
	assert.Less(t, string(lower), string(k))
	assert.Less(t, string(k), string(upper))

	// a collection whose name extends another's must not fall in its range
	other := orderKey("posts:xy", "0")
	assert.False(t, string(other) >= string(lower) && string(other) < string(upper))
}

func TestFsyncModes(t *testing.T) {
	tests := []struct {
		in       string
		mode     FsyncMode
		syncsAll bool
	}{
		{"", FsyncModeAlways, true},
		{"always", FsyncModeAlways, true},
		{"interval", FsyncModeInterval, true},
		{"never", FsyncModeNever, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			mode, err := ParseFsyncMode(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.mode, mode)

			d, err := openDB(Options{DataDir: t.TempDir(), Fsync: mode})
			require.NoError(t, err)
			t.Cleanup(func() { _ = d.close() })
			assert.Equal(t, tt.syncsAll, d.writeSync)
		})
	}

	_, err := ParseFsyncMode("sometimes")
	assert.Error(t, err)

	// a zero Options value must not drop acknowledged writes
	d, err := openDB(Options{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.close() })
	assert.True(t, d.writeSync)
}

func TestListReadsOneSnapshot(t *testing.T) {
	ctx := context.Background()
	s, err := Open(Options{DataDir: t.TempDir(), Fsync: FsyncModeNever})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	coll := domain.LessonsOf(uuid.New())
	now := time.Now().UTC()
	a := domain.NewItem(uuid.New(), coll, "9", now)
	b := domain.NewItem(uuid.New(), coll, "i", now)
	c := domain.NewItem(uuid.New(), coll, "r", now)
	require.NoError(t, s.Insert(ctx, a, b, c))

	snap := s.db.inner.NewSnapshot()
	t.Cleanup(func() { _ = snap.Close() })

	// a move to the tail commits after the snapshot was taken
	_, err = s.UpdateRank(ctx, a.ID, 1, "w")
	require.NoError(t, err)

	before, err := list(snap, coll.String())
	require.NoError(t, err)
	require.Len(t, before, 3)
	assert.Equal(t, []string{"9", "i", "r"}, []string{before[0].Rank, before[1].Rank, before[2].Rank})
	assert.Equal(t, int64(1), before[0].Revision)

	after, err := s.List(ctx, coll)
	require.NoError(t, err)
	require.Len(t, after, 3)
	assert.Equal(t, a.ID, after[2].ID)
	for i := 1; i < len(after); i++ {
		assert.Less(t, after[i-1].Rank, after[i].Rank)
	}
}
