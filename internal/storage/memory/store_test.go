package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ntauth/fracrank/internal/domain"
	"github.com/ntauth/fracrank/internal/storage/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.ItemStore { return New() })
}

func TestConcurrentUpdatesOneWins(t *testing.T) {
	ctx := context.Background()
	s := New()
	coll := domain.LessonsOf(uuid.New())
	it := domain.NewItem(uuid.New(), coll, "i", time.Now())
	require.NoError(t, s.Insert(ctx, it))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for _, rank := range []string{"1", "2", "3", "4", "5", "6", "7", "8"} {
		wg.Add(1)
		go func(rank string) {
			defer wg.Done()
			if _, err := s.UpdateRank(ctx, it.ID, 1, rank); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, domain.ErrConflict)
			}
		}(rank)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	got, err := s.Get(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Revision)
}
