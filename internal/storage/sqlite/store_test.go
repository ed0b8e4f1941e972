package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ntauth/fracrank/internal/domain"
	"github.com/ntauth/fracrank/internal/storage/storetest"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "fracrank.db"))
	require.NoError(t, err)
	_, err = db.Migrate(context.Background())
	require.NoError(t, err)
	return db
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.ItemStore {
		return NewStore(openTestDB(t))
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	v1, err := db.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v1)

	applied, err := db.Migrate(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied)
	v2, err := db.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}
