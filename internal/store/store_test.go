package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/warmpool/internal/payload"
)

func TestSQLiteStoreSetAndRemove(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "payloads.db")

	s, err := OpenSQLite(ctx, dbPath)
	require.NoError(t, err)
	defer s.Close()

	rec := payload.NewRecord([]byte("job body"))
	key := rec.Key()

	require.NoError(t, s.Set(ctx, key, rec))

	// Overwrite under the same key is allowed.
	require.NoError(t, s.Set(ctx, key, rec))

	require.NoError(t, s.Remove(ctx, key))
	// Removing an absent key is idempotent.
	require.NoError(t, s.Remove(ctx, key))
}

func TestSQLiteStoreRejectsEmptyKey(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "payloads.db"))
	require.NoError(t, err)
	defer s.Close()

	assert.Error(t, s.Set(ctx, "", payload.Record{}))
	assert.Error(t, s.Remove(ctx, ""))
}

func TestOpenSQLiteEmptyPath(t *testing.T) {
	_, err := OpenSQLite(context.Background(), "")
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	rec := payload.NewRecord([]byte("job body"))
	key := rec.Key()

	require.NoError(t, s.Set(ctx, key, rec))
	assert.Equal(t, 1, s.Len())

	got, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, []byte("job body"), got.Body)

	require.NoError(t, s.Remove(ctx, key))
	require.NoError(t, s.Remove(ctx, key))
	assert.Equal(t, 0, s.Len())
}
