package checkpoint

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStoreRoundTrip(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	got, err := store.Get(ctx, "WF-42-deadbeef")
	require.NoError(t, err)
	assert.Nil(t, got, "unknown thread id should be absent")

	require.NoError(t, store.Put(ctx, "WF-42-deadbeef", []byte(`{"phase":"frame"}`)))
	got, err = store.Get(ctx, "WF-42-deadbeef")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"phase":"frame"}`), got)

	// Overwrite in place.
	require.NoError(t, store.Put(ctx, "WF-42-deadbeef", []byte(`{"phase":"build"}`)))
	got, err = store.Get(ctx, "WF-42-deadbeef")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"phase":"build"}`), got)

	require.NoError(t, store.Put(ctx, "WF-7-cafe0001", []byte(`{}`)))
	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"WF-42-deadbeef", "WF-7-cafe0001"}, ids)

	require.NoError(t, store.Delete(ctx, "WF-42-deadbeef"))
	got, err = store.Get(ctx, "WF-42-deadbeef")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	testStoreRoundTrip(t, store)
}

func TestMemoryStoreCopiesState(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	state := []byte("original")
	require.NoError(t, store.Put(ctx, "t1", state))
	state[0] = 'X'

	got, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()
	testStoreRoundTrip(t, store)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "checkpoints.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "WF-1-abc", []byte("state")))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "WF-1-abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("state"), got)
}

func TestOpenBackendSelection(t *testing.T) {
	store, err := Open(Config{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	store, err = Open(Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	path := filepath.Join(t.TempDir(), "cp.db")
	store, err = Open(Config{Backend: "file", Path: path})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, store)
	store.Close()

	_, err = Open(Config{Backend: "file"})
	assert.Error(t, err)

	_, err = Open(Config{Backend: "network", Kind: "mongodb"})
	assert.Error(t, err)

	_, err = Open(Config{Backend: "s3"})
	assert.Error(t, err)
}
