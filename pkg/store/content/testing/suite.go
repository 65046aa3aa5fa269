// Package testing provides a reusable conformance suite run against
// every blob store backend.
package testing

import (
	"context"
	"testing"

	"github.com/marmos91/shardfs/pkg/store/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite runs the content.Store contract tests against the
// backend produced by NewStore. Each test gets a fresh store.
type StoreTestSuite struct {
	NewStore func(t *testing.T) content.Store
}

func (s *StoreTestSuite) Run(t *testing.T) {
	t.Run("WriteThenRead", s.testWriteThenRead)
	t.Run("ReadMissing", s.testReadMissing)
	t.Run("ReadPastEnd", s.testReadPastEnd)
	t.Run("SparseWrite", s.testSparseWrite)
	t.Run("Overwrite", s.testOverwrite)
	t.Run("Truncate", s.testTruncate)
	t.Run("Delete", s.testDelete)
}

func (s *StoreTestSuite) testWriteThenRead(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	data := []byte("hello, blob")
	require.NoError(t, store.WriteAt(ctx, "b1", 0, data))

	got, err := store.ReadAt(ctx, "b1", 0, uint32(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	size, err := store.Size(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), size)
}

func (s *StoreTestSuite) testReadMissing(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()

	_, err := store.ReadAt(context.Background(), "nope", 0, 16)
	require.ErrorIs(t, err, content.ErrBlobNotFound)
}

func (s *StoreTestSuite) testReadPastEnd(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.WriteAt(ctx, "b1", 0, []byte("abc")))

	got, err := store.ReadAt(ctx, "b1", 100, 16)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = store.ReadAt(ctx, "b1", 1, 16)
	require.NoError(t, err)
	assert.Equal(t, []byte("bc"), got)
}

func (s *StoreTestSuite) testSparseWrite(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.WriteAt(ctx, "b1", 4, []byte("tail")))

	got, err := store.ReadAt(ctx, "b1", 0, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 't', 'a', 'i', 'l'}, got)
}

func (s *StoreTestSuite) testOverwrite(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.WriteAt(ctx, "b1", 0, []byte("aaaaaa")))
	require.NoError(t, store.WriteAt(ctx, "b1", 2, []byte("bb")))

	got, err := store.ReadAt(ctx, "b1", 0, 6)
	require.NoError(t, err)
	assert.Equal(t, []byte("aabbaa"), got)
}

func (s *StoreTestSuite) testTruncate(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.WriteAt(ctx, "b1", 0, []byte("abcdef")))
	require.NoError(t, store.Truncate(ctx, "b1", 3))

	size, err := store.Size(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), size)

	require.NoError(t, store.Truncate(ctx, "b1", 5))
	got, err := store.ReadAt(ctx, "b1", 0, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte{'a', 'b', 'c', 0, 0}, got)
}

func (s *StoreTestSuite) testDelete(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.WriteAt(ctx, "b1", 0, []byte("abc")))
	require.NoError(t, store.Delete(ctx, "b1"))

	_, err := store.Size(ctx, "b1")
	require.ErrorIs(t, err, content.ErrBlobNotFound)

	// Deleting a missing blob is not an error.
	require.NoError(t, store.Delete(ctx, "b1"))
}
