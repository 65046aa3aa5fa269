package gc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	badgerstore "github.com/marmos91/shardfs/pkg/store/metadata/badger"

	"github.com/marmos91/shardfs/pkg/engine"
	"github.com/marmos91/shardfs/pkg/store/content"
	"github.com/marmos91/shardfs/pkg/store/content/memory"
)

// ============================================================================
// Helpers
// ============================================================================

func newTestSetup(t *testing.T) (*engine.LocalEngine, *badgerstore.Store, *memory.MemoryStore) {
	t.Helper()

	meta, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	blobs := memory.New()
	return engine.NewLocal(meta, blobs), meta, blobs
}

// ============================================================================
// Tests
// ============================================================================

func TestCollect(t *testing.T) {
	ctx := context.Background()

	t.Run("DeletesOrphanedBlobs", func(t *testing.T) {
		eng, meta, blobs := newTestSetup(t)

		require.NoError(t, eng.CreateFile(ctx, "/kept", 0644))
		require.NoError(t, eng.WriteFile(ctx, "/kept", []byte("live data"), 0))

		// A blob with no file record, as left behind by a crash between
		// the metadata removal and the blob delete.
		require.NoError(t, blobs.WriteAt(ctx, content.BlobID("orphan"), 0, []byte("dead data")))

		c, err := NewCollector(meta, blobs, Config{})
		require.NoError(t, err)

		stats, err := c.RunNow(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(1), stats.Referenced)
		require.Equal(t, uint64(2), stats.Existing)
		require.Equal(t, uint64(1), stats.Orphaned)
		require.Equal(t, uint64(1), stats.Deleted)
		require.Zero(t, stats.Failed)

		_, err = blobs.Size(ctx, content.BlobID("orphan"))
		require.ErrorIs(t, err, content.ErrBlobNotFound)

		got, err := eng.ReadFile(ctx, "/kept", 64, 0)
		require.NoError(t, err)
		require.Equal(t, []byte("live data"), got)
	})

	t.Run("NothingToDoOnCleanStore", func(t *testing.T) {
		eng, meta, blobs := newTestSetup(t)

		require.NoError(t, eng.CreateFile(ctx, "/a", 0644))
		require.NoError(t, eng.WriteFile(ctx, "/a", []byte("x"), 0))

		c, err := NewCollector(meta, blobs, Config{})
		require.NoError(t, err)

		stats, err := c.RunNow(ctx)
		require.NoError(t, err)
		require.Zero(t, stats.Orphaned)
		require.Zero(t, stats.Deleted)
	})

	t.Run("DryRunDeletesNothing", func(t *testing.T) {
		_, meta, blobs := newTestSetup(t)

		require.NoError(t, blobs.WriteAt(ctx, content.BlobID("orphan"), 0, []byte("dead")))

		c, err := NewCollector(meta, blobs, Config{DryRun: true})
		require.NoError(t, err)

		stats, err := c.RunNow(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(1), stats.Orphaned)
		require.Zero(t, stats.Deleted)

		_, err = blobs.Size(ctx, content.BlobID("orphan"))
		require.NoError(t, err)
	})

	t.Run("UnwrittenFilesDoNotCountAsOrphans", func(t *testing.T) {
		// A created-but-never-written file has a ContentID but no blob.
		// The collector must tolerate referenced ids with no backing
		// blob; only the reverse direction is an orphan.
		eng, meta, blobs := newTestSetup(t)

		require.NoError(t, eng.CreateFile(ctx, "/empty", 0644))

		c, err := NewCollector(meta, blobs, Config{})
		require.NoError(t, err)

		stats, err := c.RunNow(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(1), stats.Referenced)
		require.Zero(t, stats.Existing)
		require.Zero(t, stats.Orphaned)
	})
}

func TestCollectorLifecycle(t *testing.T) {
	t.Run("StartStop", func(t *testing.T) {
		_, meta, blobs := newTestSetup(t)

		c, err := NewCollector(meta, blobs, Config{Interval: time.Hour})
		require.NoError(t, err)

		c.Start()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, c.Stop(ctx))
	})
}
