package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	badgerstore "github.com/marmos91/shardfs/pkg/store/metadata/badger"

	"github.com/marmos91/shardfs/pkg/store/content/memory"
	"github.com/marmos91/shardfs/pkg/store/metadata"
)

// ============================================================================
// Helpers
// ============================================================================

func newTestEngine(t *testing.T) *LocalEngine {
	t.Helper()

	meta, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	return NewLocal(meta, memory.New())
}

// ============================================================================
// Tests
// ============================================================================

func TestLocalCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("CreateFileAssignsContent", func(t *testing.T) {
		eng := newTestEngine(t)

		require.NoError(t, eng.CreateFile(ctx, "/a.txt", 0644))

		attr, err := eng.GetFileAttributes(ctx, "/a.txt")
		require.NoError(t, err)
		require.Equal(t, metadata.FileTypeRegular, attr.Type)
		require.Equal(t, uint32(0644), attr.Mode)
		require.NotEmpty(t, attr.ContentID)
		require.Zero(t, attr.Size)
	})

	t.Run("CreateDirectory", func(t *testing.T) {
		eng := newTestEngine(t)

		require.NoError(t, eng.CreateDirectory(ctx, "/dir", 0755))

		attr, err := eng.GetFileAttributes(ctx, "/dir")
		require.NoError(t, err)
		require.Equal(t, metadata.FileTypeDirectory, attr.Type)
		require.Empty(t, attr.ContentID)
	})

	t.Run("DistinctFilesGetDistinctContent", func(t *testing.T) {
		eng := newTestEngine(t)

		require.NoError(t, eng.CreateFile(ctx, "/a", 0644))
		require.NoError(t, eng.CreateFile(ctx, "/b", 0644))

		a, err := eng.GetFileAttributes(ctx, "/a")
		require.NoError(t, err)
		b, err := eng.GetFileAttributes(ctx, "/b")
		require.NoError(t, err)
		require.NotEqual(t, a.ContentID, b.ContentID)
	})
}

func TestLocalReadWrite(t *testing.T) {
	ctx := context.Background()

	t.Run("WriteThenReadBack", func(t *testing.T) {
		eng := newTestEngine(t)
		require.NoError(t, eng.CreateFile(ctx, "/f", 0644))

		payload := []byte("hello, blob store")
		require.NoError(t, eng.WriteFile(ctx, "/f", payload, 0))

		got, err := eng.ReadFile(ctx, "/f", uint32(len(payload)), 0)
		require.NoError(t, err)
		require.Equal(t, payload, got)
	})

	t.Run("WriteUpdatesSizeAndMtime", func(t *testing.T) {
		eng := newTestEngine(t)
		require.NoError(t, eng.CreateFile(ctx, "/f", 0644))

		before, err := eng.GetFileAttributes(ctx, "/f")
		require.NoError(t, err)

		require.NoError(t, eng.WriteFile(ctx, "/f", make([]byte, 100), 50))

		after, err := eng.GetFileAttributes(ctx, "/f")
		require.NoError(t, err)
		require.Equal(t, uint64(150), after.Size)
		require.False(t, after.Mtime.Before(before.Mtime))
	})

	t.Run("OverwriteDoesNotShrink", func(t *testing.T) {
		eng := newTestEngine(t)
		require.NoError(t, eng.CreateFile(ctx, "/f", 0644))

		require.NoError(t, eng.WriteFile(ctx, "/f", make([]byte, 200), 0))
		require.NoError(t, eng.WriteFile(ctx, "/f", []byte("xy"), 10))

		attr, err := eng.GetFileAttributes(ctx, "/f")
		require.NoError(t, err)
		require.Equal(t, uint64(200), attr.Size)
	})

	t.Run("ReadNeverWrittenFileIsEmpty", func(t *testing.T) {
		eng := newTestEngine(t)
		require.NoError(t, eng.CreateFile(ctx, "/f", 0644))

		got, err := eng.ReadFile(ctx, "/f", 1024, 0)
		require.NoError(t, err)
		require.Empty(t, got)
	})

	t.Run("ReadMissingFile", func(t *testing.T) {
		eng := newTestEngine(t)

		_, err := eng.ReadFile(ctx, "/ghost", 10, 0)
		require.Equal(t, metadata.ErrNoEntry, metadata.CodeOf(err))
	})

	t.Run("WriteToDirectory", func(t *testing.T) {
		eng := newTestEngine(t)
		require.NoError(t, eng.CreateDirectory(ctx, "/dir", 0755))

		err := eng.WriteFile(ctx, "/dir", []byte("nope"), 0)
		require.Equal(t, metadata.ErrIsDir, metadata.CodeOf(err))

		_, err = eng.ReadFile(ctx, "/dir", 10, 0)
		require.Equal(t, metadata.ErrIsDir, metadata.CodeOf(err))
	})
}

func TestLocalOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("OpenExisting", func(t *testing.T) {
		eng := newTestEngine(t)
		require.NoError(t, eng.CreateFile(ctx, "/f", 0600))
		require.NoError(t, eng.OpenFile(ctx, "/f", 0))
	})

	t.Run("OpenMissingWithoutCreate", func(t *testing.T) {
		eng := newTestEngine(t)

		err := eng.OpenFile(ctx, "/f", 0)
		require.Equal(t, metadata.ErrNoEntry, metadata.CodeOf(err))
	})

	t.Run("OpenCreateMakesTheFile", func(t *testing.T) {
		eng := newTestEngine(t)

		require.NoError(t, eng.OpenFile(ctx, "/f", OpenCreate))

		attr, err := eng.GetFileAttributes(ctx, "/f")
		require.NoError(t, err)
		require.Equal(t, metadata.FileTypeRegular, attr.Type)
		require.Equal(t, uint32(0644), attr.Mode)
	})

	t.Run("OpenTruncateEmptiesTheFile", func(t *testing.T) {
		eng := newTestEngine(t)
		require.NoError(t, eng.CreateFile(ctx, "/f", 0644))
		require.NoError(t, eng.WriteFile(ctx, "/f", []byte("stale contents"), 0))

		require.NoError(t, eng.OpenFile(ctx, "/f", OpenTruncate))

		attr, err := eng.GetFileAttributes(ctx, "/f")
		require.NoError(t, err)
		require.Equal(t, uint64(0), attr.Size)

		data, err := eng.ReadFile(ctx, "/f", 64, 0)
		require.NoError(t, err)
		require.Empty(t, data)
	})

	t.Run("OpenDirectoryFails", func(t *testing.T) {
		eng := newTestEngine(t)
		require.NoError(t, eng.CreateDirectory(ctx, "/dir", 0755))

		err := eng.OpenFile(ctx, "/dir", OpenCreate)
		require.Equal(t, metadata.ErrIsDir, metadata.CodeOf(err))
	})
}

func TestLocalDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("DeleteFileRemovesBlob", func(t *testing.T) {
		eng := newTestEngine(t)
		require.NoError(t, eng.CreateFile(ctx, "/f", 0644))
		require.NoError(t, eng.WriteFile(ctx, "/f", []byte("data"), 0))

		require.NoError(t, eng.DeleteFile(ctx, "/f"))

		_, err := eng.GetFileAttributes(ctx, "/f")
		require.Equal(t, metadata.ErrNoEntry, metadata.CodeOf(err))

		exists, err := eng.IsExist(ctx, "/f")
		require.NoError(t, err)
		require.False(t, exists)
	})

	t.Run("DeleteFileOnDirectory", func(t *testing.T) {
		eng := newTestEngine(t)
		require.NoError(t, eng.CreateDirectory(ctx, "/dir", 0755))

		err := eng.DeleteFile(ctx, "/dir")
		require.Equal(t, metadata.ErrIsDir, metadata.CodeOf(err))
	})

	t.Run("DeleteDirectoryRequiresEmpty", func(t *testing.T) {
		eng := newTestEngine(t)
		require.NoError(t, eng.CreateDirectory(ctx, "/dir", 0755))
		require.NoError(t, eng.CreateFile(ctx, "/dir/f", 0644))

		err := eng.DeleteDirectory(ctx, "/dir")
		require.Equal(t, metadata.ErrNotEmpty, metadata.CodeOf(err))

		require.NoError(t, eng.DeleteFile(ctx, "/dir/f"))
		require.NoError(t, eng.DeleteDirectory(ctx, "/dir"))
	})
}

func TestLocalDirectoryEntries(t *testing.T) {
	ctx := context.Background()

	t.Run("ListsChildren", func(t *testing.T) {
		eng := newTestEngine(t)
		require.NoError(t, eng.CreateDirectory(ctx, "/dir", 0755))
		require.NoError(t, eng.CreateFile(ctx, "/dir/a", 0644))
		require.NoError(t, eng.CreateFile(ctx, "/dir/b", 0644))

		entries, err := eng.ReadDirectory(ctx, "/dir")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		require.Equal(t, "a", entries[0].Name)
		require.Equal(t, "b", entries[1].Name)
	})

	t.Run("ManualEntryLifecycle", func(t *testing.T) {
		eng := newTestEngine(t)
		require.NoError(t, eng.CreateDirectory(ctx, "/dir", 0755))

		require.NoError(t, eng.AddEntry(ctx, "/dir", "remote", "/dir/remote"))

		entries, err := eng.ReadDirectory(ctx, "/dir")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, "remote", entries[0].Name)

		require.NoError(t, eng.DeleteEntry(ctx, "/dir", "remote"))

		entries, err = eng.ReadDirectory(ctx, "/dir")
		require.NoError(t, err)
		require.Empty(t, entries)
	})
}
