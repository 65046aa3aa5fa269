// Package fs implements filesystem-based blob storage.
//
// Blobs are stored as regular files under a base directory, one file per
// blob, named by the hex-encoded BlobID so arbitrary ids stay
// filesystem-safe.
package fs

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/marmos91/shardfs/pkg/store/content"
)

// FSStore implements content.Store on the local filesystem.
//
// The underlying file operations are thread-safe at the OS level;
// per-blob write serialization is the caller's responsibility.
type FSStore struct {
	basePath string
}

// New creates a filesystem blob store rooted at basePath, creating the
// directory if needed.
func New(ctx context.Context, basePath string) (*FSStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &FSStore{basePath: basePath}, nil
}

func (s *FSStore) blobPath(id content.BlobID) string {
	return filepath.Join(s.basePath, hex.EncodeToString([]byte(id)))
}

func (s *FSStore) ReadAt(ctx context.Context, id content.BlobID, offset uint64, count uint32) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.blobPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %q: %w", id, content.ErrBlobNotFound)
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	defer f.Close()

	buf := make([]byte, count)
	n, err := f.ReadAt(buf, int64(offset))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return buf[:n], nil
}

func (s *FSStore) WriteAt(ctx context.Context, id content.BlobID, offset uint64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.OpenFile(s.blobPath(id), os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open blob for write: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteAt(data, int64(offset)); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	return nil
}

func (s *FSStore) Truncate(ctx context.Context, id content.BlobID, size uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.OpenFile(s.blobPath(id), os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open blob for truncate: %w", err)
	}
	defer f.Close()

	if err := f.Truncate(int64(size)); err != nil {
		return fmt.Errorf("truncate blob: %w", err)
	}
	return nil
}

func (s *FSStore) Size(ctx context.Context, id content.BlobID) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	info, err := os.Stat(s.blobPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("blob %q: %w", id, content.ErrBlobNotFound)
		}
		return 0, fmt.Errorf("stat blob: %w", err)
	}
	return uint64(info.Size()), nil
}

func (s *FSStore) Delete(ctx context.Context, id content.BlobID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(s.blobPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// ListAll enumerates every blob file under the base directory.
func (s *FSStore) ListAll(ctx context.Context) ([]content.BlobID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("list blob directory: %w", err)
	}

	ids := make([]content.BlobID, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		raw, err := hex.DecodeString(entry.Name())
		if err != nil {
			// Not one of ours; leave foreign files alone.
			continue
		}
		ids = append(ids, content.BlobID(raw))
	}
	return ids, nil
}

func (s *FSStore) Close() error {
	return nil
}

var (
	_ content.Store  = (*FSStore)(nil)
	_ content.Lister = (*FSStore)(nil)
)
