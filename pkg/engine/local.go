package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/shardfs/pkg/store/content"
	"github.com/marmos91/shardfs/pkg/store/metadata"
)

// LocalEngine is the default storage engine: metadata in an embedded
// key-value store, bulk data in a blob store (filesystem, S3 or memory
// backend). Used on nodes not configured with a raw block device.
type LocalEngine struct {
	meta  metadata.Store
	blobs content.Store

	// mu serializes mutations of one file's size/extent bookkeeping
	// against each other. Coarse but correct; the stores themselves are
	// concurrency-safe.
	mu sync.Mutex
}

// NewLocal creates a LocalEngine over the given stores.
func NewLocal(meta metadata.Store, blobs content.Store) *LocalEngine {
	if meta == nil {
		panic("metadata store cannot be nil")
	}
	if blobs == nil {
		panic("blob store cannot be nil")
	}
	return &LocalEngine{meta: meta, blobs: blobs}
}

func (e *LocalEngine) CreateFile(ctx context.Context, path string, mode uint32) error {
	now := time.Now()
	attr := &metadata.FileAttr{
		Type:      metadata.FileTypeRegular,
		Mode:      mode,
		ContentID: uuid.NewString(),
		Atime:     now,
		Mtime:     now,
		Ctime:     now,
	}
	return e.meta.CreateFile(ctx, path, attr)
}

func (e *LocalEngine) CreateDirectory(ctx context.Context, path string, mode uint32) error {
	now := time.Now()
	attr := &metadata.FileAttr{
		Type:  metadata.FileTypeDirectory,
		Mode:  mode,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
	return e.meta.CreateDirectory(ctx, path, attr)
}

func (e *LocalEngine) DeleteFile(ctx context.Context, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	attr, err := e.meta.GetAttr(ctx, path)
	if err != nil {
		return err
	}
	if attr.Type != metadata.FileTypeRegular {
		return metadata.NewError(metadata.ErrIsDir, "is a directory", path)
	}
	if err := e.meta.RemoveFile(ctx, path); err != nil {
		return err
	}
	if attr.ContentID != "" {
		if err := e.blobs.Delete(ctx, content.BlobID(attr.ContentID)); err != nil {
			return metadata.NewError(metadata.ErrIO, "delete file data: "+err.Error(), path)
		}
	}
	return nil
}

func (e *LocalEngine) DeleteDirectory(ctx context.Context, path string) error {
	return e.meta.RemoveDirectory(ctx, path)
}

func (e *LocalEngine) GetFileAttributes(ctx context.Context, path string) (*metadata.FileAttr, error) {
	return e.meta.GetAttr(ctx, path)
}

func (e *LocalEngine) ReadDirectory(ctx context.Context, path string) ([]metadata.DirEntry, error) {
	return e.meta.ReadDirectory(ctx, path)
}

func (e *LocalEngine) OpenFile(ctx context.Context, path string, flags uint32) error {
	attr, err := e.meta.GetAttr(ctx, path)
	if err != nil {
		if metadata.CodeOf(err) == metadata.ErrNoEntry && flags&OpenCreate != 0 {
			return e.CreateFile(ctx, path, 0644)
		}
		return err
	}
	if attr.Type != metadata.FileTypeRegular {
		return metadata.NewError(metadata.ErrIsDir, "is a directory", path)
	}
	if flags&OpenTruncate != 0 {
		return e.truncate(ctx, path)
	}
	return nil
}

// truncate empties the file's blob and resets its size.
func (e *LocalEngine) truncate(ctx context.Context, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	attr, err := e.meta.GetAttr(ctx, path)
	if err != nil {
		return err
	}
	if err := e.blobs.Truncate(ctx, content.BlobID(attr.ContentID), 0); err != nil {
		return metadata.NewError(metadata.ErrIO, "truncate file data: "+err.Error(), path)
	}
	attr.Size = 0
	attr.Mtime = time.Now()
	return e.meta.SetAttr(ctx, path, attr)
}

func (e *LocalEngine) ReadFile(ctx context.Context, path string, length uint32, offset uint64) ([]byte, error) {
	attr, err := e.meta.GetAttr(ctx, path)
	if err != nil {
		return nil, err
	}
	if attr.Type != metadata.FileTypeRegular {
		return nil, metadata.NewError(metadata.ErrIsDir, "is a directory", path)
	}

	data, err := e.blobs.ReadAt(ctx, content.BlobID(attr.ContentID), offset, length)
	if err != nil {
		if errors.Is(err, content.ErrBlobNotFound) {
			// Created but never written: reads come back empty.
			return []byte{}, nil
		}
		return nil, metadata.NewError(metadata.ErrIO, "read file data: "+err.Error(), path)
	}
	return data, nil
}

func (e *LocalEngine) WriteFile(ctx context.Context, path string, data []byte, offset uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	attr, err := e.meta.GetAttr(ctx, path)
	if err != nil {
		return err
	}
	if attr.Type != metadata.FileTypeRegular {
		return metadata.NewError(metadata.ErrIsDir, "is a directory", path)
	}

	if err := e.blobs.WriteAt(ctx, content.BlobID(attr.ContentID), offset, data); err != nil {
		return metadata.NewError(metadata.ErrIO, "write file data: "+err.Error(), path)
	}

	// Size and mtime are updated only after the data write succeeded, so
	// a failed write leaves the old attributes intact.
	if end := offset + uint64(len(data)); end > attr.Size {
		attr.Size = end
	}
	attr.Mtime = time.Now()
	return e.meta.SetAttr(ctx, path, attr)
}

func (e *LocalEngine) AddEntry(ctx context.Context, dir, name, target string) error {
	return e.meta.AddEntry(ctx, dir, name, target)
}

func (e *LocalEngine) DeleteEntry(ctx context.Context, dir, name string) error {
	return e.meta.DeleteEntry(ctx, dir, name)
}

func (e *LocalEngine) IsExist(ctx context.Context, path string) (bool, error) {
	return e.meta.Exists(ctx, path)
}

var _ Engine = (*LocalEngine)(nil)
