// Package metadata defines the metadata store contract shared by every
// storage backend: file records, directory entries and the extent lists
// that link a file name to its on-device extents.
//
// Both physical engines (blob-backed local engine and raw block engine)
// persist their metadata through this interface, so the distributed
// engine stays backend-agnostic and the error taxonomy is uniform.
package metadata

import (
	"context"
	"time"
)

// FileType distinguishes the two record kinds the store manages.
type FileType uint32

const (
	FileTypeRegular FileType = iota + 1
	FileTypeDirectory
)

// FileAttr holds the protocol-agnostic attributes of a file record.
type FileAttr struct {
	// Type is FileTypeRegular or FileTypeDirectory
	Type FileType `json:"type"`

	// Mode holds Unix-style permission bits
	Mode uint32 `json:"mode"`

	// Size is the file size in bytes (0 for directories)
	Size uint64 `json:"size"`

	// ContentID identifies the bulk data in the blob store. Empty for
	// directories and for files stored by the block engine, which keeps
	// an extent list instead.
	ContentID string `json:"content_id,omitempty"`

	Atime time.Time `json:"atime"`
	Mtime time.Time `json:"mtime"`
	Ctime time.Time `json:"ctime"`
}

// DirEntry is one (name -> path) entry in a directory.
//
// Path is the full path of the child. For entries added on behalf of a
// remote owner the child's data may live on another node; the entry is
// authoritative regardless, because directory listings are always served
// by the directory's owning node.
type DirEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// ExtentRef is one contiguous device range backing part of a file, in
// file order. The block engine stores a file's extent list here so that
// a crash mid-write leaves either the old or the new list, never a torn
// one.
type ExtentRef struct {
	Offset uint64
	Length uint64
}

// Store is the metadata persistence contract.
//
// Implementations must be safe for concurrent use. Mutations that touch
// a record and its parent directory entry (create, remove) are atomic:
// either both are visible or neither is.
type Store interface {
	// CreateFile inserts a regular file record and links it into its
	// parent directory. The parent must exist and be a directory.
	CreateFile(ctx context.Context, path string, attr *FileAttr) error

	// CreateDirectory inserts a directory record and links it into its
	// parent directory.
	CreateDirectory(ctx context.Context, path string, attr *FileAttr) error

	// GetAttr returns the attributes of the record at path.
	GetAttr(ctx context.Context, path string) (*FileAttr, error)

	// SetAttr replaces the attributes of the record at path.
	SetAttr(ctx context.Context, path string, attr *FileAttr) error

	// Exists reports whether a record exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// ReadDirectory lists the entries of the directory at path.
	ReadDirectory(ctx context.Context, path string) ([]DirEntry, error)

	// AddEntry adds a (name -> target) entry to the directory at dir.
	// The target path is stored verbatim; its record may live on another
	// node.
	AddEntry(ctx context.Context, dir, name, target string) error

	// DeleteEntry removes the named entry from the directory at dir.
	DeleteEntry(ctx context.Context, dir, name string) error

	// RemoveFile deletes a regular file record and its parent entry.
	RemoveFile(ctx context.Context, path string) error

	// RemoveDirectory deletes an empty directory record and its parent
	// entry. Returns ErrNotEmpty if the directory still has entries.
	RemoveDirectory(ctx context.Context, path string) error

	// GetExtents returns the extent list of the file at path, in file
	// order. A file with no extents returns an empty list.
	GetExtents(ctx context.Context, path string) ([]ExtentRef, error)

	// SetExtents atomically replaces the extent list of the file at path.
	SetExtents(ctx context.Context, path string, extents []ExtentRef) error

	// Close releases the backing store.
	Close() error
}
