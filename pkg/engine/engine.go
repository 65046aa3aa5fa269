// Package engine defines the storage-engine capability consumed by the
// distributed engine and implemented by both physical backends: the
// blob-backed local engine (this package) and the raw block-device
// engine (pkg/block).
//
// Both backends share the metadata error taxonomy, so callers never see
// raw backend error types; everything crossing this boundary is a
// StoreError code.
package engine

import (
	"context"

	"github.com/marmos91/shardfs/pkg/store/metadata"
)

// Open flags carried in the wire flags field of OpenFile requests.
const (
	// OpenCreate creates the file if it does not exist.
	OpenCreate uint32 = 1 << 0

	// OpenTruncate empties the file on open, releasing its data.
	OpenTruncate uint32 = 1 << 1
)

// Engine is the logical operation set every storage backend implements.
//
// All paths are canonicalized with metadata.CleanPath before use, so
// the same path string means the same record on every node.
type Engine interface {
	// CreateFile creates an empty regular file with the given mode.
	CreateFile(ctx context.Context, path string, mode uint32) error

	// CreateDirectory creates a directory with the given mode.
	CreateDirectory(ctx context.Context, path string, mode uint32) error

	// DeleteFile removes a regular file and releases its data.
	DeleteFile(ctx context.Context, path string) error

	// DeleteDirectory removes an empty directory.
	DeleteDirectory(ctx context.Context, path string) error

	// GetFileAttributes returns the attributes of the record at path.
	GetFileAttributes(ctx context.Context, path string) (*metadata.FileAttr, error)

	// ReadDirectory lists the entries of the directory at path.
	ReadDirectory(ctx context.Context, path string) ([]metadata.DirEntry, error)

	// OpenFile checks that path is an openable regular file, creating it
	// first when flags carries OpenCreate and emptying it when flags
	// carries OpenTruncate.
	OpenFile(ctx context.Context, path string, flags uint32) error

	// ReadFile reads up to length bytes at offset. Reads past the end of
	// the file return the available prefix.
	ReadFile(ctx context.Context, path string, length uint32, offset uint64) ([]byte, error)

	// WriteFile writes data at offset, growing the file as needed.
	WriteFile(ctx context.Context, path string, data []byte, offset uint64) error

	// AddEntry adds a (name -> target) entry to the directory at dir.
	AddEntry(ctx context.Context, dir, name, target string) error

	// DeleteEntry removes the named entry from the directory at dir.
	DeleteEntry(ctx context.Context, dir, name string) error

	// IsExist reports whether a record exists at path.
	IsExist(ctx context.Context, path string) (bool, error)
}
