// Package content defines the bulk-data (blob) store contract used by
// the local engine for nodes that do not run on a raw block device.
//
// A blob holds the full byte content of one file, addressed by the
// BlobID recorded in the file's metadata. Backends: local filesystem
// (default), S3-compatible object storage, and an in-memory store for
// tests.
package content

import (
	"context"
	"errors"
)

// BlobID identifies one blob in a store.
type BlobID string

// ErrBlobNotFound is returned when a blob does not exist. Engine code
// wraps it into the shared error taxonomy at the engine boundary.
var ErrBlobNotFound = errors.New("content: blob not found")

// Store is the bulk-data persistence contract.
//
// Implementations must be safe for concurrent use across different
// blobs. Concurrent writers of the same blob are the engine's problem:
// it serializes per-file mutations.
type Store interface {
	// ReadAt reads up to count bytes starting at offset. Reads past the
	// end of the blob return the available prefix (possibly empty), not
	// an error, mirroring pread semantics.
	ReadAt(ctx context.Context, id BlobID, offset uint64, count uint32) ([]byte, error)

	// WriteAt writes data at offset, growing the blob if needed. A gap
	// between the old size and offset reads back as zeroes. Creates the
	// blob if it does not exist.
	WriteAt(ctx context.Context, id BlobID, offset uint64, data []byte) error

	// Truncate sets the blob to exactly size bytes, extending with
	// zeroes or discarding the tail.
	Truncate(ctx context.Context, id BlobID, size uint64) error

	// Size returns the current size of the blob.
	Size(ctx context.Context, id BlobID) (uint64, error)

	// Delete removes the blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, id BlobID) error

	// Close releases backend resources.
	Close() error
}

// Lister is an optional interface for stores that can enumerate every
// blob they hold. The garbage collector needs it to find blobs no file
// record references anymore.
type Lister interface {
	// ListAll returns the ids of all blobs in the store.
	ListAll(ctx context.Context) ([]BlobID, error)
}

// BatchDeleter is an optional interface for stores with a bulk delete
// primitive (S3 DeleteObjects). The garbage collector prefers it over
// per-blob Delete calls when available.
type BatchDeleter interface {
	// DeleteBatch removes the given blobs, returning per-blob failures.
	// A blob missing from the returned map was deleted (or already
	// absent). The error return is for whole-batch failures.
	DeleteBatch(ctx context.Context, ids []BlobID) (map[BlobID]error, error)
}
