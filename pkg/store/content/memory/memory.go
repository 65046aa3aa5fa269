// Package memory implements an in-memory blob store, used by tests and
// by throwaway single-node configurations.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/marmos91/shardfs/pkg/store/content"
)

// MemoryStore implements content.Store with a mutex-guarded map.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[content.BlobID][]byte
}

func New() *MemoryStore {
	return &MemoryStore{blobs: make(map[content.BlobID][]byte)}
}

func (s *MemoryStore) ReadAt(ctx context.Context, id content.BlobID, offset uint64, count uint32) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.blobs[id]
	if !ok {
		return nil, fmt.Errorf("blob %q: %w", id, content.ErrBlobNotFound)
	}
	if offset >= uint64(len(blob)) {
		return []byte{}, nil
	}
	end := offset + uint64(count)
	if end > uint64(len(blob)) {
		end = uint64(len(blob))
	}
	out := make([]byte, end-offset)
	copy(out, blob[offset:end])
	return out, nil
}

func (s *MemoryStore) WriteAt(ctx context.Context, id content.BlobID, offset uint64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blob := s.blobs[id]
	end := offset + uint64(len(data))
	if end > uint64(len(blob)) {
		grown := make([]byte, end)
		copy(grown, blob)
		blob = grown
	}
	copy(blob[offset:end], data)
	s.blobs[id] = blob
	return nil
}

func (s *MemoryStore) Truncate(ctx context.Context, id content.BlobID, size uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blob := s.blobs[id]
	if size <= uint64(len(blob)) {
		s.blobs[id] = blob[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, blob)
	s.blobs[id] = grown
	return nil
}

func (s *MemoryStore) Size(ctx context.Context, id content.BlobID) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.blobs[id]
	if !ok {
		return 0, fmt.Errorf("blob %q: %w", id, content.ErrBlobNotFound)
	}
	return uint64(len(blob)), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id content.BlobID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, id)
	return nil
}

// ListAll returns the ids of all stored blobs.
func (s *MemoryStore) ListAll(ctx context.Context) ([]content.BlobID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]content.BlobID, 0, len(s.blobs))
	for id := range s.blobs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

var (
	_ content.Store  = (*MemoryStore)(nil)
	_ content.Lister = (*MemoryStore)(nil)
)
