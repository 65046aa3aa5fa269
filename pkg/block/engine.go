package block

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/shardfs/pkg/engine"
	"github.com/marmos91/shardfs/pkg/store/metadata"
)

// MetadataStore is what the block engine needs from its metadata
// backend: the shared store contract plus extent-list enumeration so
// allocator state can be rebuilt from persisted metadata at startup.
type MetadataStore interface {
	metadata.Store

	// ForEachExtentList visits every persisted extent list.
	ForEachExtentList(ctx context.Context, fn func(extents []metadata.ExtentRef) error) error
}

// Engine is the raw-block-device storage engine.
//
// File bytes live in device extents; the filename -> extent-list mapping
// is persisted in the metadata store and swapped atomically only after
// the physical write succeeded, so a crash mid-write leaves the old
// mapping or the new one, never a torn one. Directory and attribute
// operations delegate to the metadata store, which keeps the engine
// interchangeable with the blob-backed LocalEngine.
type Engine struct {
	meta  MetadataStore
	dev   *Device
	alloc *Allocator

	// mu serializes allocator mutations and extent-list updates, per the
	// shared-resource model: allocation decisions must not race reads of
	// in-flight extent lists.
	mu sync.Mutex
}

// New opens the engine over dev, rebuilding allocator state from the
// extent lists persisted in meta.
func New(ctx context.Context, meta MetadataStore, dev *Device) (*Engine, error) {
	alloc := NewAllocator(dev.Size())
	err := meta.ForEachExtentList(ctx, func(extents []metadata.ExtentRef) error {
		for _, ref := range extents {
			if err := alloc.Reserve(ref.Offset, ref.Length); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Engine{meta: meta, dev: dev, alloc: alloc}, nil
}

func (e *Engine) CreateFile(ctx context.Context, path string, mode uint32) error {
	now := time.Now()
	return e.meta.CreateFile(ctx, path, &metadata.FileAttr{
		Type:  metadata.FileTypeRegular,
		Mode:  mode,
		Atime: now,
		Mtime: now,
		Ctime: now,
	})
}

func (e *Engine) CreateDirectory(ctx context.Context, path string, mode uint32) error {
	now := time.Now()
	return e.meta.CreateDirectory(ctx, path, &metadata.FileAttr{
		Type:  metadata.FileTypeDirectory,
		Mode:  mode,
		Atime: now,
		Mtime: now,
		Ctime: now,
	})
}

func (e *Engine) DeleteFile(ctx context.Context, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	extents, err := e.meta.GetExtents(ctx, path)
	if err != nil {
		return err
	}
	if err := e.meta.RemoveFile(ctx, path); err != nil {
		return err
	}
	e.alloc.Release(extents)
	return nil
}

func (e *Engine) DeleteDirectory(ctx context.Context, path string) error {
	return e.meta.RemoveDirectory(ctx, path)
}

func (e *Engine) GetFileAttributes(ctx context.Context, path string) (*metadata.FileAttr, error) {
	return e.meta.GetAttr(ctx, path)
}

func (e *Engine) ReadDirectory(ctx context.Context, path string) ([]metadata.DirEntry, error) {
	return e.meta.ReadDirectory(ctx, path)
}

func (e *Engine) OpenFile(ctx context.Context, path string, flags uint32) error {
	attr, err := e.meta.GetAttr(ctx, path)
	if err != nil {
		if metadata.CodeOf(err) == metadata.ErrNoEntry && flags&engine.OpenCreate != 0 {
			return e.CreateFile(ctx, path, 0644)
		}
		return err
	}
	if attr.Type != metadata.FileTypeRegular {
		return metadata.NewError(metadata.ErrIsDir, "is a directory", path)
	}
	if flags&engine.OpenTruncate != 0 {
		return e.Truncate(ctx, path, 0)
	}
	return nil
}

// ReadFile reads up to length bytes at offset, clamped to the file size.
func (e *Engine) ReadFile(ctx context.Context, path string, length uint32, offset uint64) ([]byte, error) {
	attr, err := e.meta.GetAttr(ctx, path)
	if err != nil {
		return nil, err
	}
	if attr.Type != metadata.FileTypeRegular {
		return nil, metadata.NewError(metadata.ErrIsDir, "is a directory", path)
	}

	if offset >= attr.Size {
		return []byte{}, nil
	}
	want := uint64(length)
	if offset+want > attr.Size {
		want = attr.Size - offset
	}

	extents, err := e.meta.GetExtents(ctx, path)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, want)
	if err := e.readRange(extents, offset, buf); err != nil {
		return nil, metadata.NewError(metadata.ErrIO, "device read: "+err.Error(), path)
	}
	return buf, nil
}

// WriteFile writes data at offset.
//
// Coverage growth prefers extending the file's trailing extent in place
// (keeping sequential writes contiguous), then falls back to fresh
// allocation. The extent list in metadata is replaced only after every
// device write succeeded; on failure newly taken extents are released
// and the old list stays authoritative.
func (e *Engine) WriteFile(ctx context.Context, path string, data []byte, offset uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	attr, err := e.meta.GetAttr(ctx, path)
	if err != nil {
		return err
	}
	if attr.Type != metadata.FileTypeRegular {
		return metadata.NewError(metadata.ErrIsDir, "is a directory", path)
	}

	extents, err := e.meta.GetExtents(ctx, path)
	if err != nil {
		return err
	}

	covered := uint64(0)
	for _, ref := range extents {
		covered += ref.Length
	}
	end := offset + uint64(len(data))

	newExtents := append([]metadata.ExtentRef(nil), extents...)
	var taken []metadata.ExtentRef

	if end > covered {
		need := end - covered

		// Try to grow the trailing extent's neighbourhood first.
		if len(newExtents) > 0 {
			tail := newExtents[len(newExtents)-1]
			if got, n := e.alloc.ExtendAt(tail.Offset+tail.Length, need); n > 0 {
				ref := metadata.ExtentRef{Offset: got.Offset, Length: got.Length}
				newExtents = append(newExtents, ref)
				taken = append(taken, ref)
				need -= n
			}
		}
		if need > 0 {
			more, err := e.alloc.Allocate(need)
			if err != nil {
				e.alloc.Release(taken)
				return err
			}
			for _, ext := range more {
				ref := metadata.ExtentRef{Offset: ext.Offset, Length: ext.Length}
				newExtents = append(newExtents, ref)
				taken = append(taken, ref)
			}
		}
	}

	// Zero the gap between the old end of file and the write start so
	// stale device bytes never read back as file content.
	if offset > attr.Size {
		gap := make([]byte, offset-attr.Size)
		if err := e.writeRange(newExtents, attr.Size, gap); err != nil {
			e.alloc.Release(taken)
			return metadata.NewError(metadata.ErrIO, "device write: "+err.Error(), path)
		}
	}

	if err := e.writeRange(newExtents, offset, data); err != nil {
		e.alloc.Release(taken)
		return metadata.NewError(metadata.ErrIO, "device write: "+err.Error(), path)
	}

	if err := e.meta.SetExtents(ctx, path, newExtents); err != nil {
		e.alloc.Release(taken)
		return err
	}

	if end > attr.Size {
		attr.Size = end
	}
	attr.Mtime = time.Now()
	return e.meta.SetAttr(ctx, path, attr)
}

// Truncate shrinks (or logically grows) the file to size bytes. Whole
// extents past the new size return to the free pool and coalesce with
// their neighbours; a partially covered boundary extent stays allocated.
func (e *Engine) Truncate(ctx context.Context, path string, size uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	attr, err := e.meta.GetAttr(ctx, path)
	if err != nil {
		return err
	}
	if attr.Type != metadata.FileTypeRegular {
		return metadata.NewError(metadata.ErrIsDir, "is a directory", path)
	}

	extents, err := e.meta.GetExtents(ctx, path)
	if err != nil {
		return err
	}

	var kept, dropped []metadata.ExtentRef
	fileOff := uint64(0)
	for _, ref := range extents {
		if fileOff >= size {
			dropped = append(dropped, ref)
		} else {
			kept = append(kept, ref)
		}
		fileOff += ref.Length
	}

	if err := e.meta.SetExtents(ctx, path, kept); err != nil {
		return err
	}
	e.alloc.Release(dropped)

	attr.Size = size
	attr.Mtime = time.Now()
	return e.meta.SetAttr(ctx, path, attr)
}

func (e *Engine) AddEntry(ctx context.Context, dir, name, target string) error {
	return e.meta.AddEntry(ctx, dir, name, target)
}

func (e *Engine) DeleteEntry(ctx context.Context, dir, name string) error {
	return e.meta.DeleteEntry(ctx, dir, name)
}

func (e *Engine) IsExist(ctx context.Context, path string) (bool, error) {
	return e.meta.Exists(ctx, path)
}

// Allocator exposes allocator state for tests and stats.
func (e *Engine) Allocator() *Allocator {
	return e.alloc
}

// Close flushes and releases the backing device. The metadata store is
// owned by the caller and stays open.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.dev.Sync(); err != nil {
		e.dev.Close()
		return err
	}
	return e.dev.Close()
}

// readRange reads the file byte range [fileOff, fileOff+len(buf)) by
// walking the extent list in file order.
func (e *Engine) readRange(extents []metadata.ExtentRef, fileOff uint64, buf []byte) error {
	return e.mapRange(extents, fileOff, uint64(len(buf)), func(devOff, pos, n uint64) error {
		return e.dev.ReadAt(buf[pos:pos+n], devOff)
	})
}

// writeRange writes buf at file byte offset fileOff.
func (e *Engine) writeRange(extents []metadata.ExtentRef, fileOff uint64, buf []byte) error {
	return e.mapRange(extents, fileOff, uint64(len(buf)), func(devOff, pos, n uint64) error {
		return e.dev.WriteAt(buf[pos:pos+n], devOff)
	})
}

// mapRange translates a file byte range onto device ranges and invokes
// fn(deviceOffset, bufPos, n) for each contiguous piece.
func (e *Engine) mapRange(extents []metadata.ExtentRef, fileOff, length uint64, fn func(devOff, pos, n uint64) error) error {
	if length == 0 {
		return nil
	}

	pos := uint64(0)
	cursor := uint64(0)
	for _, ref := range extents {
		if pos == length {
			return nil
		}
		extStart := cursor
		extEnd := cursor + ref.Length
		cursor = extEnd

		start := fileOff + pos
		if start >= extEnd {
			continue
		}
		n := extEnd - start
		if n > length-pos {
			n = length - pos
		}
		if err := fn(ref.Offset+(start-extStart), pos, n); err != nil {
			return err
		}
		pos += n
	}
	if pos != length {
		return metadata.NewError(metadata.ErrIO, "file range not covered by extents", "")
	}
	return nil
}

var _ engine.Engine = (*Engine)(nil)
