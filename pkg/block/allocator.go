package block

import (
	"github.com/marmos91/shardfs/pkg/store/metadata"
)

// Allocator tracks free and allocated extents over one device.
//
// Two skip lists are kept in lockstep: byOffset indexes every extent by
// device offset (coalescing needs predecessor/successor), and free
// indexes only Free extents by (length, offset) so allocation finds the
// first free extent of sufficient size in O(log n).
//
// The allocator itself is not goroutine-safe: the engine serializes
// mutations under its own lock, per the shared-resource model, so taking
// a second lock here would only hide misuse.
type Allocator struct {
	byOffset  *skipList
	free      *skipList
	size      uint64
	freeBytes uint64
}

// NewAllocator covers [0, size) with a single Free extent.
func NewAllocator(size uint64) *Allocator {
	a := &Allocator{
		byOffset:  newSkipList(),
		free:      newSkipList(),
		size:      size,
		freeBytes: size,
	}
	if size > 0 {
		ext := &Extent{Offset: 0, Length: size, State: Free}
		a.insert(ext)
	}
	return a
}

// Reserve marks [offset, offset+length) as Allocated while rebuilding
// allocator state from persisted extent lists at engine startup. The
// range must currently be covered by Free extents.
func (a *Allocator) Reserve(offset, length uint64) error {
	if length == 0 {
		return nil
	}
	end := offset + length
	if end > a.size {
		return metadata.NewError(metadata.ErrIO, "reserved extent beyond device", "")
	}

	for offset < end {
		ext := a.floorByOffset(offset)
		if ext == nil || ext.State != Free || ext.End() <= offset {
			return metadata.NewError(metadata.ErrIO, "reserved extent overlaps allocation", "")
		}
		take := ext.End() - offset
		if take > end-offset {
			take = end - offset
		}
		a.carve(ext, offset, take)
		offset += take
	}
	return nil
}

// Allocate reserves extents covering n bytes.
//
// Policy: first the smallest free extent with length >= n (single-extent
// fit, found via the size index); if none exists, greedily take the
// largest free extents until n is covered. Returns ErrNoSpace without
// mutating state when the device cannot cover n.
func (a *Allocator) Allocate(n uint64) ([]Extent, error) {
	if n == 0 {
		return nil, nil
	}
	if n > a.freeBytes {
		return nil, metadata.NewError(metadata.ErrNoSpace, "no space left on device", "")
	}

	var out []Extent
	remaining := n
	for remaining > 0 {
		ext := a.free.ceil(skipKey{primary: remaining})
		if ext == nil {
			// No single extent fits what remains: consume the largest
			// and keep going.
			ext = a.free.max()
		}
		take := ext.Length
		if take > remaining {
			take = remaining
		}
		got := a.carve(ext, ext.Offset, take)
		out = append(out, *got)
		remaining -= take
	}
	return out, nil
}

// ExtendAt tries to grow an allocation ending at end in place by up to
// want bytes, which keeps sequentially-written files contiguous instead
// of fragmenting them. Returns the number of bytes granted (0 if the
// neighbouring extent is not free).
func (a *Allocator) ExtendAt(end uint64, want uint64) (Extent, uint64) {
	next := a.findByOffset(end)
	if next == nil || next.State != Free {
		return Extent{}, 0
	}
	take := next.Length
	if take > want {
		take = want
	}
	got := a.carve(next, next.Offset, take)
	return *got, take
}

// Release returns extents to the free pool, coalescing with adjacent
// free neighbours so long runs of churn do not shatter the device into
// slivers.
func (a *Allocator) Release(extents []metadata.ExtentRef) {
	for _, ref := range extents {
		a.releaseOne(ref.Offset, ref.Length)
	}
}

func (a *Allocator) releaseOne(offset, length uint64) {
	ext := a.findByOffset(offset)
	if ext == nil || ext.State != Allocated {
		return
	}
	// Extent lists reference whole allocator extents; a partial release
	// first splits the allocated extent.
	if ext.Length > length {
		a.split(ext, offset+length)
	}

	a.removeExt(ext)
	ext.State = Free
	a.freeBytes += ext.Length

	// Merge with a free predecessor.
	if prev := a.floorByOffset(offset - 1); offset > 0 && prev != nil && prev.State == Free && prev.End() == ext.Offset {
		a.removeExt(prev)
		ext.Offset = prev.Offset
		ext.Length += prev.Length
	}
	// Merge with a free successor.
	if next := a.findByOffset(ext.End()); next != nil && next.State == Free {
		a.removeExt(next)
		ext.Length += next.Length
	}
	a.insert(ext)
}

// FreeBytes returns the number of unallocated bytes.
func (a *Allocator) FreeBytes() uint64 {
	return a.freeBytes
}

// Size returns the device size the allocator covers.
func (a *Allocator) Size() uint64 {
	return a.size
}

// Extents returns a snapshot of all extents in offset order. Used by
// tests to check the coverage invariants.
func (a *Allocator) Extents() []Extent {
	var out []Extent
	a.byOffset.walk(func(e *Extent) bool {
		out = append(out, *e)
		return true
	})
	return out
}

// carve takes [offset, offset+length) out of the free extent ext,
// splitting off free remainders on either side, and returns the new
// Allocated extent.
func (a *Allocator) carve(ext *Extent, offset, length uint64) *Extent {
	a.removeExt(ext)

	if before := offset - ext.Offset; before > 0 {
		a.insert(&Extent{Offset: ext.Offset, Length: before, State: Free})
	}
	if after := ext.End() - (offset + length); after > 0 {
		a.insert(&Extent{Offset: offset + length, Length: after, State: Free})
	}

	got := &Extent{Offset: offset, Length: length, State: Allocated}
	a.insert(got)
	a.freeBytes -= length
	return got
}

// split divides an allocated extent at cut, keeping both halves
// allocated.
func (a *Allocator) split(ext *Extent, cut uint64) {
	a.removeExt(ext)
	tail := &Extent{Offset: cut, Length: ext.End() - cut, State: Allocated}
	ext.Length = cut - ext.Offset
	a.insert(ext)
	a.insert(tail)
}

func (a *Allocator) insert(ext *Extent) {
	a.byOffset.insert(skipKey{primary: ext.Offset}, ext)
	if ext.State == Free {
		a.free.insert(skipKey{primary: ext.Length, secondary: ext.Offset}, ext)
	}
}

func (a *Allocator) removeExt(ext *Extent) {
	a.byOffset.remove(skipKey{primary: ext.Offset})
	if ext.State == Free {
		a.free.remove(skipKey{primary: ext.Length, secondary: ext.Offset})
	}
}

func (a *Allocator) findByOffset(offset uint64) *Extent {
	ext := a.byOffset.ceil(skipKey{primary: offset})
	if ext == nil || ext.Offset != offset {
		return nil
	}
	return ext
}

func (a *Allocator) floorByOffset(offset uint64) *Extent {
	return a.byOffset.floor(skipKey{primary: offset, secondary: ^uint64(0)})
}
