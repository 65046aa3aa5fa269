// Package block implements the raw-block-device storage engine: an
// extent allocator over the device's byte range, a skip-list extent
// index for sub-linear allocation decisions, and file read/write on top
// of per-file extent lists persisted in the metadata store.
package block

// ExtentState marks an extent as free or owned by a file.
type ExtentState uint8

const (
	Free ExtentState = iota
	Allocated
)

func (s ExtentState) String() string {
	if s == Free {
		return "free"
	}
	return "allocated"
}

// Extent is one contiguous run of bytes on the device.
//
// Invariant maintained by the allocator: extents never overlap, their
// union covers the device exactly, and no two Free extents are adjacent
// (adjacent frees are coalesced on release).
type Extent struct {
	Offset uint64
	Length uint64
	State  ExtentState
}

// End returns the first byte past the extent.
func (e Extent) End() uint64 {
	return e.Offset + e.Length
}
