package block

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/shardfs/pkg/store/metadata"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

// checkInvariants asserts the structural invariants every allocator
// mutation must preserve: extents tile the device exactly, never
// overlap, and no two free extents are adjacent.
func checkInvariants(t *testing.T, a *Allocator) {
	t.Helper()

	extents := a.Extents()
	require.NotEmpty(t, extents)

	var cursor uint64
	var freeBytes uint64
	for i, ext := range extents {
		require.Equal(t, cursor, ext.Offset, "gap or overlap before extent %d", i)
		require.Greater(t, ext.Length, uint64(0), "zero-length extent %d", i)
		cursor = ext.End()

		if ext.State == Free {
			freeBytes += ext.Length
			if i > 0 {
				require.NotEqual(t, Free, extents[i-1].State,
					"adjacent free extents at %d", i)
			}
		}
	}
	require.Equal(t, a.Size(), cursor, "extents do not cover the device")
	require.Equal(t, a.FreeBytes(), freeBytes, "free byte accounting drifted")
}

func refs(extents []Extent) []metadata.ExtentRef {
	out := make([]metadata.ExtentRef, len(extents))
	for i, ext := range extents {
		out[i] = metadata.ExtentRef{Offset: ext.Offset, Length: ext.Length}
	}
	return out
}

// ============================================================================
// Allocate Tests
// ============================================================================

func TestAllocate(t *testing.T) {
	t.Run("SingleExtentFit", func(t *testing.T) {
		a := NewAllocator(1 << 20)

		got, err := a.Allocate(4096)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, uint64(4096), got[0].Length)
		assert.Equal(t, uint64(1<<20-4096), a.FreeBytes())
		checkInvariants(t, a)
	})

	t.Run("PrefersSmallestSufficientExtent", func(t *testing.T) {
		a := NewAllocator(1 << 20)

		// Shape the free pool into a small and a large hole.
		first, err := a.Allocate(1000)
		require.NoError(t, err)
		second, err := a.Allocate(100)
		require.NoError(t, err)
		_, err = a.Allocate(8000)
		require.NoError(t, err)
		a.Release(refs(second)) // 100-byte hole between allocations

		got, err := a.Allocate(80)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, first[0].End(), got[0].Offset,
			"should carve the small hole, not the big tail")
		checkInvariants(t, a)
	})

	t.Run("SpansExtentsWhenFragmented", func(t *testing.T) {
		a := NewAllocator(4096)

		// Allocate everything in chunks, then free alternating chunks so
		// no single free extent can satisfy a large request.
		var chunks [][]Extent
		for i := 0; i < 8; i++ {
			got, err := a.Allocate(512)
			require.NoError(t, err)
			chunks = append(chunks, got)
		}
		for i := 0; i < 8; i += 2 {
			a.Release(refs(chunks[i]))
		}
		checkInvariants(t, a)

		got, err := a.Allocate(1500)
		require.NoError(t, err)
		assert.Greater(t, len(got), 1, "1500 bytes cannot fit one 512-byte hole")

		var total uint64
		for _, ext := range got {
			total += ext.Length
		}
		assert.Equal(t, uint64(1500), total)
		checkInvariants(t, a)
	})

	t.Run("NoSpace", func(t *testing.T) {
		a := NewAllocator(1024)

		_, err := a.Allocate(2048)
		require.Error(t, err)
		assert.Equal(t, metadata.ErrNoSpace, metadata.CodeOf(err))

		// A failed allocation must not mutate state.
		assert.Equal(t, uint64(1024), a.FreeBytes())
		checkInvariants(t, a)
	})

	t.Run("ExactFit", func(t *testing.T) {
		a := NewAllocator(1024)

		got, err := a.Allocate(1024)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, uint64(0), a.FreeBytes())

		_, err = a.Allocate(1)
		assert.Equal(t, metadata.ErrNoSpace, metadata.CodeOf(err))
		checkInvariants(t, a)
	})
}

// ============================================================================
// Release Tests
// ============================================================================

func TestRelease(t *testing.T) {
	t.Run("CoalescesWithNeighbours", func(t *testing.T) {
		a := NewAllocator(1 << 16)

		first, err := a.Allocate(1024)
		require.NoError(t, err)
		second, err := a.Allocate(1024)
		require.NoError(t, err)
		third, err := a.Allocate(1024)
		require.NoError(t, err)

		// Free the outer two, then the middle one: all three must merge
		// with each other and with the free tail into one extent.
		a.Release(refs(first))
		a.Release(refs(third))
		a.Release(refs(second))

		extents := a.Extents()
		require.Len(t, extents, 1)
		assert.Equal(t, Free, extents[0].State)
		assert.Equal(t, uint64(1<<16), extents[0].Length)
		checkInvariants(t, a)
	})

	t.Run("ReleaseAtOffsetZero", func(t *testing.T) {
		a := NewAllocator(4096)

		got, err := a.Allocate(512)
		require.NoError(t, err)
		require.Equal(t, uint64(0), got[0].Offset)

		a.Release(refs(got))
		extents := a.Extents()
		require.Len(t, extents, 1)
		assert.Equal(t, uint64(4096), a.FreeBytes())
		checkInvariants(t, a)
	})

	t.Run("FreedSpaceIsReusable", func(t *testing.T) {
		a := NewAllocator(1024)

		got, err := a.Allocate(1024)
		require.NoError(t, err)
		a.Release(refs(got))

		again, err := a.Allocate(1024)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), again[0].Offset)
		checkInvariants(t, a)
	})
}

// ============================================================================
// ExtendAt Tests
// ============================================================================

func TestExtendAt(t *testing.T) {
	t.Run("GrowsIntoFreeNeighbour", func(t *testing.T) {
		a := NewAllocator(1 << 16)

		got, err := a.Allocate(1024)
		require.NoError(t, err)

		ext, n := a.ExtendAt(got[0].End(), 512)
		assert.Equal(t, uint64(512), n)
		assert.Equal(t, got[0].End(), ext.Offset)
		checkInvariants(t, a)
	})

	t.Run("GrantsPartialWhenNeighbourIsSmall", func(t *testing.T) {
		a := NewAllocator(4096)

		first, err := a.Allocate(1024)
		require.NoError(t, err)
		hole, err := a.Allocate(512)
		require.NoError(t, err)
		_, err = a.Allocate(2560) // rest of the device
		require.NoError(t, err)
		a.Release(refs(hole))

		ext, n := a.ExtendAt(first[0].End(), 4096)
		assert.Equal(t, uint64(512), n, "only the 512-byte hole is available")
		assert.Equal(t, uint64(512), ext.Length)
		checkInvariants(t, a)
	})

	t.Run("ZeroWhenNeighbourAllocated", func(t *testing.T) {
		a := NewAllocator(1 << 16)

		first, err := a.Allocate(1024)
		require.NoError(t, err)
		_, err = a.Allocate(1024)
		require.NoError(t, err)

		_, n := a.ExtendAt(first[0].End(), 512)
		assert.Equal(t, uint64(0), n)
		checkInvariants(t, a)
	})
}

// ============================================================================
// Reserve Tests
// ============================================================================

func TestReserve(t *testing.T) {
	t.Run("RebuildMatchesOriginal", func(t *testing.T) {
		a := NewAllocator(1 << 16)

		first, err := a.Allocate(1000)
		require.NoError(t, err)
		second, err := a.Allocate(3000)
		require.NoError(t, err)

		// Rebuild a fresh allocator from the persisted extent lists, the
		// way engine startup does.
		rebuilt := NewAllocator(1 << 16)
		for _, ref := range append(refs(first), refs(second)...) {
			require.NoError(t, rebuilt.Reserve(ref.Offset, ref.Length))
		}

		assert.Equal(t, a.FreeBytes(), rebuilt.FreeBytes())
		checkInvariants(t, rebuilt)
	})

	t.Run("RejectsDoubleReserve", func(t *testing.T) {
		a := NewAllocator(4096)
		require.NoError(t, a.Reserve(0, 1024))
		assert.Error(t, a.Reserve(512, 1024))
	})
}

// ============================================================================
// Churn Test
// ============================================================================

func TestAllocatorChurn(t *testing.T) {
	// Random allocate/free churn must preserve the structural invariants
	// at every step.
	a := NewAllocator(1 << 20)
	rng := rand.New(rand.NewSource(1))

	var live [][]Extent
	for i := 0; i < 500; i++ {
		if len(live) > 0 && rng.Intn(2) == 0 {
			victim := rng.Intn(len(live))
			a.Release(refs(live[victim]))
			live = append(live[:victim], live[victim+1:]...)
		} else {
			n := uint64(rng.Intn(8192) + 1)
			got, err := a.Allocate(n)
			if err != nil {
				require.Equal(t, metadata.ErrNoSpace, metadata.CodeOf(err))
				continue
			}
			live = append(live, got)
		}
		checkInvariants(t, a)
	}
}
