package routing

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// ShardKey Tests
// ============================================================================

func TestShardKey(t *testing.T) {
	t.Run("Deterministic", func(t *testing.T) {
		assert.Equal(t, ShardKey("/a/b/c"), ShardKey("/a/b/c"))
	})

	t.Run("NormalizesBeforeHashing", func(t *testing.T) {
		// Spellings of the same path must land on the same shard.
		assert.Equal(t, ShardKey("/a/b/c"), ShardKey("/a/b/c/"))
		assert.Equal(t, ShardKey("/a/b/c"), ShardKey("/a//b/./c"))
		assert.Equal(t, ShardKey("/a/b/c"), ShardKey("a/b/c"))
	})

	t.Run("DistinctPathsUsuallyDiffer", func(t *testing.T) {
		assert.NotEqual(t, ShardKey("/a"), ShardKey("/b"))
	})
}

// ============================================================================
// Table Tests
// ============================================================================

func TestTableOwner(t *testing.T) {
	members := []string{"10.0.0.1:9530", "10.0.0.2:9530", "10.0.0.3:9530"}

	t.Run("ExactlyOneOwnerPerPath", func(t *testing.T) {
		table := NewTable(members)

		for i := 0; i < 100; i++ {
			path := fmt.Sprintf("/dir/file-%d", i)
			owner, err := table.OwnerOf(path)
			require.NoError(t, err)
			assert.Contains(t, members, owner)

			// Repeated lookups never move.
			again, err := table.OwnerOf(path)
			require.NoError(t, err)
			assert.Equal(t, owner, again)
		}
	})

	t.Run("IndependentTablesAgree", func(t *testing.T) {
		// Two nodes building tables from the same membership must route
		// identically, or requests would bounce between them.
		a := NewTable(members)
		b := NewTable([]string{members[2], members[0], members[1]})

		for i := 0; i < 100; i++ {
			path := fmt.Sprintf("/shared/%d.dat", i)
			ownerA, err := a.OwnerOf(path)
			require.NoError(t, err)
			ownerB, err := b.OwnerOf(path)
			require.NoError(t, err)
			assert.Equal(t, ownerA, ownerB, "path %s", path)
		}
	})

	t.Run("EmptyMembership", func(t *testing.T) {
		table := NewTable(nil)
		_, err := table.OwnerOf("/anything")
		assert.ErrorIs(t, err, ErrNoOwner)
	})

	t.Run("SingleNodeOwnsEverything", func(t *testing.T) {
		table := NewTable([]string{"solo:9530"})
		for i := 0; i < 20; i++ {
			owner, err := table.OwnerOf(fmt.Sprintf("/f%d", i))
			require.NoError(t, err)
			assert.Equal(t, "solo:9530", owner)
		}
	})

	t.Run("NodesSpreadAcrossKeys", func(t *testing.T) {
		table := NewTable(members)

		seen := make(map[string]int)
		for i := 0; i < 3000; i++ {
			owner, err := table.OwnerOf(fmt.Sprintf("/spread/%d", i))
			require.NoError(t, err)
			seen[owner]++
		}

		// With 128 virtual points per node every member should own a
		// meaningful share of 3000 paths.
		for _, member := range members {
			assert.Greater(t, seen[member], 300, "member %s starved", member)
		}
	})
}

func TestTableUpdate(t *testing.T) {
	t.Run("MostKeysSurviveMembershipGrowth", func(t *testing.T) {
		before := NewTable([]string{"n1:1", "n2:1", "n3:1"})
		after := NewTable([]string{"n1:1", "n2:1", "n3:1", "n4:1"})

		moved := 0
		const total = 2000
		for i := 0; i < total; i++ {
			path := fmt.Sprintf("/stable/%d", i)
			a, err := before.OwnerOf(path)
			require.NoError(t, err)
			b, err := after.OwnerOf(path)
			require.NoError(t, err)
			if a != b {
				moved++
			}
		}

		// Consistent hashing: adding one node to three should move
		// roughly a quarter of the keys, not most of them.
		assert.Less(t, moved, total/2, "too many keys moved: %d of %d", moved, total)
	})

	t.Run("UpdateReplacesMembership", func(t *testing.T) {
		table := NewTable([]string{"old:1"})
		table.Update([]string{"new:1"})

		owner, err := table.OwnerOf("/x")
		require.NoError(t, err)
		assert.Equal(t, "new:1", owner)
		assert.Equal(t, []string{"new:1"}, table.Nodes())
	})

	t.Run("UpdateToEmptyDisablesRouting", func(t *testing.T) {
		table := NewTable([]string{"n:1"})
		table.Update(nil)

		_, err := table.OwnerOf("/x")
		assert.ErrorIs(t, err, ErrNoOwner)
	})
}
