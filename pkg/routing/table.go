package routing

import (
	"errors"
	"sort"
	"sync/atomic"
)

// ErrNoOwner is returned when the table has no membership loaded, so no
// node owns any key. Distinct from storage errors so callers can treat
// it as a connectivity/topology failure.
var ErrNoOwner = errors.New("routing: no owning node for key")

// virtualPointsPerNode spreads each node across the ring to even out
// shard distribution between nodes.
const virtualPointsPerNode = 128

// Table is a consistent-hash ring from shard keys to node addresses.
//
// Lookups are lock-free reads of an immutable view; membership updates
// build a fresh view and swap it atomically, so a reader sees the old
// membership or the new one, never a mix. Every key maps to exactly one
// owner within any single view.
type Table struct {
	view atomic.Pointer[ringView]
}

// ringView is one immutable snapshot of the ring.
type ringView struct {
	points []ringPoint // sorted by hash
	nodes  []string
}

type ringPoint struct {
	hash uint32
	addr string
}

// NewTable builds a table with the given initial membership. An empty
// membership is valid; lookups fail with ErrNoOwner until Update is
// called.
func NewTable(nodes []string) *Table {
	t := &Table{}
	t.Update(nodes)
	return t
}

// Update atomically replaces the membership. In-flight lookups keep the
// view they already loaded.
func (t *Table) Update(nodes []string) {
	view := &ringView{nodes: append([]string(nil), nodes...)}
	for _, addr := range view.nodes {
		for r := 0; r < virtualPointsPerNode; r++ {
			view.points = append(view.points, ringPoint{
				hash: hashPoint(addr, r),
				addr: addr,
			})
		}
	}
	sort.Slice(view.points, func(i, j int) bool {
		if view.points[i].hash != view.points[j].hash {
			return view.points[i].hash < view.points[j].hash
		}
		// Ties broken by address so every node sorts identically.
		return view.points[i].addr < view.points[j].addr
	})
	t.view.Store(view)
}

// Owner returns the address owning the given shard key.
func (t *Table) Owner(key uint32) (string, error) {
	view := t.view.Load()
	if view == nil || len(view.points) == 0 {
		return "", ErrNoOwner
	}

	// First ring point at or after the key, wrapping to the start.
	i := sort.Search(len(view.points), func(i int) bool {
		return view.points[i].hash >= key
	})
	if i == len(view.points) {
		i = 0
	}
	return view.points[i].addr, nil
}

// OwnerOf is shorthand for Owner(ShardKey(path)).
func (t *Table) OwnerOf(path string) (string, error) {
	return t.Owner(ShardKey(path))
}

// Nodes returns the membership of the current view.
func (t *Table) Nodes() []string {
	view := t.view.Load()
	if view == nil {
		return nil
	}
	return append([]string(nil), view.nodes...)
}
