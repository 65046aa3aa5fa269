// Package routing maps file paths to owning nodes.
//
// Every node computes the same shard key for the same path (the hash is
// stable and unseeded) and consults the same membership-derived table,
// so ownership is a pure function of (path, membership) everywhere.
// Membership changes are externally driven and applied by atomically
// swapping in a rebuilt table; reads stay lock-free.
package routing

import (
	"github.com/cespare/xxhash/v2"
	"github.com/marmos91/shardfs/pkg/store/metadata"
)

// ShardKey hashes a normalized path to its 32-bit shard key.
//
// xxhash has no per-process seed, which is load-bearing: a salted hash
// would make nodes disagree about ownership and misdirect requests.
func ShardKey(path string) uint32 {
	h := xxhash.Sum64String(metadata.CleanPath(path))
	return uint32(h>>32) ^ uint32(h)
}

// hashPoint places a node's virtual point on the ring. It reuses the
// same hash family as ShardKey with a replica suffix.
func hashPoint(addr string, replica int) uint32 {
	var buf [4]byte
	buf[0] = byte(replica)
	buf[1] = byte(replica >> 8)
	buf[2] = byte(replica >> 16)
	buf[3] = byte(replica >> 24)
	h := xxhash.Sum64(append([]byte(addr), buf[:]...))
	return uint32(h>>32) ^ uint32(h)
}
