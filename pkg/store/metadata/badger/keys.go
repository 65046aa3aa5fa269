package badger

import (
	"github.com/google/uuid"
)

// Database Key Namespace Design
// ==============================
//
// BadgerDB is a key-value store, so we use prefixed keys to organize the
// different record types into logical namespaces. This design:
//   - Prevents key collisions between record types
//   - Enables efficient range scans (all entries of a directory)
//   - Makes the database structure self-documenting
//
// Records are identified by UUID v4 (random). Paths resolve to UUIDs
// through the name index, so record bodies never move when the key
// layout evolves.
//
// Key Namespace Prefixes:
//
// Record Type          Prefix  Key Format                   Value
// =====================================================================
// File Record          "f:"    f:<uuid>                     record (JSON)
// Name Index           "n:"    n:<cleanPath>                uuid (16 B)
// Directory Entries    "c:"    c:<dirUUID>:<entryName>      target path (bytes)
// Extent Lists         "e:"    e:<uuid>                     extent list (binary)
//
// Directory entries are denormalized, one key per entry, so listing a
// directory is a single prefix scan over c:<dirUUID>:. Entry values hold
// the child's full path rather than a UUID because an entry may point at
// a path whose record lives on another node.

const (
	prefixRecord  = "f:"
	prefixExtents = "e:"
)

func keyRecord(id uuid.UUID) []byte {
	return append([]byte(prefixRecord), id[:]...)
}

func keyName(path string) []byte {
	return append([]byte("n:"), path...)
}

func keyEntryPrefix(dir uuid.UUID) []byte {
	return append(append([]byte("c:"), dir[:]...), ':')
}

func keyEntry(dir uuid.UUID, name string) []byte {
	return append(keyEntryPrefix(dir), name...)
}

func keyExtents(id uuid.UUID) []byte {
	return append([]byte(prefixExtents), id[:]...)
}

// entryName extracts the entry name from a directory-entry key.
func entryName(dir uuid.UUID, key []byte) string {
	return string(key[len(keyEntryPrefix(dir)):])
}
