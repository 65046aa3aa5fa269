package badger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/marmos91/shardfs/pkg/store/metadata"
)

// Serialization Strategy
// ======================
//
// BadgerDB stores raw bytes, so record bodies are serialized before
// storing. Two strategies, chosen by value shape:
//
//  1. JSON for file records: flexible schema evolution and easy
//     debugging, and record bodies are small and read-mostly.
//  2. Binary little-endian for extent lists: they sit on the write hot
//     path of the block engine and have a stable, trivial schema
//     (count followed by offset/length pairs).

// recordData is the stored representation of a file or directory record.
type recordData struct {
	// Path is the canonical path of the record, kept in the body so a
	// record is self-describing when inspected without its name index
	// entry.
	Path string `json:"path"`

	// Attr contains the record attributes
	Attr *metadata.FileAttr `json:"attr"`
}

func encodeRecord(rec *recordData) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*recordData, error) {
	var rec recordData
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

func encodeExtents(extents []metadata.ExtentRef) []byte {
	buf := make([]byte, 4+16*len(extents))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(extents)))
	for i, ext := range extents {
		off := 4 + 16*i
		binary.LittleEndian.PutUint64(buf[off:off+8], ext.Offset)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], ext.Length)
	}
	return buf
}

func decodeExtents(data []byte) ([]metadata.ExtentRef, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("decode extents: truncated header")
	}
	count := int(binary.LittleEndian.Uint32(data[0:4]))
	if len(data) != 4+16*count {
		return nil, fmt.Errorf("decode extents: length %d does not match count %d", len(data), count)
	}
	extents := make([]metadata.ExtentRef, count)
	for i := range extents {
		off := 4 + 16*i
		extents[i].Offset = binary.LittleEndian.Uint64(data[off : off+8])
		extents[i].Length = binary.LittleEndian.Uint64(data[off+8 : off+16])
	}
	return extents, nil
}
