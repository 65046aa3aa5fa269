// Package wire implements the binary frame format exchanged between
// shardfs nodes.
//
// Every frame is a fixed little-endian header followed by explicit
// length-prefixed segments. Segments are never delimiter-terminated, so
// arbitrary binary payloads (including bytes that look like lengths)
// round-trip exactly. A frame whose declared lengths disagree with its
// total length is a framing error: the stream can no longer be trusted
// to be frame-aligned and the connection must be closed.
package wire

// Op identifies a file store operation carried in a request frame.
//
// The enumeration is closed: decoding rejects values outside it rather
// than passing them through as a no-op.
type Op uint32

const (
	OpCreateFile Op = iota + 1
	OpCreateDirectory
	OpGetFileAttr
	OpReadDirectory
	OpOpenFile
	OpReadFile
	OpWriteFile
	OpDeleteFile
	OpDeleteDirectory
	OpDirectoryAddEntry
	OpDirectoryDeleteEntry
	OpIsExist
	OpSendHeart
	OpGetMetadata

	opMax
)

// Valid reports whether the operation code is inside the closed enumeration.
func (o Op) Valid() bool {
	return o >= OpCreateFile && o < opMax
}

func (o Op) String() string {
	switch o {
	case OpCreateFile:
		return "CreateFile"
	case OpCreateDirectory:
		return "CreateDirectory"
	case OpGetFileAttr:
		return "GetFileAttr"
	case OpReadDirectory:
		return "ReadDirectory"
	case OpOpenFile:
		return "OpenFile"
	case OpReadFile:
		return "ReadFile"
	case OpWriteFile:
		return "WriteFile"
	case OpDeleteFile:
		return "DeleteFile"
	case OpDeleteDirectory:
		return "DeleteDirectory"
	case OpDirectoryAddEntry:
		return "DirectoryAddEntry"
	case OpDirectoryDeleteEntry:
		return "DirectoryDeleteEntry"
	case OpIsExist:
		return "IsExist"
	case OpSendHeart:
		return "SendHeart"
	case OpGetMetadata:
		return "GetMetadata"
	default:
		return "Unknown"
	}
}

// Request is one decoded request frame.
//
// ID is the caller-assigned correlation id: unique per in-flight request
// on a connection and reused only after the matching response has been
// consumed.
type Request struct {
	ID    uint32
	Op    Op
	Flags uint32

	// Name is the target file or directory path (1 B - 4 KiB on the wire).
	Name string

	// Meta carries operation parameters (offsets, modes, entry names).
	Meta []byte

	// Data carries file content for write-style operations.
	Data []byte
}

// Response is one decoded response frame. ID echoes the request id;
// Status is 0 on success or an engine error code.
type Response struct {
	ID     uint32
	Status int32
	Flags  uint32
	Meta   []byte
	Data   []byte
}
