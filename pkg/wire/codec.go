package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// MinNameLen and MaxNameLen bound the filename segment. Oversized
	// names are rejected before any I/O is attempted.
	MinNameLen = 1
	MaxNameLen = 4096

	// MaxSegmentLen bounds the metadata and data segments to prevent a
	// malformed length prefix from exhausting memory.
	MaxSegmentLen = 64 << 20

	// requestHeaderLen is id + op + flags + total_length.
	requestHeaderLen = 16

	// responseHeaderLen is id + status + flags + total_length.
	responseHeaderLen = 16
)

// ErrFraming indicates a malformed frame: declared lengths disagree, a
// segment exceeds its bound, or the operation code is unknown. Framing
// errors are connection-fatal.
var ErrFraming = errors.New("wire: framing error")

// ErrNameLength indicates a filename segment outside [MinNameLen, MaxNameLen].
var ErrNameLength = fmt.Errorf("%w: filename length out of bounds", ErrFraming)

// ErrUnknownOp indicates an operation code outside the closed enumeration.
var ErrUnknownOp = fmt.Errorf("%w: unknown operation", ErrFraming)

// WriteRequest encodes req and writes it as a single frame.
//
// The frame is assembled in one buffer and written with one Write call so
// that a caller holding the connection's write lock never interleaves a
// partial frame with another writer.
func WriteRequest(w io.Writer, req *Request) error {
	if len(req.Name) < MinNameLen || len(req.Name) > MaxNameLen {
		return ErrNameLength
	}
	if !req.Op.Valid() {
		return ErrUnknownOp
	}

	total := 12 + len(req.Name) + len(req.Meta) + len(req.Data)
	buf := make([]byte, requestHeaderLen+total)

	binary.LittleEndian.PutUint32(buf[0:4], req.ID)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(req.Op))
	binary.LittleEndian.PutUint32(buf[8:12], req.Flags)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(total))

	off := requestHeaderLen
	off = putSegment(buf, off, []byte(req.Name))
	off = putSegment(buf, off, req.Meta)
	putSegment(buf, off, req.Data)

	_, err := w.Write(buf)
	return err
}

// ReadRequest decodes one request frame from r.
//
// Any returned error other than io.EOF means the stream is no longer
// frame-aligned and the connection must be closed.
func ReadRequest(r io.Reader) (*Request, error) {
	var hdr [requestHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	req := &Request{
		ID:    binary.LittleEndian.Uint32(hdr[0:4]),
		Op:    Op(binary.LittleEndian.Uint32(hdr[4:8])),
		Flags: binary.LittleEndian.Uint32(hdr[8:12]),
	}
	total := binary.LittleEndian.Uint32(hdr[12:16])

	if !req.Op.Valid() {
		return nil, ErrUnknownOp
	}
	if total < 12 || total > MaxNameLen+2*MaxSegmentLen+12 {
		return nil, fmt.Errorf("%w: implausible total length %d", ErrFraming, total)
	}

	body := make([]byte, total)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}

	name, off, err := getSegment(body, 0, MaxNameLen)
	if err != nil {
		return nil, err
	}
	if len(name) < MinNameLen {
		return nil, ErrNameLength
	}
	meta, off, err := getSegment(body, off, MaxSegmentLen)
	if err != nil {
		return nil, err
	}
	data, off, err := getSegment(body, off, MaxSegmentLen)
	if err != nil {
		return nil, err
	}
	if off != len(body) {
		return nil, fmt.Errorf("%w: total length %d does not match segments", ErrFraming, total)
	}

	req.Name = string(name)
	req.Meta = meta
	req.Data = data
	return req, nil
}

// WriteResponse encodes resp and writes it as a single frame.
func WriteResponse(w io.Writer, resp *Response) error {
	total := 8 + len(resp.Meta) + len(resp.Data)
	buf := make([]byte, responseHeaderLen+total)

	binary.LittleEndian.PutUint32(buf[0:4], resp.ID)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(resp.Status))
	binary.LittleEndian.PutUint32(buf[8:12], resp.Flags)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(total))

	off := responseHeaderLen
	off = putSegment(buf, off, resp.Meta)
	putSegment(buf, off, resp.Data)

	_, err := w.Write(buf)
	return err
}

// ReadResponse decodes one response frame from r. Errors other than
// io.EOF are connection-fatal, same as for ReadRequest.
func ReadResponse(r io.Reader) (*Response, error) {
	var hdr [responseHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	resp := &Response{
		ID:     binary.LittleEndian.Uint32(hdr[0:4]),
		Status: int32(binary.LittleEndian.Uint32(hdr[4:8])),
		Flags:  binary.LittleEndian.Uint32(hdr[8:12]),
	}
	total := binary.LittleEndian.Uint32(hdr[12:16])

	if total < 8 || total > 2*MaxSegmentLen+8 {
		return nil, fmt.Errorf("%w: implausible total length %d", ErrFraming, total)
	}

	body := make([]byte, total)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	meta, off, err := getSegment(body, 0, MaxSegmentLen)
	if err != nil {
		return nil, err
	}
	data, off, err := getSegment(body, off, MaxSegmentLen)
	if err != nil {
		return nil, err
	}
	if off != len(body) {
		return nil, fmt.Errorf("%w: total length %d does not match segments", ErrFraming, total)
	}

	resp.Meta = meta
	resp.Data = data
	return resp, nil
}

// putSegment writes a 4-byte little-endian length prefix followed by the
// segment bytes, returning the next write offset.
func putSegment(buf []byte, off int, seg []byte) int {
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(seg)))
	off += 4
	copy(buf[off:], seg)
	return off + len(seg)
}

// getSegment reads one length-prefixed segment out of body, enforcing max.
func getSegment(body []byte, off int, max int) ([]byte, int, error) {
	if off+4 > len(body) {
		return nil, 0, fmt.Errorf("%w: truncated segment length", ErrFraming)
	}
	n := int(binary.LittleEndian.Uint32(body[off : off+4]))
	off += 4
	if n > max {
		return nil, 0, fmt.Errorf("%w: segment length %d exceeds limit", ErrFraming, n)
	}
	if off+n > len(body) {
		return nil, 0, fmt.Errorf("%w: truncated segment", ErrFraming)
	}
	seg := body[off : off+n]
	return seg, off + n, nil
}
