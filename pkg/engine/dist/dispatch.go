package dist

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/marmos91/shardfs/pkg/store/metadata"
	"github.com/marmos91/shardfs/pkg/transport"
	"github.com/marmos91/shardfs/pkg/wire"
)

// Dispatch serves one decoded request against the local engine.
//
// Requests arriving over the wire were already routed by the sender, so
// dispatch never consults the routing table: re-routing here could
// bounce a request between nodes whose tables disagree during a
// membership change. A returned error is connection-fatal; store errors
// travel back as the status code instead.
func (e *Engine) Dispatch(ctx context.Context, op wire.Op, flags uint32, path string, meta, data []byte) (*transport.Result, error) {
	switch op {
	case wire.OpCreateFile:
		return e.status(e.local.CreateFile(ctx, path, flags)), nil

	case wire.OpCreateDirectory:
		return e.status(e.local.CreateDirectory(ctx, path, flags)), nil

	case wire.OpGetFileAttr:
		attr, err := e.local.GetFileAttributes(ctx, path)
		if err != nil {
			return e.status(err), nil
		}
		body, err := json.Marshal(attr)
		if err != nil {
			return nil, fmt.Errorf("encode attributes for %s: %w", path, err)
		}
		return &transport.Result{Meta: body}, nil

	case wire.OpReadDirectory:
		entries, err := e.local.ReadDirectory(ctx, path)
		if err != nil {
			return e.status(err), nil
		}
		body, err := json.Marshal(entries)
		if err != nil {
			return nil, fmt.Errorf("encode directory listing for %s: %w", path, err)
		}
		return &transport.Result{Data: body}, nil

	case wire.OpOpenFile:
		return e.status(e.local.OpenFile(ctx, path, flags)), nil

	case wire.OpReadFile:
		if len(meta) != 12 {
			return nil, fmt.Errorf("read request for %s: metadata is %d bytes, want 12", path, len(meta))
		}
		offset := binary.LittleEndian.Uint64(meta[0:8])
		length := binary.LittleEndian.Uint32(meta[8:12])
		body, err := e.local.ReadFile(ctx, path, length, offset)
		if err != nil {
			return e.status(err), nil
		}
		return &transport.Result{Data: body}, nil

	case wire.OpWriteFile:
		if len(meta) != 8 {
			return nil, fmt.Errorf("write request for %s: metadata is %d bytes, want 8", path, len(meta))
		}
		offset := binary.LittleEndian.Uint64(meta)
		return e.status(e.local.WriteFile(ctx, path, data, offset)), nil

	case wire.OpDeleteFile:
		return e.status(e.local.DeleteFile(ctx, path)), nil

	case wire.OpDeleteDirectory:
		return e.status(e.local.DeleteDirectory(ctx, path)), nil

	case wire.OpDirectoryAddEntry:
		return e.status(e.local.AddEntry(ctx, path, string(meta), string(data))), nil

	case wire.OpDirectoryDeleteEntry:
		return e.status(e.local.DeleteEntry(ctx, path, string(meta))), nil

	case wire.OpIsExist:
		exists, err := e.local.IsExist(ctx, path)
		if err != nil {
			return e.status(err), nil
		}
		res := &transport.Result{}
		if exists {
			res.Flags = flagExists
		}
		return res, nil

	case wire.OpSendHeart:
		return &transport.Result{}, nil

	case wire.OpGetMetadata:
		body, err := json.Marshal(e.Info())
		if err != nil {
			return nil, fmt.Errorf("encode cluster info: %w", err)
		}
		return &transport.Result{Data: body}, nil
	}

	// The codec rejects out-of-range operation codes, so this is a
	// programming error, not a peer mistake.
	return nil, fmt.Errorf("unhandled operation %s", op)
}

// status folds a local engine result into a response status. Store
// errors carry their code; anything else degrades to an IO error so the
// peer still gets a well-formed answer.
func (e *Engine) status(err error) *transport.Result {
	if err == nil {
		return &transport.Result{}
	}
	code := metadata.CodeOf(err)
	if code == 0 {
		code = metadata.ErrIO
	}
	return &transport.Result{Status: int32(code)}
}

var _ transport.Handler = (*Engine)(nil)
