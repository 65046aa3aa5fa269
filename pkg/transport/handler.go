// Package transport implements the shardfs RPC transport: a TCP server
// that parses wire frames and dispatches them to a pluggable handler,
// and a client that pools connections and correlates asynchronous
// responses back to their callers.
package transport

import (
	"context"

	"github.com/marmos91/shardfs/pkg/wire"
)

// Result is what a handler produces for one request. Status 0 means
// success; non-zero carries an engine error code.
type Result struct {
	Status int32
	Flags  uint32
	Meta   []byte
	Data   []byte
}

// Handler is the capability the server dispatches decoded requests to.
//
// The server has no knowledge of storage semantics: any type that can
// dispatch over (operation, flags, path, metadata, data) can serve.
// A returned error is treated as fatal for the connection; handler-level
// failures (missing file, bad path) belong in Result.Status so the
// caller gets an answer instead of a dropped connection.
//
// Dispatch may be called concurrently, both across connections and for
// multiple in-flight requests on one connection.
type Handler interface {
	Dispatch(ctx context.Context, op wire.Op, flags uint32, path string, meta, data []byte) (*Result, error)
}

// HandlerFunc adapts a function to the Handler interface, mirroring
// http.HandlerFunc. Used by tests to inject small fakes.
type HandlerFunc func(ctx context.Context, op wire.Op, flags uint32, path string, meta, data []byte) (*Result, error)

func (f HandlerFunc) Dispatch(ctx context.Context, op wire.Op, flags uint32, path string, meta, data []byte) (*Result, error) {
	return f(ctx, op, flags, path, meta, data)
}
