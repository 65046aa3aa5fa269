package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/marmos91/shardfs/internal/logger"
	"github.com/marmos91/shardfs/pkg/wire"
)

// conn services one accepted connection: a single read loop decoding
// frames, one goroutine per dispatched request, and a write mutex so
// responses never interleave mid-frame.
type conn struct {
	server *Server
	conn   net.Conn

	// wmu serializes response writes. Requests complete out of order,
	// but each response frame must hit the socket whole.
	wmu sync.Mutex
}

func (c *conn) serve(ctx context.Context) {
	defer func() {
		// A single misbehaving request must not take down the server.
		if r := recover(); r != nil {
			logger.Error("Panic in connection handler from %s: %v",
				c.conn.RemoteAddr(), r)
		}
		_ = c.conn.Close()
	}()

	clientAddr := c.conn.RemoteAddr().String()
	logger.Debug("New connection from %s", clientAddr)

	if c.server.metrics != nil {
		c.server.metrics.ConnectionOpened()
		defer c.server.metrics.ConnectionClosed()
	}

	// Dispatched requests still running when the read loop exits hold
	// this group; waiting keeps their response writes from racing the
	// close.
	var inflight sync.WaitGroup
	defer inflight.Wait()

	if c.server.timeouts.Idle > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.server.timeouts.Idle)); err != nil {
			logger.Warn("Failed to set deadline for %s: %v", clientAddr, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Connection from %s closed due to context cancellation", clientAddr)
			return
		case <-c.server.shutdown:
			logger.Debug("Connection from %s closed due to server shutdown", clientAddr)
			return
		default:
		}

		if err := c.handleRequest(ctx, &inflight); err != nil {
			switch {
			case err == io.EOF:
				logger.Debug("Connection from %s closed by client", clientAddr)
			case errors.Is(err, wire.ErrFraming):
				// The stream can no longer be trusted to be
				// frame-aligned; closing is the only safe answer.
				logger.Warn("Framing error from %s, closing connection: %v", clientAddr, err)
			default:
				logger.Debug("Error handling request from %s: %v", clientAddr, err)
			}
			return
		}

		if c.server.timeouts.Idle > 0 {
			if err := c.conn.SetDeadline(time.Now().Add(c.server.timeouts.Idle)); err != nil {
				logger.Warn("Failed to reset deadline for %s: %v", clientAddr, err)
			}
		}
	}
}

// handleRequest reads one frame and dispatches it asynchronously. The
// returned error, if any, is connection-fatal.
func (c *conn) handleRequest(ctx context.Context, inflight *sync.WaitGroup) error {
	if c.server.timeouts.Read > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.server.timeouts.Read)); err != nil {
			return err
		}
	}

	req, err := wire.ReadRequest(c.conn)
	if err != nil {
		return err
	}

	logger.Debug("Request id=%d op=%s path=%q meta=%dB data=%dB",
		req.ID, req.Op, req.Name, len(req.Meta), len(req.Data))

	// Backpressure: the frame is already read, so making it wait here
	// stops this connection from pulling further work off the socket.
	if c.server.limiter != nil {
		if err := c.server.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	inflight.Add(1)
	go func() {
		defer inflight.Done()
		c.dispatch(ctx, req)
	}()
	return nil
}

// dispatch runs the handler for one request and writes its response.
func (c *conn) dispatch(ctx context.Context, req *wire.Request) {
	start := time.Now()
	res, err := c.server.handler.Dispatch(ctx, req.Op, req.Flags, req.Name, req.Meta, req.Data)
	if err != nil {
		// Fatal handler condition: no trustworthy response can be
		// produced, so drop the connection rather than answer.
		logger.Error("Handler fatal error for id=%d op=%s: %v", req.ID, req.Op, err)
		_ = c.conn.Close()
		return
	}

	if c.server.metrics != nil {
		c.server.metrics.RecordRequest(req.Op.String(), time.Since(start), res.Status)
		c.server.metrics.RecordBytes("in", len(req.Data))
		c.server.metrics.RecordBytes("out", len(res.Data))
	}

	resp := &wire.Response{
		ID:     req.ID,
		Status: res.Status,
		Flags:  res.Flags,
		Meta:   res.Meta,
		Data:   res.Data,
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := wire.WriteResponse(c.conn, resp); err != nil {
		logger.Debug("Error writing response id=%d to %s: %v",
			req.ID, c.conn.RemoteAddr(), err)
		_ = c.conn.Close()
	}
}
