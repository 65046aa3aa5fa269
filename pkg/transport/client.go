package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/marmos91/shardfs/internal/logger"
	"github.com/marmos91/shardfs/pkg/wire"
)

// ErrConnClosed is delivered to every caller whose request was pending
// on a connection that closed before its response arrived. No pending
// call is ever left to hang.
var ErrConnClosed = errors.New("transport: connection closed")

// ErrUnreachable wraps dial failures so routing errors stay
// distinguishable from storage-engine errors.
var ErrUnreachable = errors.New("transport: peer unreachable")

// ErrTooManyInFlight is returned when the correlation-id namespace on a
// connection is exhausted by concurrent callers.
var ErrTooManyInFlight = errors.New("transport: too many in-flight requests")

// maxInFlight bounds the pending table per connection. Well below the
// 2^32 id namespace, so id assignment never has to probe far.
const maxInFlight = 1 << 16

// Client maintains pooled connections to peer nodes and correlates
// asynchronous responses back to callers.
//
// Write-path concurrency is decoupled from the read path: any number of
// callers may issue concurrently (serialized only for the frame write
// itself), while a single reader goroutine per connection consumes
// responses in arrival order and hands each to the caller whose id
// matches.
type Client struct {
	mu    sync.Mutex
	conns map[string]*clientConn
}

// NewClient creates an empty connection pool.
func NewClient() *Client {
	return &Client{conns: make(map[string]*clientConn)}
}

// AddConnection establishes and pools a connection to addr. Calling it
// for an already-pooled address is a no-op.
func (c *Client) AddConnection(addr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.getConnLocked(addr)
	return err
}

// Call sends one request to addr and blocks until the matching response
// arrives, the connection dies, or ctx is done.
func (c *Client) Call(ctx context.Context, addr string, op wire.Op, flags uint32, path string, meta, data []byte) (*wire.Response, error) {
	c.mu.Lock()
	cc, err := c.getConnLocked(addr)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	resp, err := cc.call(ctx, op, flags, path, meta, data)
	if err != nil && errors.Is(err, ErrConnClosed) {
		c.dropConn(addr, cc)
	}
	return resp, err
}

// Close tears down every pooled connection, failing all pending calls
// with ErrConnClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[string]*clientConn)
	c.mu.Unlock()

	for _, cc := range conns {
		cc.close(ErrConnClosed)
	}
	return nil
}

// getConnLocked returns the pooled connection for addr, dialing if
// absent. Caller holds c.mu.
func (c *Client) getConnLocked(addr string) (*clientConn, error) {
	if cc, ok := c.conns[addr]; ok {
		return cc, nil
	}

	tcpConn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnreachable, addr, err)
	}

	cc := &clientConn{
		conn:    tcpConn,
		pending: make(map[uint32]chan *wire.Response),
	}
	go cc.readLoop()

	c.conns[addr] = cc
	logger.Debug("Connected to peer %s", addr)
	return cc, nil
}

// dropConn removes a dead connection from the pool, but only if the
// pooled entry is still the same one (a fresh redial must survive).
func (c *Client) dropConn(addr string, dead *clientConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conns[addr] == dead {
		delete(c.conns, addr)
	}
}

// clientConn is one pooled connection: an owned duplex stream plus the
// per-connection table of in-flight id -> waiting caller slot.
type clientConn struct {
	conn net.Conn

	// wmu keeps concurrent request writes from interleaving mid-frame.
	wmu sync.Mutex

	// mu guards pending, nextID and failure. The table is mutated by
	// both submitting callers (insert) and the reader goroutine
	// (remove-on-match).
	mu      sync.Mutex
	pending map[uint32]chan *wire.Response
	nextID  uint32
	failure error
}

func (cc *clientConn) call(ctx context.Context, op wire.Op, flags uint32, path string, meta, data []byte) (*wire.Response, error) {
	id, ch, err := cc.register()
	if err != nil {
		return nil, err
	}

	req := &wire.Request{ID: id, Op: op, Flags: flags, Name: path, Meta: meta, Data: data}

	cc.wmu.Lock()
	err = wire.WriteRequest(cc.conn, req)
	cc.wmu.Unlock()
	if err != nil {
		cc.unregister(id)
		if werr := cc.failed(); werr != nil {
			return nil, werr
		}
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, cc.failed()
		}
		return resp, nil
	case <-ctx.Done():
		cc.unregister(id)
		return nil, ctx.Err()
	}
}

// register assigns a correlation id not currently in flight and installs
// the caller's slot. Ids come from a monotonic counter with wraparound;
// an id still pending is skipped, and a full table is a capacity error
// rather than undefined behavior.
func (cc *clientConn) register() (uint32, chan *wire.Response, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if cc.failure != nil {
		return 0, nil, cc.failure
	}
	if len(cc.pending) >= maxInFlight {
		return 0, nil, ErrTooManyInFlight
	}

	id := cc.nextID
	for {
		if _, busy := cc.pending[id]; !busy {
			break
		}
		id++
	}
	cc.nextID = id + 1

	ch := make(chan *wire.Response, 1)
	cc.pending[id] = ch
	return id, ch, nil
}

func (cc *clientConn) unregister(id uint32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	delete(cc.pending, id)
}

func (cc *clientConn) failed() error {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.failure != nil {
		return cc.failure
	}
	return ErrConnClosed
}

// readLoop is the single ordered read path: it consumes response frames
// and dispatches each to the waiting caller via its correlation id.
func (cc *clientConn) readLoop() {
	for {
		resp, err := wire.ReadResponse(cc.conn)
		if err != nil {
			cc.close(fmt.Errorf("%w: %v", ErrConnClosed, err))
			return
		}

		cc.mu.Lock()
		ch, ok := cc.pending[resp.ID]
		if ok {
			delete(cc.pending, resp.ID)
		}
		cc.mu.Unlock()

		if !ok {
			// A response with no waiting caller: the caller gave up
			// (ctx cancellation) or the peer is confused. Either way
			// it is not deliverable.
			logger.Debug("Dropping uncorrelated response id=%d", resp.ID)
			continue
		}
		ch <- resp
	}
}

// close fails every pending caller with the given error and closes the
// socket. Safe to call more than once.
func (cc *clientConn) close(cause error) {
	cc.mu.Lock()
	if cc.failure == nil {
		cc.failure = cause
	}
	pending := cc.pending
	cc.pending = make(map[uint32]chan *wire.Response)
	cc.mu.Unlock()

	_ = cc.conn.Close()

	for id, ch := range pending {
		logger.Debug("Failing pending request id=%d: %v", id, cause)
		close(ch)
	}
}
