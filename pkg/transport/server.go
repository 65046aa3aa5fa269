package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/marmos91/shardfs/internal/logger"
	"github.com/marmos91/shardfs/internal/ratelimiter"
	"github.com/marmos91/shardfs/pkg/metrics"
)

// Timeouts configures per-connection deadlines. Zero disables the
// corresponding deadline.
type Timeouts struct {
	// Idle closes a connection with no complete request for this long.
	Idle time.Duration

	// Read bounds how long reading a single frame may take.
	Read time.Duration
}

// Server accepts connections and serves shardfs RPC frames over them.
//
// Each accepted connection is serviced by its own goroutine, and each
// request on a connection is dispatched in its own goroutine, so
// requests complete out of order; the correlation id in the frame header
// exists precisely for that. Response writes on one connection are
// serialized by a per-connection write lock.
type Server struct {
	addr     string
	handler  Handler
	timeouts Timeouts
	limiter  *ratelimiter.RateLimiter
	metrics  metrics.TransportMetrics

	mu       sync.Mutex
	listener net.Listener
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewServer creates a server that will bind addr and dispatch decoded
// requests to handler.
func NewServer(addr string, handler Handler, timeouts Timeouts) *Server {
	if handler == nil {
		panic("handler cannot be nil")
	}
	return &Server{
		addr:     addr,
		handler:  handler,
		timeouts: timeouts,
		shutdown: make(chan struct{}),
	}
}

// SetRateLimit caps the sustained request rate across all connections.
// Requests over the limit wait for a token instead of being rejected,
// so clients see latency rather than errors. A rate of 0 removes the
// cap. Must be called before Serve.
func (s *Server) SetRateLimit(requestsPerSecond, burst uint) {
	s.limiter = ratelimiter.New(requestsPerSecond, burst)
}

// SetMetrics installs a metrics sink for request and connection
// accounting. Must be called before Serve.
func (s *Server) SetMetrics(m metrics.TransportMetrics) {
	s.metrics = m
}

// Serve binds the listener and accepts connections until ctx is
// cancelled or the listener fails unrecoverably.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("start listener: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	logger.Info("RPC server listening on %s", listener.Addr())

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		tcpConn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			case <-s.shutdown:
				s.wg.Wait()
				return nil
			default:
				logger.Debug("Error accepting connection: %v", err)
				return fmt.Errorf("accept: %w", err)
			}
		}

		c := &conn{server: s, conn: tcpConn}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c.serve(ctx)
		}()
	}
}

// Addr returns the bound listener address, or the configured address if
// Serve has not started yet. Useful when binding port 0 in tests.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop closes the listener. In-flight connections finish their current
// requests; new connections are refused.
func (s *Server) Stop() error {
	close(s.shutdown)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
