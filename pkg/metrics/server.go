package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/shardfs/internal/logger"
)

// Server exposes the Prometheus registry over HTTP.
//
// Endpoints:
//   - GET /metrics: metrics in Prometheus text format
//   - GET /: index page linking to /metrics
type Server struct {
	server       *http.Server
	port         int
	shutdownOnce sync.Once
}

// ServerConfig configures the metrics HTTP server.
type ServerConfig struct {
	// Port to listen on. Default: 9090.
	Port int
}

func (c *ServerConfig) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 9090
	}
}

// NewServer creates a metrics HTTP server in a stopped state. Call
// Start to begin serving.
func NewServer(config ServerConfig) *Server {
	config.applyDefaults()

	mux := http.NewServeMux()

	if IsEnabled() {
		mux.Handle("/metrics", promhttp.HandlerFor(GetRegistry(), promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	} else {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, "Metrics collection is disabled\n")
		})
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = fmt.Fprintf(w, "shardfs metrics server\n\nscrape /metrics\n")
	})

	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		port: config.Port,
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening on port %d", s.port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		// Fresh context: the cancelled one would abort the shutdown
		// before it starts.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// Stop shuts the server down gracefully. Safe to call multiple times.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("metrics server shutdown error: %w", err)
		} else {
			logger.Info("Metrics server stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the configured listen port.
func (s *Server) Port() int {
	return s.port
}
