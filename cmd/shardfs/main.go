package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/shardfs/internal/logger"
	"github.com/marmos91/shardfs/pkg/config"
	"github.com/marmos91/shardfs/pkg/engine/dist"
	"github.com/marmos91/shardfs/pkg/gc"
	"github.com/marmos91/shardfs/pkg/metrics"
	"github.com/marmos91/shardfs/pkg/routing"
	"github.com/marmos91/shardfs/pkg/store/content"
	"github.com/marmos91/shardfs/pkg/transport"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	listenAddress := flag.String("listen", "", "Listen address override (host:port)")
	logLevel := flag.String("log-level", "", "Log level override (DEBUG, INFO, WARN, ERROR)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// CLI flags take precedence over file and environment
	if *listenAddress != "" {
		cfg.Server.ListenAddress = *listenAddress
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	// Configure logger
	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		log.Fatalf("Failed to configure log output: %v", err)
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("shardfs - distributed file store node")
	logger.Info("Log level set to: %s", cfg.Logging.Level)
	logger.Info("Node address: %s", cfg.Cluster.Address)
	logger.Info("Cluster members: %v", cfg.Cluster.Members)

	// Metadata store
	meta, err := config.CreateMetadataStore(ctx, &cfg.Metadata)
	if err != nil {
		log.Fatalf("Failed to create metadata store: %v", err)
	}
	defer meta.Close()

	// Blob store, only used by the local engine
	var blobs content.Store
	if cfg.Engine.Type == "local" {
		blobs, err = config.CreateContentStore(ctx, &cfg.Content)
		if err != nil {
			log.Fatalf("Failed to create content store: %v", err)
		}
		defer blobs.Close()
	}

	eng, err := config.CreateEngine(ctx, &cfg.Engine, meta, blobs)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}
	if closer, ok := eng.(io.Closer); ok {
		defer closer.Close()
	}
	logger.Info("Engine: %s", cfg.Engine.Type)

	// Orphaned blob collection, local engine only
	if cfg.GC.Enabled && blobs != nil {
		index, ok := meta.(gc.ContentIndex)
		if !ok {
			log.Fatalf("Metadata store %T cannot enumerate content ids for GC", meta)
		}
		collector, err := gc.NewCollector(index, blobs, gc.Config{
			Interval:  cfg.GC.Interval,
			BatchSize: cfg.GC.BatchSize,
			DryRun:    cfg.GC.DryRun,
		})
		if err != nil {
			log.Fatalf("Failed to create garbage collector: %v", err)
		}
		collector.Start()
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer stopCancel()
			_ = collector.Stop(stopCtx)
		}()
	}

	// Routing table and RPC client for peer forwarding
	table := routing.NewTable(cfg.Cluster.Members)
	client := transport.NewClient()
	defer client.Close()

	// Distributed engine fronting the local one
	node := dist.New(cfg.Cluster.Address, table, client, eng)

	// Transport server dispatching wire requests into the engine
	srv := transport.NewServer(cfg.Server.ListenAddress, node, transport.Timeouts{
		Idle: cfg.Server.IdleTimeout,
		Read: cfg.Server.ReadTimeout,
	})
	if cfg.Server.RateLimit > 0 {
		srv.SetRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst)
		logger.Info("Request rate limit: %d req/s (burst %d)", cfg.Server.RateLimit, cfg.Server.RateBurst)
	}

	// Prometheus metrics, exposed on a separate HTTP listener
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		srv.SetMetrics(metrics.NewTransportMetrics())

		metricsSrv := metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port})
		go func() {
			if err := metricsSrv.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running on %s. Press Ctrl+C to stop.", cfg.Server.ListenAddress)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error: %v", err)
			os.Exit(1)
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		if err != nil {
			logger.Error("Server error: %v", err)
			os.Exit(1)
		}
		logger.Info("Server stopped")
	}
}
