// Package gc removes orphaned blobs from a content store.
//
// The local engine deletes a file's metadata before its blob, so a
// crash in between leaves a blob no record references. The collector
// periodically diffs the blobs in the content store against the
// ContentIDs held by file records and deletes the difference.
package gc

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/shardfs/internal/logger"
	"github.com/marmos91/shardfs/pkg/store/content"
)

// ContentIndex is the metadata-side capability the collector needs: an
// enumeration of every blob id some file record still references.
type ContentIndex interface {
	ForEachContentID(ctx context.Context, fn func(id string) error) error
}

// Config controls collection behavior.
type Config struct {
	// Interval between background runs. Defaults to 24h.
	Interval time.Duration

	// BatchSize bounds how many orphans one delete batch covers.
	// Defaults to 1000, the S3 DeleteObjects ceiling.
	BatchSize int

	// DryRun logs what would be deleted without deleting it.
	DryRun bool
}

// Stats summarizes one collection run.
type Stats struct {
	Referenced uint64
	Existing   uint64
	Orphaned   uint64
	Deleted    uint64
	Failed     uint64
	Duration   time.Duration
}

// Summary renders the stats for log output.
func (s *Stats) Summary() string {
	return fmt.Sprintf("referenced=%d existing=%d orphaned=%d deleted=%d failed=%d duration=%s",
		s.Referenced, s.Existing, s.Orphaned, s.Deleted, s.Failed, s.Duration.Round(time.Millisecond))
}

// Collector runs periodic orphan collection. Safe for concurrent use.
type Collector struct {
	index  ContentIndex
	blobs  content.Store
	lister content.Lister
	config Config

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewCollector creates a collector over the given metadata index and
// content store. The content store must implement content.Lister.
func NewCollector(index ContentIndex, blobs content.Store, config Config) (*Collector, error) {
	lister, ok := blobs.(content.Lister)
	if !ok {
		return nil, fmt.Errorf("content store %T cannot enumerate blobs", blobs)
	}

	if config.Interval == 0 {
		config.Interval = 24 * time.Hour
	}
	if config.BatchSize == 0 {
		config.BatchSize = 1000
	}

	return &Collector{
		index:  index,
		blobs:  blobs,
		lister: lister,
		config: config,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start launches the background collection loop.
func (c *Collector) Start() {
	logger.Info("Starting garbage collector: interval=%s batch_size=%d dry_run=%v",
		c.config.Interval, c.config.BatchSize, c.config.DryRun)
	go c.worker()
}

// Stop halts the background loop, waiting for an in-progress run to
// finish or ctx to expire.
func (c *Collector) Stop(ctx context.Context) error {
	close(c.stopCh)

	select {
	case <-c.doneCh:
		return nil
	case <-ctx.Done():
		logger.Warn("Garbage collector shutdown timeout")
		return ctx.Err()
	}
}

// RunNow performs one collection run immediately. Useful for startup
// cleanup and tests; the background loop calls the same path.
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	return c.collect(ctx)
}

func (c *Collector) worker() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			stats, err := c.collect(ctx)
			cancel()

			if err != nil {
				logger.Error("Garbage collection failed: %v", err)
			} else {
				logger.Info("Garbage collection completed: %s", stats.Summary())
			}

		case <-c.stopCh:
			return
		}
	}
}

// collect diffs store contents against referenced ids and deletes the
// orphans in batches.
func (c *Collector) collect(ctx context.Context) (*Stats, error) {
	start := time.Now()
	stats := &Stats{}
	defer func() { stats.Duration = time.Since(start) }()

	referenced := make(map[content.BlobID]struct{})
	err := c.index.ForEachContentID(ctx, func(id string) error {
		referenced[content.BlobID(id)] = struct{}{}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("enumerate referenced blobs: %w", err)
	}
	stats.Referenced = uint64(len(referenced))

	existing, err := c.lister.ListAll(ctx)
	if err != nil {
		return stats, fmt.Errorf("list blobs: %w", err)
	}
	stats.Existing = uint64(len(existing))

	var orphaned []content.BlobID
	for _, id := range existing {
		if _, ok := referenced[id]; !ok {
			orphaned = append(orphaned, id)
		}
	}
	stats.Orphaned = uint64(len(orphaned))

	if len(orphaned) == 0 {
		return stats, nil
	}

	if c.config.DryRun {
		logger.Info("GC dry run: would delete %d orphaned blobs", len(orphaned))
		return stats, nil
	}

	for i := 0; i < len(orphaned); i += c.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		end := min(i+c.config.BatchSize, len(orphaned))
		deleted, failed := c.deleteBatch(ctx, orphaned[i:end])
		stats.Deleted += deleted
		stats.Failed += failed
	}
	return stats, nil
}

// deleteBatch removes one batch of orphans, using the store's bulk
// delete when it has one.
func (c *Collector) deleteBatch(ctx context.Context, batch []content.BlobID) (deleted, failed uint64) {
	if bd, ok := c.blobs.(content.BatchDeleter); ok {
		failures, err := bd.DeleteBatch(ctx, batch)
		if err != nil {
			logger.Warn("GC batch delete failed: %v", err)
			return 0, uint64(len(batch))
		}
		for id, ferr := range failures {
			logger.Debug("GC failed to delete %s: %v", id, ferr)
		}
		return uint64(len(batch) - len(failures)), uint64(len(failures))
	}

	for _, id := range batch {
		if err := c.blobs.Delete(ctx, id); err != nil {
			logger.Debug("GC failed to delete %s: %v", id, err)
			failed++
			continue
		}
		deleted++
	}
	return deleted, failed
}
