// Package awscache is a two-tier response cache for AWS API calls: an
// in-memory LRU in front of a compressed disk store, with rule-based
// invalidation and predictive background warming. It can run embedded in a
// process or as a resident daemon that CLI invocations reach over a unix
// socket.
package awscache

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/awscache/awscache/internal/cache"
	"github.com/awscache/awscache/internal/config"
	"github.com/awscache/awscache/internal/invalidate"
	"github.com/awscache/awscache/internal/metrics"
	"github.com/awscache/awscache/internal/server"
	"github.com/awscache/awscache/internal/warming"
	cacheerr "github.com/awscache/awscache/pkg/errors"
	"github.com/awscache/awscache/pkg/types"
)

const shutdownTimeout = 10 * time.Second

// Cache is the assembled system. Construct with New, release with Close.
type Cache struct {
	cfg       *config.Configuration
	log       zerolog.Logger
	tiered    *cache.Tiered
	engine    *invalidate.Engine
	collector *metrics.Collector
	usage     *warming.UsageLog
	scheduler *warming.Scheduler
	srv       *server.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeMu sync.Mutex
	closed  bool
}

// New validates the configuration and assembles the cache around the fetch
// collaborator. Background loops (warming, daemon socket, metrics
// endpoint) start according to the configuration and stop on Close.
func New(ctx context.Context, cfg *config.Configuration, fetcher types.Fetcher) (*Cache, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fetcher == nil {
		return nil, cacheerr.New(cacheerr.ErrCodeInvalidConfig, "fetcher must not be nil").
			WithComponent("awscache").WithOperation("new")
	}

	log := newLogger(cfg.Global.LogLevel)
	defaults := config.ResolveAWSDefaults(ctx, cfg)
	codec := cache.NewKeyCodec(defaults)

	collector := metrics.NewCollector(log)
	usage := warming.NewUsageLog(cfg.Warming.UsageLogSize)

	tiered := cache.NewTiered(cache.TieredOptions{
		Resident:   cache.NewResident(cfg.Resident.Capacity),
		Persistent: cache.NewPersistent(cfg.Persistent.Directory, cfg.Persistent.MaxBytes, log),
		Codec:      codec,
		Fetcher:    fetcher,
		TTL:        cfg.Global.DefaultTTL,
		Observer:   collector,
		Usage:      usage,
		Logger:     log,
	})

	c := &Cache{
		cfg:       cfg,
		log:       log,
		tiered:    tiered,
		engine:    invalidate.NewEngine(tiered, codec, log),
		collector: collector,
		usage:     usage,
	}

	strategy := warming.NewStrategy(
		warming.SystemSampler{},
		cfg.Warming.PeakHours,
		cfg.Warming.MaxConcurrentWorkers,
		cfg.Warming.JobTimeout,
		log,
	)
	c.scheduler = warming.NewScheduler(cfg.Warming, tiered, usage, strategy, collector, log)

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	if cfg.Warming.Enabled {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.scheduler.Run(runCtx)
		}()
	}

	if cfg.Server.Enabled {
		c.srv = server.New(cfg.Server, c, log)
		if err := c.srv.Start(); err != nil {
			cancel()
			c.wg.Wait()
			_ = tiered.Close()
			return nil, err
		}
	}
	if cfg.Server.MetricsAddress != "" {
		if err := collector.Serve(cfg.Server.MetricsAddress); err != nil {
			log.Warn().Err(err).Msg("metrics endpoint not started")
		}
	}

	log.Info().
		Str("directory", cfg.Persistent.Directory).
		Int("capacity", cfg.Resident.Capacity).
		Bool("warming", cfg.Warming.Enabled).
		Msg("cache ready")
	return c, nil
}

// Get resolves a request through the cache, fetching on miss.
func (c *Cache) Get(ctx context.Context, req types.Request) ([]byte, error) {
	return c.tiered.Get(ctx, req)
}

// Warm re-fetches and re-fills one previously served key.
func (c *Cache) Warm(ctx context.Context, rawKey string) error {
	return c.tiered.Warm(ctx, rawKey)
}

// WarmNow runs one warming cycle immediately, outside the schedule.
func (c *Cache) WarmNow(ctx context.Context) warming.CycleReport {
	return c.scheduler.RunCycle(ctx)
}

// WarmingJobs returns the retained warming job history.
func (c *Cache) WarmingJobs() []warming.Job {
	return c.scheduler.Jobs()
}

// Invalidate applies a batch of invalidation rules.
func (c *Cache) Invalidate(rules []invalidate.Rule) invalidate.BatchResult {
	return c.engine.Batch(rules)
}

// InvalidateService removes every entry for one service.
func (c *Cache) InvalidateService(service string) (int, error) {
	return c.engine.ByService(service)
}

// InvalidatePattern removes entries whose key matches the pattern.
func (c *Cache) InvalidatePattern(pattern string) (int, error) {
	return c.engine.ByPattern(pattern)
}

// InvalidateCascade invalidates everything a resource mutation taints.
func (c *Cache) InvalidateCascade(service, resourceType, resourceArn string) (int, error) {
	return c.engine.Cascade(service, resourceType, resourceArn)
}

// Snapshot returns the aggregated metrics view.
func (c *Cache) Snapshot() metrics.Snapshot {
	return c.collector.Snapshot()
}

// Alerts evaluates the current snapshot against configured thresholds.
func (c *Cache) Alerts() []metrics.Alert {
	return metrics.Evaluate(c.collector.Snapshot(), c.cfg.Alerts)
}

// Stats reports both tiers' counters and refreshes the storage gauges.
func (c *Cache) Stats() server.TierStats {
	resident := c.tiered.ResidentStats()
	persistent := c.tiered.PersistentStats()
	c.collector.RecordStorageUsage("resident", resident.SizeBytes, resident.Capacity)
	c.collector.RecordStorageUsage("persistent", persistent.SizeBytes, persistent.Capacity)
	return server.TierStats{Resident: resident, Persistent: persistent}
}

// ResetMetrics clears the metric aggregates.
func (c *Cache) ResetMetrics() {
	c.collector.Reset()
}

// Clear drops every entry from both tiers.
func (c *Cache) Clear() error {
	return c.tiered.Clear()
}

// Close stops background loops and flushes pending disk writes. Safe to
// call more than once.
func (c *Cache) Close() error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closed = true
	c.closeMu.Unlock()

	c.cancel()
	c.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if c.srv != nil {
		if err := c.srv.Shutdown(ctx); err != nil {
			c.log.Warn().Err(err).Msg("server shutdown failed")
		}
	}
	if err := c.collector.Shutdown(ctx); err != nil {
		c.log.Warn().Err(err).Msg("metrics shutdown failed")
	}
	return c.tiered.Close()
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
