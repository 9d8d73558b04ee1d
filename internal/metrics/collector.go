package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	cacheerr "github.com/awscache/awscache/pkg/errors"
)

// Collector aggregates lookup outcomes and timings, both as an in-process
// snapshot for alerting and as Prometheus series for scraping.
type Collector struct {
	mu       sync.RWMutex
	registry *prometheus.Registry
	log      zerolog.Logger

	lookupCounter  *prometheus.CounterVec
	lookupDuration *prometheus.HistogramVec
	storageGauge   *prometheus.GaugeVec

	hits      uint64
	misses    uint64
	hitTime   time.Duration
	missTime  time.Duration
	perKey    map[statKey]*bucket
	lastReset time.Time

	server *http.Server
}

type statKey struct {
	service   string
	operation string
}

type bucket struct {
	hits      uint64
	misses    uint64
	totalTime time.Duration
}

// OperationStats is the per-service or per-operation slice of a snapshot.
type OperationStats struct {
	Hits            uint64        `json:"hits"`
	Misses          uint64        `json:"misses"`
	HitRate         float64       `json:"hit_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// Snapshot is a consistent point-in-time view of the collector. All rates
// are 0 when their denominator is 0.
type Snapshot struct {
	Hits            uint64                    `json:"hits"`
	Misses          uint64                    `json:"misses"`
	HitRate         float64                   `json:"hit_rate"`
	AvgResponseTime time.Duration             `json:"avg_response_time"`
	HitAvgTime      time.Duration             `json:"hit_avg_time"`
	MissAvgTime     time.Duration             `json:"miss_avg_time"`
	PerService      map[string]OperationStats `json:"per_service"`
	PerOperation    map[string]OperationStats `json:"per_operation"`
	Since           time.Time                 `json:"since"`
}

// NewCollector creates a collector with its own Prometheus registry.
func NewCollector(log zerolog.Logger) *Collector {
	c := &Collector{
		registry:  prometheus.NewRegistry(),
		log:       log.With().Str("component", "metrics").Logger(),
		perKey:    make(map[statKey]*bucket),
		lastReset: time.Now(),
	}

	c.lookupCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "awscache",
			Name:      "lookups_total",
			Help:      "Cache lookups by service, operation and outcome",
		},
		[]string{"service", "operation", "outcome"},
	)
	c.lookupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "awscache",
			Name:      "lookup_duration_seconds",
			Help:      "Lookup latency by service, operation and outcome",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
		[]string{"service", "operation", "outcome"},
	)
	c.storageGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "awscache",
			Name:      "storage_bytes",
			Help:      "Storage usage by tier",
		},
		[]string{"tier", "kind"},
	)

	c.registry.MustRegister(c.lookupCounter, c.lookupDuration, c.storageGauge)
	return c
}

// RecordHit counts a lookup served from a cache tier.
func (c *Collector) RecordHit(service, operation string) {
	c.RecordTiming(service, operation, 0, true)
}

// RecordMiss counts a lookup that fell through to the fetch collaborator.
func (c *Collector) RecordMiss(service, operation string) {
	c.RecordTiming(service, operation, 0, false)
}

// RecordTiming counts one lookup with its latency and outcome.
func (c *Collector) RecordTiming(service, operation string, duration time.Duration, wasHit bool) {
	outcome := "miss"
	if wasHit {
		outcome = "hit"
	}
	c.lookupCounter.WithLabelValues(service, operation, outcome).Inc()
	c.lookupDuration.WithLabelValues(service, operation, outcome).Observe(duration.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()

	if wasHit {
		c.hits++
		c.hitTime += duration
	} else {
		c.misses++
		c.missTime += duration
	}
	for _, key := range []statKey{
		{service: service},
		{service: service, operation: operation},
	} {
		b, ok := c.perKey[key]
		if !ok {
			b = &bucket{}
			c.perKey[key] = b
		}
		if wasHit {
			b.hits++
		} else {
			b.misses++
		}
		b.totalTime += duration
	}
}

// RecordLookup adapts the cache's observer hook onto RecordTiming.
func (c *Collector) RecordLookup(service, operation string, hit bool, latency time.Duration) {
	c.RecordTiming(service, operation, latency, hit)
}

// RecordStorageUsage publishes a tier's current and maximum size.
func (c *Collector) RecordStorageUsage(tier string, usedBytes, totalBytes int64) {
	c.storageGauge.WithLabelValues(tier, "used").Set(float64(usedBytes))
	c.storageGauge.WithLabelValues(tier, "total").Set(float64(totalBytes))
}

// Snapshot returns the aggregated view since the last reset.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		Hits:         c.hits,
		Misses:       c.misses,
		HitRate:      ratio(float64(c.hits), float64(c.hits+c.misses)),
		HitAvgTime:   avgDuration(c.hitTime, c.hits),
		MissAvgTime:  avgDuration(c.missTime, c.misses),
		PerService:   make(map[string]OperationStats),
		PerOperation: make(map[string]OperationStats),
		Since:        c.lastReset,
	}
	snap.AvgResponseTime = avgDuration(c.hitTime+c.missTime, c.hits+c.misses)

	for key, b := range c.perKey {
		stats := OperationStats{
			Hits:            b.hits,
			Misses:          b.misses,
			HitRate:         ratio(float64(b.hits), float64(b.hits+b.misses)),
			AvgResponseTime: avgDuration(b.totalTime, b.hits+b.misses),
		}
		if key.operation == "" {
			snap.PerService[key.service] = stats
		} else {
			snap.PerOperation[key.service+":"+key.operation] = stats
		}
	}
	return snap
}

// Reset clears the in-process aggregates. Prometheus series are left
// intact; scrapers expect counters to be monotonic.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits, c.misses = 0, 0
	c.hitTime, c.missTime = 0, 0
	c.perKey = make(map[statKey]*bucket)
	c.lastReset = time.Now()
}

// Handler returns the scrape endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve starts an HTTP listener exposing /metrics on addr. A second call
// before Shutdown is an error.
func (c *Collector) Serve(addr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.server != nil {
		return cacheerr.New(cacheerr.ErrCodeServer, "metrics server already running").
			WithComponent("metrics").WithOperation("serve")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	c.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.log.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	return nil
}

// Shutdown stops the scrape listener if one is running.
func (c *Collector) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	server := c.server
	c.server = nil
	c.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func avgDuration(total time.Duration, count uint64) time.Duration {
	if count == 0 {
		return 0
	}
	return total / time.Duration(count)
}
