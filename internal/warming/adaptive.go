package warming

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Sampler reads the host's resource pressure. The production sampler uses
// gopsutil; tests substitute fixed readings.
type Sampler interface {
	CPUPercent(ctx context.Context) (float64, error)
	MemoryPercent(ctx context.Context) (float64, error)
}

// SystemSampler reads live CPU and memory usage from the host.
type SystemSampler struct{}

func (SystemSampler) CPUPercent(ctx context.Context) (float64, error) {
	vals, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil || len(vals) == 0 {
		return 0, err
	}
	return vals[0], nil
}

func (SystemSampler) MemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// Adjustment is the output of one adaptive step: how hard this warming
// cycle may push. Intensity 0 skips the cycle entirely.
type Adjustment struct {
	Intensity  float64
	MaxWorkers int
	JobTimeout time.Duration
}

// Strategy scales warming intensity to current conditions so background
// warming never competes with foreground traffic for a loaded host.
type Strategy struct {
	sampler    Sampler
	peakHours  map[int]bool
	maxWorkers int
	jobTimeout time.Duration
	log        zerolog.Logger

	// now is replaceable for time-of-day tests.
	now func() time.Time
}

// NewStrategy builds a strategy around the configured ceilings.
func NewStrategy(sampler Sampler, peakHours []int, maxWorkers int, jobTimeout time.Duration, log zerolog.Logger) *Strategy {
	peaks := make(map[int]bool, len(peakHours))
	for _, h := range peakHours {
		peaks[h] = true
	}
	return &Strategy{
		sampler:    sampler,
		peakHours:  peaks,
		maxWorkers: maxWorkers,
		jobTimeout: jobTimeout,
		log:        log.With().Str("component", "warming-strategy").Logger(),
		now:        time.Now,
	}
}

// Adjust computes this cycle's intensity from CPU load, memory pressure,
// the cache's current hit rate, and time of day. Sampler failures count as
// no pressure; warming should not stop because /proc was unreadable.
func (s *Strategy) Adjust(ctx context.Context, hitRate float64) Adjustment {
	intensity := 1.0

	cpuPct, err := s.sampler.CPUPercent(ctx)
	if err != nil {
		s.log.Debug().Err(err).Msg("cpu sample failed")
		cpuPct = 0
	}
	memPct, err := s.sampler.MemoryPercent(ctx)
	if err != nil {
		s.log.Debug().Err(err).Msg("memory sample failed")
		memPct = 0
	}

	switch {
	case cpuPct > 85:
		intensity *= 0.2
	case cpuPct > 60:
		intensity *= 0.6
	}
	if memPct > 85 {
		intensity *= 0.5
	}
	// A cache already hitting well gains little from aggressive warming.
	if hitRate > 0.9 {
		intensity *= 0.5
	}
	if s.peakHours[s.now().Hour()] {
		intensity *= 0.5
	}

	adj := Adjustment{
		Intensity:  intensity,
		MaxWorkers: s.scaledWorkers(intensity),
		JobTimeout: s.jobTimeout,
	}
	if intensity < 0.15 {
		adj.Intensity = 0
		adj.MaxWorkers = 0
	} else if intensity < 0.5 {
		// Under pressure, also give up on slow fetches sooner.
		adj.JobTimeout = s.jobTimeout / 2
	}

	s.log.Debug().
		Float64("cpu", cpuPct).
		Float64("memory", memPct).
		Float64("hit_rate", hitRate).
		Float64("intensity", adj.Intensity).
		Int("workers", adj.MaxWorkers).
		Msg("adaptive adjustment")
	return adj
}

func (s *Strategy) scaledWorkers(intensity float64) int {
	workers := int(math.Round(float64(s.maxWorkers) * intensity))
	if workers < 1 {
		workers = 1
	}
	if workers > s.maxWorkers {
		workers = s.maxWorkers
	}
	return workers
}
