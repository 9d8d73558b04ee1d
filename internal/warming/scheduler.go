package warming

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/awscache/awscache/internal/config"
	"github.com/awscache/awscache/internal/metrics"
	cacheerr "github.com/awscache/awscache/pkg/errors"
)

// Filler re-fetches and re-fills one key. The tiered cache implements it;
// the scheduler never touches storage directly.
type Filler interface {
	Warm(ctx context.Context, rawKey string) error
}

// StatsSource provides the snapshots that bracket a cycle for the
// effectiveness measurement.
type StatsSource interface {
	Snapshot() metrics.Snapshot
}

// Scheduler runs the warming loop: analyze usage, adapt to load, plan
// jobs, execute them under a concurrency cap, and measure whether the
// cycle helped.
type Scheduler struct {
	filler   Filler
	usage    *UsageLog
	strategy *Strategy
	stats    StatsSource
	log      zerolog.Logger

	interval     time.Duration
	jobTimeout   time.Duration
	maxRetries   int
	minFrequency int
	minPriority  Priority
	retention    time.Duration

	mu         sync.Mutex
	history    []*Job
	lastReport CycleReport
}

// NewScheduler wires a scheduler from configuration and collaborators.
func NewScheduler(cfg config.WarmingConfig, filler Filler, usage *UsageLog, strategy *Strategy, stats StatsSource, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		filler:       filler,
		usage:        usage,
		strategy:     strategy,
		stats:        stats,
		log:          log.With().Str("component", "warming").Logger(),
		interval:     cfg.Interval,
		jobTimeout:   cfg.JobTimeout,
		maxRetries:   cfg.MaxRetries,
		minFrequency: cfg.MinFrequency,
		minPriority:  ParsePriority(cfg.MinPriority),
		retention:    cfg.JobRetention,
	}
}

// Run executes warming cycles on the configured interval until ctx is
// canceled. Intended to run on its own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := s.RunCycle(ctx)
			s.log.Info().
				Int("planned", report.Planned).
				Int("completed", report.Completed).
				Int("failed", report.Failed).
				Bool("skipped", report.Skipped).
				Float64("effectiveness", report.Effectiveness).
				Msg("warming cycle finished")
		}
	}
}

// RunCycle performs one full warming cycle and returns its report.
func (s *Scheduler) RunCycle(ctx context.Context) CycleReport {
	before := s.stats.Snapshot()
	adj := s.strategy.Adjust(ctx, before.HitRate)
	if adj.Intensity == 0 {
		// Events stay buffered for the next cycle; the traffic signal is
		// still valid, the host just has no headroom right now.
		return s.finishCycle(CycleReport{Skipped: true})
	}

	candidates := Analyze(s.usage.Drain(), s.minFrequency)
	jobs := s.plan(candidates)
	if len(jobs) == 0 {
		return s.finishCycle(CycleReport{})
	}

	completed, failed := s.execute(ctx, jobs, adj)

	// Jobs are merged into the shared history only after the workers are
	// done with them, so Jobs() never observes a struct still being
	// written by a worker goroutine.
	s.mu.Lock()
	s.history = append(s.history, jobs...)
	s.mu.Unlock()

	after := s.stats.Snapshot()
	report := CycleReport{
		Planned:   len(jobs),
		Completed: completed,
		Failed:    failed,
	}
	successRate := float64(completed) / float64(len(jobs))
	report.Effectiveness = Effectiveness(before, after, successRate)
	return s.finishCycle(report)
}

// plan turns ranked candidates into pending jobs, dropping those below the
// configured priority threshold. The jobs stay private to the cycle until
// execution finishes.
func (s *Scheduler) plan(candidates []Candidate) []*Job {
	var jobs []*Job
	for _, c := range candidates {
		if c.Priority < s.minPriority {
			continue
		}
		jobs = append(jobs, newJob(c))
	}
	return jobs
}

// execute dispatches jobs high-priority first under the cycle's worker
// cap. Failed jobs with retries left go back to pending and run again
// within the same cycle.
func (s *Scheduler) execute(ctx context.Context, jobs []*Job, adj Adjustment) (completed, failed int) {
	sem := semaphore.NewWeighted(int64(adj.MaxWorkers))
	queue := make([]*Job, len(jobs))
	copy(queue, jobs)
	sort.SliceStable(queue, func(i, j int) bool { return queue[i].Priority > queue[j].Priority })

	for len(queue) > 0 {
		var wg sync.WaitGroup
		var retryMu sync.Mutex
		var retries []*Job

		for _, job := range queue {
			if err := sem.Acquire(ctx, 1); err != nil {
				job.markFailed(time.Now(), err)
				continue
			}
			wg.Add(1)
			go func(job *Job) {
				defer wg.Done()
				defer sem.Release(1)

				s.runJob(ctx, job, adj.JobTimeout)
				if job.State == JobFailed && job.Retries < s.maxRetries {
					retryMu.Lock()
					retries = append(retries, job)
					retryMu.Unlock()
				}
			}(job)
		}
		wg.Wait()

		for _, job := range retries {
			job.Retries++
			job.State = JobPending
		}
		queue = retries
	}

	for _, job := range jobs {
		switch job.State {
		case JobCompleted:
			completed++
		case JobFailed:
			failed++
		}
	}
	return completed, failed
}

// runJob executes one job under its deadline and records the terminal
// state.
func (s *Scheduler) runJob(ctx context.Context, job *Job, timeout time.Duration) {
	job.markActive(time.Now())

	jctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := s.filler.Warm(jctx, job.Key)
	now := time.Now()
	if err == nil {
		job.markCompleted(now)
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = cacheerr.Wrap(cacheerr.ErrCodeJobTimeout, "job deadline exceeded", err).
			WithComponent("warming").WithOperation("execute").
			WithDetail("job_id", job.ID)
	}
	job.markFailed(now, err)
	s.log.Debug().Str("job_id", job.ID).Str("key", job.Key).Err(err).Msg("warming job failed")
}

// Jobs returns a copy of the retained job history, newest last. Jobs of a
// cycle still executing appear once that cycle finishes.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, len(s.history))
	for i, j := range s.history {
		out[i] = *j
	}
	return out
}

// LastReport returns the most recent cycle's report.
func (s *Scheduler) LastReport() CycleReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReport
}

func (s *Scheduler) finishCycle(report CycleReport) CycleReport {
	s.mu.Lock()
	s.lastReport = report
	s.pruneLocked(time.Now())
	s.mu.Unlock()
	return report
}

// pruneLocked drops terminal jobs past the retention window. Called with
// s.mu held.
func (s *Scheduler) pruneLocked(now time.Time) {
	if s.retention <= 0 {
		return
	}
	kept := s.history[:0]
	for _, job := range s.history {
		if job.terminal() && now.Sub(job.FinishedAt) > s.retention {
			continue
		}
		kept = append(kept, job)
	}
	s.history = kept
}
