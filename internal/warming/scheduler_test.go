package warming

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/awscache/awscache/internal/config"
	"github.com/awscache/awscache/internal/metrics"
	"github.com/awscache/awscache/pkg/types"
)

type fakeFiller struct {
	mu       sync.Mutex
	calls    map[string]int
	failures map[string]int // fail the first N calls for a key
	delay    time.Duration
}

func newFakeFiller() *fakeFiller {
	return &fakeFiller{calls: make(map[string]int), failures: make(map[string]int)}
}

func (f *fakeFiller) Warm(ctx context.Context, rawKey string) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[rawKey]++
	if f.failures[rawKey] > 0 {
		f.failures[rawKey]--
		return errors.New("transient fetch error")
	}
	return nil
}

func (f *fakeFiller) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

type fixedSampler struct {
	cpu float64
	mem float64
}

func (s fixedSampler) CPUPercent(ctx context.Context) (float64, error)    { return s.cpu, nil }
func (s fixedSampler) MemoryPercent(ctx context.Context) (float64, error) { return s.mem, nil }

type fakeStats struct {
	mu    sync.Mutex
	snaps []metrics.Snapshot
}

func (s *fakeStats) Snapshot() metrics.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snaps) == 0 {
		return metrics.Snapshot{}
	}
	snap := s.snaps[0]
	if len(s.snaps) > 1 {
		s.snaps = s.snaps[1:]
	}
	return snap
}

func testWarmingConfig() config.WarmingConfig {
	return config.WarmingConfig{
		Enabled:              true,
		Interval:             time.Minute,
		MaxConcurrentWorkers: 2,
		JobTimeout:           time.Second,
		MaxRetries:           2,
		JobRetention:         time.Hour,
		MinFrequency:         2,
		MinPriority:          "medium",
	}
}

func newTestScheduler(cfg config.WarmingConfig, filler Filler, usage *UsageLog, sampler Sampler, stats StatsSource) *Scheduler {
	strategy := NewStrategy(sampler, cfg.PeakHours, cfg.MaxConcurrentWorkers, cfg.JobTimeout, zerolog.Nop())
	return NewScheduler(cfg, filler, usage, strategy, stats, zerolog.Nop())
}

func recordMisses(usage *UsageLog, key string, misses, hits int) {
	for i := 0; i < misses; i++ {
		usage.Record(types.UsageEvent{Key: key, Timestamp: time.Now(), WasHit: false})
	}
	for i := 0; i < hits; i++ {
		usage.Record(types.UsageEvent{Key: key, Timestamp: time.Now(), WasHit: true})
	}
}

func TestRunCycleWarmsHotMissingKeys(t *testing.T) {
	filler := newFakeFiller()
	usage := NewUsageLog(0)
	sched := newTestScheduler(testWarmingConfig(), filler, usage, fixedSampler{}, &fakeStats{})

	hot := "default:us-east-1:ec2:describe-instances:noparams"
	cold := "default:us-east-1:s3:list-buckets:noparams"
	recordMisses(usage, hot, 6, 2)
	recordMisses(usage, cold, 1, 9)

	report := sched.RunCycle(context.Background())
	if report.Planned != 1 || report.Completed != 1 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}
	if filler.callCount(hot) != 1 {
		t.Errorf("hot key warmed %d times, want 1", filler.callCount(hot))
	}
	if filler.callCount(cold) != 0 {
		t.Errorf("cold key should not be warmed")
	}

	jobs := sched.Jobs()
	if len(jobs) != 1 || jobs[0].State != JobCompleted || jobs[0].Priority != PriorityHigh {
		t.Errorf("jobs = %+v", jobs)
	}
}

// TestRunCycleRetriesFailures verifies a transiently failing job returns
// to pending and succeeds within the same cycle.
func TestRunCycleRetriesFailures(t *testing.T) {
	filler := newFakeFiller()
	usage := NewUsageLog(0)
	sched := newTestScheduler(testWarmingConfig(), filler, usage, fixedSampler{}, &fakeStats{})

	key := "default:us-east-1:ec2:describe-instances:noparams"
	filler.failures[key] = 2
	recordMisses(usage, key, 6, 2)

	report := sched.RunCycle(context.Background())
	if report.Completed != 1 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}
	if filler.callCount(key) != 3 {
		t.Errorf("filler called %d times, want 3 (two retries)", filler.callCount(key))
	}
	jobs := sched.Jobs()
	if len(jobs) != 1 || jobs[0].Retries != 2 {
		t.Errorf("jobs = %+v", jobs)
	}
}

func TestRunCycleRetriesExhausted(t *testing.T) {
	filler := newFakeFiller()
	usage := NewUsageLog(0)
	sched := newTestScheduler(testWarmingConfig(), filler, usage, fixedSampler{}, &fakeStats{})

	key := "default:us-east-1:ec2:describe-instances:noparams"
	filler.failures[key] = 10
	recordMisses(usage, key, 6, 2)

	report := sched.RunCycle(context.Background())
	if report.Completed != 0 || report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}
	// Initial attempt plus MaxRetries.
	if filler.callCount(key) != 3 {
		t.Errorf("filler called %d times, want 3", filler.callCount(key))
	}
	jobs := sched.Jobs()
	if len(jobs) != 1 || jobs[0].State != JobFailed || jobs[0].LastError == "" {
		t.Errorf("jobs = %+v", jobs)
	}
}

func TestRunCycleJobTimeout(t *testing.T) {
	cfg := testWarmingConfig()
	cfg.JobTimeout = 20 * time.Millisecond
	cfg.MaxRetries = 0

	filler := newFakeFiller()
	filler.delay = 200 * time.Millisecond
	usage := NewUsageLog(0)
	sched := newTestScheduler(cfg, filler, usage, fixedSampler{}, &fakeStats{})

	recordMisses(usage, "default:us-east-1:ec2:describe-instances:noparams", 6, 2)

	report := sched.RunCycle(context.Background())
	if report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}
	jobs := sched.Jobs()
	if len(jobs) != 1 || jobs[0].State != JobFailed {
		t.Fatalf("jobs = %+v", jobs)
	}
	if jobs[0].LastError == "" {
		t.Error("timeout left no error on the job")
	}
}

// TestRunCycleSkipsUnderLoad verifies warming stands down on a saturated
// host and keeps the usage signal for the next cycle.
func TestRunCycleSkipsUnderLoad(t *testing.T) {
	filler := newFakeFiller()
	usage := NewUsageLog(0)
	sched := newTestScheduler(testWarmingConfig(), filler, usage, fixedSampler{cpu: 95, mem: 95}, &fakeStats{})

	key := "default:us-east-1:ec2:describe-instances:noparams"
	recordMisses(usage, key, 6, 2)

	report := sched.RunCycle(context.Background())
	if !report.Skipped {
		t.Fatalf("report = %+v, want skipped", report)
	}
	if filler.callCount(key) != 0 {
		t.Error("skipped cycle still warmed keys")
	}
	if usage.Len() == 0 {
		t.Error("skipped cycle consumed the usage log")
	}
}

// TestJobsSafeDuringCycle reads the job history concurrently with a slow
// cycle; history must only ever expose jobs the workers are done with.
func TestJobsSafeDuringCycle(t *testing.T) {
	filler := newFakeFiller()
	filler.delay = 20 * time.Millisecond
	usage := NewUsageLog(0)
	sched := newTestScheduler(testWarmingConfig(), filler, usage, fixedSampler{}, &fakeStats{})

	recordMisses(usage, "default:us-east-1:ec2:describe-instances:noparams", 6, 2)
	recordMisses(usage, "default:us-east-1:dynamodb:list-tables:noparams", 6, 2)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, job := range sched.Jobs() {
				if !job.terminal() {
					t.Errorf("observed non-terminal job %s in state %s", job.ID, job.State)
					return
				}
			}
		}
	}()

	report := sched.RunCycle(context.Background())
	close(stop)
	<-done

	if report.Planned != 2 || report.Completed != 2 {
		t.Fatalf("report = %+v", report)
	}
	if len(sched.Jobs()) != 2 {
		t.Errorf("jobs = %+v", sched.Jobs())
	}
}

func TestRunCyclePriorityThreshold(t *testing.T) {
	cfg := testWarmingConfig()
	cfg.MinPriority = "high"

	filler := newFakeFiller()
	usage := NewUsageLog(0)
	sched := newTestScheduler(cfg, filler, usage, fixedSampler{}, &fakeStats{})

	// Medium: miss rate 0.5 at frequency 4.
	recordMisses(usage, "default:us-east-1:s3:list-objects:medium00", 2, 2)
	// High: miss rate 0.75 at frequency 8.
	recordMisses(usage, "default:us-east-1:ec2:describe-instances:high0000", 6, 2)

	report := sched.RunCycle(context.Background())
	if report.Planned != 1 {
		t.Fatalf("report = %+v, want 1 planned", report)
	}
	if filler.callCount("default:us-east-1:s3:list-objects:medium00") != 0 {
		t.Error("medium candidate warmed despite high threshold")
	}
}

func TestRunCycleEffectiveness(t *testing.T) {
	filler := newFakeFiller()
	usage := NewUsageLog(0)
	stats := &fakeStats{snaps: []metrics.Snapshot{
		{HitRate: 0.5, AvgResponseTime: 100 * time.Millisecond, Hits: 5, Misses: 5},
		{HitRate: 0.7, AvgResponseTime: 50 * time.Millisecond, Hits: 14, Misses: 6},
	}}
	sched := newTestScheduler(testWarmingConfig(), filler, usage, fixedSampler{}, stats)

	recordMisses(usage, "default:us-east-1:ec2:describe-instances:noparams", 6, 2)

	report := sched.RunCycle(context.Background())
	// 0.4*0.2 + 0.3*0.5 + 0.3*1.0 = 0.53
	if report.Effectiveness < 0.52 || report.Effectiveness > 0.54 {
		t.Errorf("effectiveness = %f, want ~0.53", report.Effectiveness)
	}
	if sched.LastReport().Effectiveness != report.Effectiveness {
		t.Error("last report not retained")
	}
}

func TestHistoryPruned(t *testing.T) {
	cfg := testWarmingConfig()
	cfg.JobRetention = 10 * time.Millisecond

	filler := newFakeFiller()
	usage := NewUsageLog(0)
	sched := newTestScheduler(cfg, filler, usage, fixedSampler{}, &fakeStats{})

	recordMisses(usage, "default:us-east-1:ec2:describe-instances:noparams", 6, 2)
	sched.RunCycle(context.Background())
	if len(sched.Jobs()) != 1 {
		t.Fatalf("jobs = %+v", sched.Jobs())
	}

	time.Sleep(20 * time.Millisecond)
	sched.RunCycle(context.Background())
	if len(sched.Jobs()) != 0 {
		t.Errorf("retention kept stale jobs: %+v", sched.Jobs())
	}
}
