package metrics

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/awscache/awscache/internal/config"
)

func TestSnapshotEmpty(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	snap := c.Snapshot()

	if snap.HitRate != 0 {
		t.Errorf("hit rate on empty collector = %f", snap.HitRate)
	}
	if snap.AvgResponseTime != 0 || snap.HitAvgTime != 0 || snap.MissAvgTime != 0 {
		t.Errorf("averages on empty collector: %+v", snap)
	}
	if len(snap.PerService) != 0 || len(snap.PerOperation) != 0 {
		t.Errorf("breakdowns on empty collector: %+v", snap)
	}
}

func TestSnapshotAggregation(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	c.RecordTiming("ec2", "describe-instances", 10*time.Millisecond, true)
	c.RecordTiming("ec2", "describe-instances", 30*time.Millisecond, false)
	c.RecordTiming("ec2", "describe-volumes", 20*time.Millisecond, true)
	c.RecordTiming("s3", "list-buckets", 40*time.Millisecond, false)

	snap := c.Snapshot()
	if snap.Hits != 2 || snap.Misses != 2 {
		t.Errorf("hits=%d misses=%d", snap.Hits, snap.Misses)
	}
	if snap.HitRate != 0.5 {
		t.Errorf("hit rate = %f, want 0.5", snap.HitRate)
	}
	if snap.HitAvgTime != 15*time.Millisecond {
		t.Errorf("hit avg = %v, want 15ms", snap.HitAvgTime)
	}
	if snap.MissAvgTime != 35*time.Millisecond {
		t.Errorf("miss avg = %v, want 35ms", snap.MissAvgTime)
	}
	if snap.AvgResponseTime != 25*time.Millisecond {
		t.Errorf("avg = %v, want 25ms", snap.AvgResponseTime)
	}

	ec2 := snap.PerService["ec2"]
	if ec2.Hits != 2 || ec2.Misses != 1 {
		t.Errorf("ec2 service stats: %+v", ec2)
	}
	op := snap.PerOperation["ec2:describe-instances"]
	if op.Hits != 1 || op.Misses != 1 || op.HitRate != 0.5 {
		t.Errorf("operation stats: %+v", op)
	}
}

func TestRecordHitMissShorthand(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	c.RecordHit("sts", "get-caller-identity")
	c.RecordMiss("sts", "get-caller-identity")

	snap := c.Snapshot()
	if snap.Hits != 1 || snap.Misses != 1 {
		t.Errorf("hits=%d misses=%d", snap.Hits, snap.Misses)
	}
}

func TestReset(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	c.RecordHit("ec2", "describe-instances")
	before := c.Snapshot().Since

	time.Sleep(time.Millisecond)
	c.Reset()

	snap := c.Snapshot()
	if snap.Hits != 0 || len(snap.PerService) != 0 {
		t.Errorf("counters survived reset: %+v", snap)
	}
	if !snap.Since.After(before) {
		t.Error("reset did not advance the window start")
	}
}

func TestEvaluateAlerts(t *testing.T) {
	thresholds := config.AlertThresholds{
		MaxMissRate:     0.7,
		MaxResponseTime: 2 * time.Second,
		MinHitRate:      0.2,
	}

	tests := []struct {
		name string
		snap Snapshot
		want []AlertKind
	}{
		{
			name: "healthy",
			snap: Snapshot{Hits: 8, Misses: 2, HitRate: 0.8, AvgResponseTime: 100 * time.Millisecond},
			want: nil,
		},
		{
			name: "empty snapshot never alerts",
			snap: Snapshot{},
			want: nil,
		},
		{
			name: "miss rate and hit rate both fire",
			snap: Snapshot{Hits: 1, Misses: 9, HitRate: 0.1, AvgResponseTime: 100 * time.Millisecond},
			want: []AlertKind{AlertHighMissRate, AlertLowHitRate},
		},
		{
			name: "slow responses",
			snap: Snapshot{Hits: 9, Misses: 1, HitRate: 0.9, AvgResponseTime: 3 * time.Second},
			want: []AlertKind{AlertSlowResponses},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := Evaluate(tt.snap, thresholds)
			if len(alerts) != len(tt.want) {
				t.Fatalf("alerts = %+v, want kinds %v", alerts, tt.want)
			}
			for i, kind := range tt.want {
				if alerts[i].Kind != kind {
					t.Errorf("alert[%d] = %s, want %s", i, alerts[i].Kind, kind)
				}
			}
		})
	}
}

func TestEvaluateDisabledThresholds(t *testing.T) {
	snap := Snapshot{Hits: 0, Misses: 10, HitRate: 0, AvgResponseTime: time.Minute}
	if alerts := Evaluate(snap, config.AlertThresholds{}); len(alerts) != 0 {
		t.Errorf("zero thresholds produced alerts: %+v", alerts)
	}
}

func TestStorageGaugeAndHandler(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	c.RecordStorageUsage("resident", 512, 1024)
	c.RecordStorageUsage("persistent", 2048, 4096)

	if c.Handler() == nil {
		t.Fatal("nil scrape handler")
	}
}
