package server

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awscache/awscache/internal/config"
	"github.com/awscache/awscache/internal/invalidate"
	"github.com/awscache/awscache/internal/metrics"
	"github.com/awscache/awscache/internal/warming"
	cacheerr "github.com/awscache/awscache/pkg/errors"
	"github.com/awscache/awscache/pkg/types"
)

type stubService struct {
	payload     []byte
	getErr      error
	lastRequest types.Request
	lastRules   []invalidate.Rule
	resets      int
}

func (s *stubService) Get(ctx context.Context, req types.Request) ([]byte, error) {
	s.lastRequest = req
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.payload, nil
}

func (s *stubService) Invalidate(rules []invalidate.Rule) invalidate.BatchResult {
	s.lastRules = rules
	result := invalidate.BatchResult{Removed: 3}
	for _, r := range rules {
		if r.Type == "bogus" {
			result.Errors = append(result.Errors,
				cacheerr.Newf(cacheerr.ErrCodeUnknownInvalidation, "unknown invalidation type %q", r.Type))
		}
	}
	return result
}

func (s *stubService) Snapshot() metrics.Snapshot {
	return metrics.Snapshot{Hits: 10, Misses: 5, HitRate: 10.0 / 15.0}
}

func (s *stubService) Alerts() []metrics.Alert { return nil }

func (s *stubService) Stats() TierStats {
	return TierStats{
		Resident:   types.CacheStats{Entries: 7},
		Persistent: types.CacheStats{Entries: 42},
	}
}

func (s *stubService) WarmNow(ctx context.Context) warming.CycleReport {
	return warming.CycleReport{Planned: 2, Completed: 2}
}

func (s *stubService) ResetMetrics() { s.resets++ }

func startTestServer(t *testing.T, svc Service) *Client {
	t.Helper()
	socket := filepath.Join(t.TempDir(), "awscache.sock")
	srv := New(config.ServerConfig{
		Enabled:      true,
		SocketPath:   socket,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}, svc, zerolog.Nop())
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return NewClient(socket)
}

func TestLookupRoundTrip(t *testing.T) {
	svc := &stubService{payload: []byte(`{"Buckets":[]}`)}
	client := startTestServer(t, svc)

	payload, err := client.Lookup(context.Background(), types.Request{
		Service:   "s3",
		Operation: "list-buckets",
		Params:    map[string]any{"MaxBuckets": float64(10)},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"Buckets":[]}`), payload)
	assert.Equal(t, "s3", svc.lastRequest.Service)
	assert.Equal(t, float64(10), svc.lastRequest.Params["MaxBuckets"])
}

func TestLookupErrorMapping(t *testing.T) {
	svc := &stubService{
		getErr: cacheerr.New(cacheerr.ErrCodeFetchFailed, "upstream throttled"),
	}
	client := startTestServer(t, svc)

	_, err := client.Lookup(context.Background(), types.Request{Service: "s3", Operation: "list-buckets"})
	require.Error(t, err)

	var ce *cacheerr.CacheError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, cacheerr.ErrCodeFetchFailed, ce.Code)
	assert.Contains(t, ce.Message, "upstream throttled")
}

func TestInvalidateBatch(t *testing.T) {
	svc := &stubService{}
	client := startTestServer(t, svc)

	removed, errs, err := client.Invalidate(context.Background(), []invalidate.Rule{
		{Type: "pattern", Pattern: "foo"},
		{Type: "bogus"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "bogus")
	assert.Len(t, svc.lastRules, 2)
}

func TestSnapshotAndStats(t *testing.T) {
	client := startTestServer(t, &stubService{})

	snap, err := client.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(10), snap.Hits)

	stats, err := client.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, stats.Resident.Entries)
	assert.Equal(t, 42, stats.Persistent.Entries)
}

func TestWarmAndReset(t *testing.T) {
	svc := &stubService{}
	client := startTestServer(t, svc)

	report, err := client.Warm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Completed)

	require.NoError(t, client.ResetMetrics(context.Background()))
	assert.Equal(t, 1, svc.resets)
}

func TestHealthy(t *testing.T) {
	client := startTestServer(t, &stubService{})
	assert.True(t, client.Healthy(context.Background()))

	down := NewClient(filepath.Join(t.TempDir(), "nobody-home.sock"))
	assert.False(t, down.Healthy(context.Background()))
}
