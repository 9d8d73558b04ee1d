package tests

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awscache/awscache"
	"github.com/awscache/awscache/internal/config"
	"github.com/awscache/awscache/internal/invalidate"
	"github.com/awscache/awscache/internal/server"
	"github.com/awscache/awscache/pkg/types"
)

func daemonConfig(t *testing.T) *config.Configuration {
	t.Helper()
	cfg := config.NewDefault()
	cfg.Global.Profile = "default"
	cfg.Global.Region = "us-east-1"
	cfg.Global.LogLevel = "error"
	cfg.Persistent.Directory = filepath.Join(t.TempDir(), "cache")
	cfg.Warming.Enabled = false
	cfg.Server.Enabled = true
	cfg.Server.SocketPath = filepath.Join(t.TempDir(), "awscache.sock")
	cfg.Server.ReadTimeout = 5 * time.Second
	cfg.Server.WriteTimeout = 5 * time.Second
	return cfg
}

// TestDaemonLookupFlow drives the full daemon path: a client lookup over
// the unix socket misses, fetches, and then repeats as a hit.
func TestDaemonLookupFlow(t *testing.T) {
	var fetches atomic.Int64
	cfg := daemonConfig(t)
	c, err := awscache.New(context.Background(), cfg, func(ctx context.Context, req types.Request) ([]byte, error) {
		fetches.Add(1)
		return []byte(fmt.Sprintf(`{"service":%q}`, req.Service)), nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	client := server.NewClient(cfg.Server.SocketPath)
	require.True(t, client.Healthy(context.Background()))

	req := types.Request{Service: "ec2", Operation: "describe-instances"}
	first, err := client.Lookup(context.Background(), req)
	require.NoError(t, err)
	second, err := client.Lookup(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), fetches.Load())

	snap, err := client.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Hits)
	assert.Equal(t, uint64(1), snap.Misses)

	stats, err := client.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Resident.Entries)
}

func TestDaemonInvalidation(t *testing.T) {
	var fetches atomic.Int64
	cfg := daemonConfig(t)
	c, err := awscache.New(context.Background(), cfg, func(ctx context.Context, req types.Request) ([]byte, error) {
		fetches.Add(1)
		return []byte("payload"), nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	client := server.NewClient(cfg.Server.SocketPath)
	req := types.Request{Service: "stepfunctions", Operation: "list-executions"}
	_, err = client.Lookup(context.Background(), req)
	require.NoError(t, err)

	removed, errs, err := client.Invalidate(context.Background(), []invalidate.Rule{
		{Type: "service", Service: "stepfunctions"},
		{Type: "bogus"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "bogus")

	_, err = client.Lookup(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(2), fetches.Load())
}

func TestDaemonWarmCycle(t *testing.T) {
	var fetches atomic.Int64
	cfg := daemonConfig(t)
	cfg.Warming.MinFrequency = 1
	cfg.Warming.MinPriority = "low"

	c, err := awscache.New(context.Background(), cfg, func(ctx context.Context, req types.Request) ([]byte, error) {
		fetches.Add(1)
		return []byte("fresh"), nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	client := server.NewClient(cfg.Server.SocketPath)
	req := types.Request{Service: "dynamodb", Operation: "list-tables"}
	for i := 0; i < 3; i++ {
		_, err := client.Lookup(context.Background(), req)
		require.NoError(t, err)
	}

	report, err := client.Warm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Planned)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, int64(2), fetches.Load())
}

// TestDaemonRestartServesFromDisk exercises the persistent tier across two
// daemon lifetimes on the same directory.
func TestDaemonRestartServesFromDisk(t *testing.T) {
	var fetches atomic.Int64
	fetcher := func(ctx context.Context, req types.Request) ([]byte, error) {
		fetches.Add(1)
		return []byte("durable"), nil
	}

	cfg := daemonConfig(t)
	first, err := awscache.New(context.Background(), cfg, fetcher)
	require.NoError(t, err)

	req := types.Request{Service: "s3", Operation: "list-buckets"}
	client := server.NewClient(cfg.Server.SocketPath)
	_, err = client.Lookup(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := awscache.New(context.Background(), cfg, fetcher)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	payload, err := client.Lookup(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), payload)
	assert.Equal(t, int64(1), fetches.Load())
}
