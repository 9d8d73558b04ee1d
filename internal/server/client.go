package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/awscache/awscache/internal/invalidate"
	"github.com/awscache/awscache/internal/metrics"
	"github.com/awscache/awscache/internal/warming"
	cacheerr "github.com/awscache/awscache/pkg/errors"
	"github.com/awscache/awscache/pkg/types"
)

// Client talks to a running daemon over its unix socket. It is what a
// short-lived CLI invocation holds instead of a cache of its own.
type Client struct {
	httpc *http.Client
}

// NewClient creates a client for the daemon listening on socketPath.
func NewClient(socketPath string) *Client {
	return &Client{
		httpc: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
			Timeout: 60 * time.Second,
		},
	}
}

// Lookup resolves a request through the daemon's cache.
func (c *Client) Lookup(ctx context.Context, req types.Request) ([]byte, error) {
	var resp lookupResponse
	if err := c.do(ctx, http.MethodPost, "/v1/lookup", req, &resp); err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// Invalidate applies a batch of invalidation rules.
func (c *Client) Invalidate(ctx context.Context, rules []invalidate.Rule) (int, []string, error) {
	var resp invalidateResponse
	err := c.do(ctx, http.MethodPost, "/v1/invalidate", invalidateRequest{Rules: rules}, &resp)
	return resp.Removed, resp.Errors, err
}

// Warm triggers an immediate warming cycle.
func (c *Client) Warm(ctx context.Context) (warming.CycleReport, error) {
	var report warming.CycleReport
	err := c.do(ctx, http.MethodPost, "/v1/warm", nil, &report)
	return report, err
}

// Snapshot fetches the daemon's current metrics snapshot.
func (c *Client) Snapshot(ctx context.Context) (metrics.Snapshot, error) {
	var snap metrics.Snapshot
	err := c.do(ctx, http.MethodGet, "/v1/metrics/snapshot", nil, &snap)
	return snap, err
}

// Alerts fetches current threshold violations.
func (c *Client) Alerts(ctx context.Context) ([]metrics.Alert, error) {
	var alerts []metrics.Alert
	err := c.do(ctx, http.MethodGet, "/v1/alerts", nil, &alerts)
	return alerts, err
}

// Stats fetches both tiers' counters.
func (c *Client) Stats(ctx context.Context) (TierStats, error) {
	var stats TierStats
	err := c.do(ctx, http.MethodGet, "/v1/stats", nil, &stats)
	return stats, err
}

// ResetMetrics clears the daemon's metric aggregates.
func (c *Client) ResetMetrics(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/metrics/reset", nil, nil)
}

// Healthy reports whether the daemon is up and answering.
func (c *Client) Healthy(ctx context.Context) bool {
	return c.do(ctx, http.MethodGet, "/health", nil, nil) == nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return cacheerr.Wrap(cacheerr.ErrCodeServer, "failed to encode request", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	// The host is a placeholder; the transport dials the socket.
	req, err := http.NewRequestWithContext(ctx, method, "http://awscache"+path, reader)
	if err != nil {
		return cacheerr.Wrap(cacheerr.ErrCodeServer, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return cacheerr.Wrap(cacheerr.ErrCodeServer, "daemon unreachable", err).
			WithComponent("client").WithOperation(path)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var errResp errorResponse
		if decErr := json.NewDecoder(resp.Body).Decode(&errResp); decErr == nil && errResp.Error != "" {
			code := cacheerr.ErrCodeServer
			if errResp.Code != "" {
				code = cacheerr.ErrorCode(errResp.Code)
			}
			return cacheerr.New(code, errResp.Error).WithComponent("client").WithOperation(path)
		}
		return cacheerr.Newf(cacheerr.ErrCodeServer, "daemon returned %s", resp.Status).
			WithComponent("client").WithOperation(path)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return cacheerr.Wrap(cacheerr.ErrCodeServer, "failed to decode response", err).
			WithComponent("client").WithOperation(path)
	}
	return nil
}
