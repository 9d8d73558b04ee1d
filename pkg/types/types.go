// Package types holds the shared data model for the cache: entries, fetch
// requests, usage events, and tier statistics.
package types

import (
	"context"
	"time"
)

// EntrySource records how an entry got into the cache.
type EntrySource string

const (
	// SourceFetch marks entries filled on a foreground cache miss.
	SourceFetch EntrySource = "fetch"
	// SourceWarming marks entries filled proactively by the warming scheduler.
	SourceWarming EntrySource = "warming"
	// SourcePromotion marks resident copies created from a disk hit.
	SourcePromotion EntrySource = "promotion"
)

// Entry is a cached response payload. Each tier owns its own Entry value;
// promotion from the persistent tier copies, it never transfers ownership.
type Entry struct {
	Key       string      `json:"key"`
	Payload   []byte      `json:"payload"`
	CreatedAt time.Time   `json:"created_at"`
	SizeBytes int64       `json:"size_bytes"`
	Source    EntrySource `json:"source,omitempty"`
}

// Clone returns a deep copy of the entry, including the payload bytes.
func (e Entry) Clone() Entry {
	out := e
	out.Payload = make([]byte, len(e.Payload))
	copy(out.Payload, e.Payload)
	return out
}

// Stale reports whether the entry's age exceeds ttl. A zero or negative ttl
// disables expiry. Both tiers apply this same rule so a key's staleness
// verdict never differs by tier.
func (e Entry) Stale(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(e.CreatedAt) > ttl
}

// EntryMeta is the metadata view of a persistent record, cheap to list
// without decompressing payloads.
type EntryMeta struct {
	Key       string    `json:"key"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Request describes one remote API call: the inputs the fetch collaborator
// needs, and the fields the cache key is derived from.
type Request struct {
	Service   string         `json:"service"`
	Operation string         `json:"operation"`
	Params    map[string]any `json:"params,omitempty"`
	Profile   string         `json:"profile,omitempty"`
	Region    string         `json:"region,omitempty"`
}

// Fetcher executes the remote call for a request and returns the raw
// response payload. The cache treats it as opaque; retries and credential
// handling are the collaborator's concern.
type Fetcher func(ctx context.Context, req Request) ([]byte, error)

// UsageEvent is one observed lookup, appended to the usage log and consumed
// by warming analysis. Events are never mutated, only aggregated.
type UsageEvent struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	WasHit    bool      `json:"was_hit"`
}

// CacheStats is a point-in-time view of one tier.
type CacheStats struct {
	Entries     int     `json:"entries"`
	SizeBytes   int64   `json:"size_bytes"`
	Capacity    int64   `json:"capacity"`
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Utilization float64 `json:"utilization"`
}
