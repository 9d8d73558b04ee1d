package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	cacheerr "github.com/awscache/awscache/pkg/errors"
	"github.com/awscache/awscache/pkg/types"
)

const (
	// registryCapacity bounds the key→request replay table. Hashing is
	// one-way, so warming can only replay requests it has seen; the bound
	// keeps a long-lived process from accumulating every request ever made.
	registryCapacity = 4096

	writeBehindQueueLen = 256
)

// Observer receives lookup outcomes. The metrics collector implements it;
// the cache never blocks on it.
type Observer interface {
	RecordLookup(service, operation string, hit bool, latency time.Duration)
}

// UsageRecorder receives one event per lookup for warming analysis.
type UsageRecorder interface {
	Record(event types.UsageEvent)
}

// Tiered is the read-through composition of the resident and persistent
// tiers. Lookups check resident memory, then disk (promoting hits), then
// fall through to the fetch collaborator. Disk writes happen behind a
// bounded queue so a slow disk never stalls a foreground lookup.
type Tiered struct {
	resident   *Resident
	persistent *Persistent
	codec      *KeyCodec
	fetcher    types.Fetcher
	ttl        time.Duration
	observer   Observer
	usage      UsageRecorder
	log        zerolog.Logger

	regMu    sync.Mutex
	registry map[string]*list.Element
	regOrder *list.List

	writes chan writeTask
	done   chan struct{}
	wg     sync.WaitGroup

	// seq orders enqueued writes against removals so a queued write never
	// resurrects a key invalidated after it was enqueued.
	seq     atomic.Uint64
	barrier atomic.Uint64
	tombMu  sync.Mutex
	tombs   map[string]uint64

	closeMu sync.Mutex
	closed  bool
}

type writeTask struct {
	key     string
	payload []byte
	seq     uint64
}

type registryEntry struct {
	key string
	req types.Request
}

// TieredOptions carries the collaborators for NewTiered. Observer and
// Usage may be nil.
type TieredOptions struct {
	Resident   *Resident
	Persistent *Persistent
	Codec      *KeyCodec
	Fetcher    types.Fetcher
	TTL        time.Duration
	Observer   Observer
	Usage      UsageRecorder
	Logger     zerolog.Logger
}

// NewTiered assembles the two tiers and starts the write-behind worker.
func NewTiered(opts TieredOptions) *Tiered {
	t := &Tiered{
		resident:   opts.Resident,
		persistent: opts.Persistent,
		codec:      opts.Codec,
		fetcher:    opts.Fetcher,
		ttl:        opts.TTL,
		observer:   opts.Observer,
		usage:      opts.Usage,
		log:        opts.Logger.With().Str("component", "tiered").Logger(),
		registry:   make(map[string]*list.Element),
		regOrder:   list.New(),
		tombs:      make(map[string]uint64),
		writes:     make(chan writeTask, writeBehindQueueLen),
		done:       make(chan struct{}),
	}
	t.wg.Add(1)
	go t.writeLoop()
	return t
}

// Get resolves a request through the tiers. Order is resident, persistent
// (promoting the hit into resident memory), then the fetch collaborator.
// Stale entries are removed from the tier they were found in and treated
// as misses.
func (t *Tiered) Get(ctx context.Context, req types.Request) ([]byte, error) {
	key, err := t.codec.Build(req)
	if err != nil {
		return nil, err
	}
	raw := key.String()
	t.rememberRequest(raw, req)

	start := time.Now()
	now := start

	if entry, ok := t.resident.Get(raw); ok {
		if !entry.Stale(t.ttl, now) {
			t.observe(key, true, time.Since(start))
			return entry.Payload, nil
		}
		t.resident.Remove(raw)
	}

	if entry, ok, derr := t.persistent.Get(raw); derr == nil && ok {
		if !entry.Stale(t.ttl, now) {
			promoted := entry.Clone()
			promoted.Source = types.SourcePromotion
			t.resident.Put(promoted)
			t.observe(key, true, time.Since(start))
			return entry.Payload, nil
		}
		_ = t.persistent.Remove(raw)
	} else if derr != nil {
		t.log.Warn().Str("key", raw).Err(derr).Msg("persistent tier read failed, falling through to fetch")
	}

	payload, err := t.fetch(ctx, raw, req, types.SourceFetch)
	if err != nil {
		t.observe(key, false, time.Since(start))
		return nil, err
	}
	t.observe(key, false, time.Since(start))
	return payload, nil
}

// Warm replays the remembered request for a raw key and fills both tiers
// with the fresh response. Keys the cache has never served cannot be
// warmed.
func (t *Tiered) Warm(ctx context.Context, rawKey string) error {
	req, ok := t.lookupRequest(rawKey)
	if !ok {
		return cacheerr.Newf(cacheerr.ErrCodeNoRequest, "no replayable request for key %q", rawKey).
			WithComponent("tiered").WithOperation("warm")
	}
	_, err := t.fetch(ctx, rawKey, req, types.SourceWarming)
	return err
}

// Remove deletes a key from both tiers and drops its replay registration.
// A write-behind task for the key enqueued before this call will be
// discarded rather than re-creating the entry on disk.
func (t *Tiered) Remove(rawKey string) error {
	t.tombMu.Lock()
	t.tombs[rawKey] = t.seq.Add(1)
	t.tombMu.Unlock()

	t.resident.Remove(rawKey)
	t.forgetRequest(rawKey)
	return t.persistent.Remove(rawKey)
}

// Keys returns the union of keys across both tiers.
func (t *Tiered) Keys() ([]string, error) {
	seen := make(map[string]struct{})
	var keys []string
	for _, k := range t.resident.Keys() {
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	metas, err := t.persistent.List()
	if err != nil {
		return keys, err
	}
	for _, m := range metas {
		if _, ok := seen[m.Key]; !ok {
			keys = append(keys, m.Key)
		}
	}
	return keys, nil
}

// Metas returns age metadata across both tiers, resident entries first.
// A key present in both tiers appears once, with the resident view.
func (t *Tiered) Metas() ([]types.EntryMeta, error) {
	metas := t.resident.Metas()
	seen := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		seen[m.Key] = struct{}{}
	}
	diskMetas, err := t.persistent.List()
	if err != nil {
		return metas, err
	}
	for _, m := range diskMetas {
		if _, ok := seen[m.Key]; !ok {
			metas = append(metas, m)
		}
	}
	return metas, nil
}

// Clear drops both tiers and the replay registry. Writes enqueued before
// the clear are discarded.
func (t *Tiered) Clear() error {
	t.barrier.Store(t.seq.Add(1))
	t.resident.Clear()
	t.regMu.Lock()
	t.registry = make(map[string]*list.Element)
	t.regOrder.Init()
	t.regMu.Unlock()
	return t.persistent.Clear()
}

// ResidentStats returns the in-memory tier's counters.
func (t *Tiered) ResidentStats() types.CacheStats { return t.resident.Stats() }

// PersistentStats returns the disk tier's counters.
func (t *Tiered) PersistentStats() types.CacheStats { return t.persistent.Stats() }

// TTL returns the staleness policy both tiers share.
func (t *Tiered) TTL() time.Duration { return t.ttl }

// Close stops the write-behind worker after draining queued writes.
func (t *Tiered) Close() error {
	t.closeMu.Lock()
	if t.closed {
		t.closeMu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.closeMu.Unlock()
	t.wg.Wait()
	return nil
}

func (t *Tiered) fetch(ctx context.Context, rawKey string, req types.Request, source types.EntrySource) ([]byte, error) {
	payload, err := t.fetcher(ctx, req)
	if err != nil {
		return nil, cacheerr.Wrap(cacheerr.ErrCodeFetchFailed, "fetch failed", err).
			WithComponent("tiered").WithOperation("fetch").
			WithDetail("key", rawKey)
	}

	entry := NewEntry(rawKey, payload, source)
	t.resident.Put(entry)
	t.enqueueWrite(rawKey, entry.Payload)
	return payload, nil
}

func (t *Tiered) enqueueWrite(key string, payload []byte) {
	select {
	case t.writes <- writeTask{key: key, payload: payload, seq: t.seq.Add(1)}:
	case <-t.done:
	default:
		// Backpressure policy: the resident copy is already in place, so a
		// dropped disk write only costs a future cold start.
		t.log.Debug().Str("key", key).Msg("write-behind queue full, skipping disk write")
	}
}

func (t *Tiered) writeLoop() {
	defer t.wg.Done()
	for {
		select {
		case task := <-t.writes:
			t.persist(task)
			if len(t.writes) == 0 {
				// Queue drained: every write a tombstone could apply to has
				// been processed.
				t.tombMu.Lock()
				t.tombs = make(map[string]uint64)
				t.tombMu.Unlock()
			}
		case <-t.done:
			for {
				select {
				case task := <-t.writes:
					t.persist(task)
				default:
					return
				}
			}
		}
	}
}

func (t *Tiered) persist(task writeTask) {
	if task.seq < t.barrier.Load() {
		return
	}
	// The lock is held across the disk write: a Remove arriving mid-write
	// blocks until the write lands, then deletes it, so the removal always
	// has the last word.
	t.tombMu.Lock()
	defer t.tombMu.Unlock()
	if tombSeq, dead := t.tombs[task.key]; dead && tombSeq > task.seq {
		return
	}
	delete(t.tombs, task.key)

	if err := t.persistent.Put(task.key, task.payload); err != nil {
		t.log.Warn().Str("key", task.key).Err(err).Msg("write-behind disk write failed")
	}
}

func (t *Tiered) observe(key Key, hit bool, latency time.Duration) {
	if t.observer != nil {
		t.observer.RecordLookup(key.Service, key.Operation, hit, latency)
	}
	if t.usage != nil {
		t.usage.Record(types.UsageEvent{
			Key:       key.String(),
			Timestamp: time.Now(),
			WasHit:    hit,
		})
	}
}

func (t *Tiered) rememberRequest(rawKey string, req types.Request) {
	t.regMu.Lock()
	defer t.regMu.Unlock()

	if el, ok := t.registry[rawKey]; ok {
		el.Value.(*registryEntry).req = req
		t.regOrder.MoveToBack(el)
		return
	}
	el := t.regOrder.PushBack(&registryEntry{key: rawKey, req: req})
	t.registry[rawKey] = el

	if t.regOrder.Len() > registryCapacity {
		front := t.regOrder.Front()
		t.regOrder.Remove(front)
		delete(t.registry, front.Value.(*registryEntry).key)
	}
}

func (t *Tiered) lookupRequest(rawKey string) (types.Request, bool) {
	t.regMu.Lock()
	defer t.regMu.Unlock()
	el, ok := t.registry[rawKey]
	if !ok {
		return types.Request{}, false
	}
	return el.Value.(*registryEntry).req, true
}

func (t *Tiered) forgetRequest(rawKey string) {
	t.regMu.Lock()
	defer t.regMu.Unlock()
	if el, ok := t.registry[rawKey]; ok {
		t.regOrder.Remove(el)
		delete(t.registry, rawKey)
	}
}
