package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/awscache/awscache/pkg/types"
)

const defaultResidentCapacity = 1000

// Resident is the in-process LRU tier. The recency list and the entry map
// are mutated together under one mutex, so a put and its possible eviction
// are observed as a single atomic step: no reader ever sees occupancy above
// capacity, or both the evicted key and the new key missing.
type Resident struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*residentItem
	// order tracks recency: front is least-recently-used, back is
	// most-recently-used.
	order *list.List

	hits      uint64
	misses    uint64
	evictions uint64
}

type residentItem struct {
	entry   types.Entry
	element *list.Element
}

// NewResident creates a resident tier bounded to capacity entries.
func NewResident(capacity int) *Resident {
	if capacity <= 0 {
		capacity = defaultResidentCapacity
	}
	return &Resident{
		capacity: capacity,
		items:    make(map[string]*residentItem),
		order:    list.New(),
	}
}

// Get returns a copy of the entry and marks the key most-recently-used.
// This tier has no implicit TTL; staleness is the caller's policy via
// Entry.Stale.
func (r *Resident) Get(key string) (types.Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[key]
	if !ok {
		r.misses++
		return types.Entry{}, false
	}
	r.order.MoveToBack(item.element)
	r.hits++
	return item.entry.Clone(), true
}

// Put inserts or refreshes an entry and marks it most-recently-used. An
// insert that pushes occupancy over capacity evicts exactly one entry, the
// current least-recently-used.
func (r *Resident) Put(entry types.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if item, ok := r.items[entry.Key]; ok {
		item.entry = entry.Clone()
		r.order.MoveToBack(item.element)
		return
	}

	item := &residentItem{entry: entry.Clone()}
	item.element = r.order.PushBack(entry.Key)
	r.items[entry.Key] = item

	if len(r.items) > r.capacity {
		r.evictOldest()
	}
}

// Remove deletes a key if present.
func (r *Resident) Remove(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[key]
	if !ok {
		return false
	}
	r.order.Remove(item.element)
	delete(r.items, key)
	return true
}

// Keys returns all resident keys in recency order, least-recently-used
// first.
func (r *Resident) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, r.order.Len())
	for e := r.order.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(string))
	}
	return keys
}

// Metas returns key metadata for sweep-style operations without copying
// payloads.
func (r *Resident) Metas() []types.EntryMeta {
	r.mu.Lock()
	defer r.mu.Unlock()

	metas := make([]types.EntryMeta, 0, len(r.items))
	for key, item := range r.items {
		metas = append(metas, types.EntryMeta{
			Key:       key,
			SizeBytes: item.entry.SizeBytes,
			CreatedAt: item.entry.CreatedAt,
		})
	}
	return metas
}

// Size returns the current entry count.
func (r *Resident) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Clear drops every entry.
func (r *Resident) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = make(map[string]*residentItem)
	r.order.Init()
}

// Stats returns a point-in-time view of the tier.
func (r *Resident) Stats() types.CacheStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var size int64
	for _, item := range r.items {
		size += item.entry.SizeBytes
	}
	stats := types.CacheStats{
		Entries:   len(r.items),
		SizeBytes: size,
		Capacity:  int64(r.capacity),
		Hits:      r.hits,
		Misses:    r.misses,
		Evictions: r.evictions,
	}
	if r.capacity > 0 {
		stats.Utilization = float64(len(r.items)) / float64(r.capacity)
	}
	return stats
}

// NewEntry builds an entry stamped with the current time.
func NewEntry(key string, payload []byte, source types.EntrySource) types.Entry {
	return types.Entry{
		Key:       key,
		Payload:   payload,
		CreatedAt: time.Now(),
		SizeBytes: int64(len(payload)),
		Source:    source,
	}
}

func (r *Resident) evictOldest() {
	front := r.order.Front()
	if front == nil {
		return
	}
	key := front.Value.(string)
	r.order.Remove(front)
	delete(r.items, key)
	r.evictions++
}
