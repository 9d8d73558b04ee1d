package cache

import (
	"compress/gzip"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"

	cacheerr "github.com/awscache/awscache/pkg/errors"
	"github.com/awscache/awscache/pkg/types"
)

const recordExt = ".gz"

// Persistent is the on-disk tier: one gzip-compressed record per key,
// surviving process restarts. Records live in 256 shard directories keyed
// by a 64-bit hash of the raw key; the filename itself is the URL-safe
// base64 of the raw key so sweeps can enumerate keys without decompressing
// payloads.
type Persistent struct {
	mu       sync.Mutex
	dir      string
	maxBytes int64
	log      zerolog.Logger

	hits      uint64
	misses    uint64
	evictions uint64
}

// persistentRecord is the decompressed on-disk form of an entry. CreatedAt
// is stamped before the file is written, so it never exceeds the record's
// actual write time.
type persistentRecord struct {
	Key       string    `json:"key"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	Checksum  string    `json:"checksum"`
}

// NewPersistent creates a disk tier rooted at dir. The directory is not
// created here; absence means "empty cache" on read and it is lazily
// created on first write.
func NewPersistent(dir string, maxBytes int64, log zerolog.Logger) *Persistent {
	return &Persistent{
		dir:      dir,
		maxBytes: maxBytes,
		log:      log.With().Str("component", "persistent").Logger(),
	}
}

// Get reads and decompresses the record for key. A missing root directory
// or record is a plain miss. An unreadable record (truncated gzip, bad
// JSON, checksum mismatch, key mismatch) is also a miss, and the file is
// deleted so corruption self-heals instead of surfacing to callers.
func (p *Persistent) Get(key string) (types.Entry, bool, error) {
	path := p.recordPath(key)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			p.countMiss()
			return types.Entry{}, false, nil
		}
		p.countMiss()
		return types.Entry{}, false, cacheerr.Wrap(cacheerr.ErrCodeStorageRead, "failed to open record", err).
			WithComponent("persistent").WithOperation("get")
	}
	defer func() { _ = f.Close() }()

	rec, err := decodeRecord(f)
	if err != nil || rec.Key != key {
		p.log.Warn().Str("key", key).Str("path", path).Err(err).
			Msg("removing unreadable cache record")
		_ = os.Remove(path)
		p.countMiss()
		return types.Entry{}, false, nil
	}

	p.countHit()
	return types.Entry{
		Key:       rec.Key,
		Payload:   rec.Payload,
		CreatedAt: rec.CreatedAt,
		SizeBytes: int64(len(rec.Payload)),
	}, true, nil
}

// Put compresses and writes the record for key, creating the root directory
// if needed. Writes go through a temp file and an atomic rename so readers
// never observe a half-written record.
func (p *Persistent) Put(key string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	path := p.recordPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return cacheerr.Wrap(cacheerr.ErrCodeStorageWrite, "failed to create cache directory", err).
			WithComponent("persistent").WithOperation("put")
	}

	rec := persistentRecord{
		Key:       key,
		Payload:   payload,
		CreatedAt: time.Now(),
		Checksum:  checksum(payload),
	}

	tmp := path + ".tmp"
	if err := writeRecord(tmp, rec); err != nil {
		_ = os.Remove(tmp)
		return cacheerr.Wrap(cacheerr.ErrCodeStorageWrite, "failed to write record", err).
			WithComponent("persistent").WithOperation("put")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return cacheerr.Wrap(cacheerr.ErrCodeStorageWrite, "failed to replace record", err).
			WithComponent("persistent").WithOperation("put")
	}

	p.evictIfNeeded()
	return nil
}

// Remove deletes the record for key. A missing record is not an error.
func (p *Persistent) Remove(key string) error {
	err := os.Remove(p.recordPath(key))
	if err != nil && !os.IsNotExist(err) {
		return cacheerr.Wrap(cacheerr.ErrCodeStorageWrite, "failed to remove record", err).
			WithComponent("persistent").WithOperation("remove")
	}
	return nil
}

// List returns metadata for every record without decompressing payloads:
// the key is recovered from the filename, size and timestamp come from the
// file itself. File mtime is an upper bound on the record's CreatedAt, so
// age computed from it never overstates an entry's age.
func (p *Persistent) List() ([]types.EntryMeta, error) {
	var metas []types.EntryMeta
	err := p.walkRecords(func(path string, info fs.FileInfo, key string) {
		metas = append(metas, types.EntryMeta{
			Key:       key,
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime(),
		})
	})
	if err != nil {
		return nil, err
	}
	return metas, nil
}

// Stats reports record count and total disk usage.
func (p *Persistent) Stats() types.CacheStats {
	var count int
	var total int64
	_ = p.walkRecords(func(path string, info fs.FileInfo, key string) {
		count++
		total += info.Size()
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	stats := types.CacheStats{
		Entries:   count,
		SizeBytes: total,
		Capacity:  p.maxBytes,
		Hits:      p.hits,
		Misses:    p.misses,
		Evictions: p.evictions,
	}
	if p.maxBytes > 0 {
		stats.Utilization = float64(total) / float64(p.maxBytes)
	}
	return stats
}

// Clear removes every record, leaving the root directory in place.
func (p *Persistent) Clear() error {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return cacheerr.Wrap(cacheerr.ErrCodeStorageWrite, "failed to read cache directory", err).
			WithComponent("persistent").WithOperation("clear")
	}
	for _, e := range entries {
		_ = os.RemoveAll(filepath.Join(p.dir, e.Name()))
	}
	return nil
}

func (p *Persistent) recordPath(key string) string {
	shard := fmt.Sprintf("%02x", xxh3.HashString(key)&0xff)
	name := base64.RawURLEncoding.EncodeToString([]byte(key)) + recordExt
	return filepath.Join(p.dir, shard, name)
}

func (p *Persistent) walkRecords(fn func(path string, info fs.FileInfo, key string)) error {
	err := filepath.WalkDir(p.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			// Keep sweeping; a single unreadable shard must not abort the walk.
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), recordExt) {
			return nil
		}
		raw, decErr := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(d.Name(), recordExt))
		if decErr != nil {
			return nil
		}
		info, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		fn(path, info, string(raw))
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return cacheerr.Wrap(cacheerr.ErrCodeStorageRead, "failed to walk cache directory", err).
			WithComponent("persistent").WithOperation("list")
	}
	return nil
}

// evictIfNeeded drops oldest records until total usage fits maxBytes.
// Called with p.mu held.
func (p *Persistent) evictIfNeeded() {
	if p.maxBytes <= 0 {
		return
	}

	type rec struct {
		path    string
		size    int64
		modTime time.Time
	}
	var recs []rec
	var total int64
	_ = p.walkRecords(func(path string, info fs.FileInfo, key string) {
		recs = append(recs, rec{path: path, size: info.Size(), modTime: info.ModTime()})
		total += info.Size()
	})
	if total <= p.maxBytes {
		return
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].modTime.Before(recs[j].modTime) })
	for _, r := range recs {
		if total <= p.maxBytes {
			break
		}
		if err := os.Remove(r.path); err == nil {
			total -= r.size
			p.evictions++
		}
	}
}

func (p *Persistent) countHit() {
	p.mu.Lock()
	p.hits++
	p.mu.Unlock()
}

func (p *Persistent) countMiss() {
	p.mu.Lock()
	p.misses++
	p.mu.Unlock()
}

func writeRecord(path string, rec persistentRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(f)
	if err := json.NewEncoder(gw).Encode(&rec); err != nil {
		_ = gw.Close()
		_ = f.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func decodeRecord(r io.Reader) (persistentRecord, error) {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return persistentRecord{}, err
	}
	defer func() { _ = gr.Close() }()

	var rec persistentRecord
	if err := json.NewDecoder(gr).Decode(&rec); err != nil {
		return persistentRecord{}, err
	}
	if rec.Checksum != checksum(rec.Payload) {
		return persistentRecord{}, cacheerr.New(cacheerr.ErrCodeRecordCorrupt, "checksum mismatch")
	}
	return rec, nil
}

func checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
