package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kotoba-works/kotoba-engine/types"
)

const (
	MaxTTL     = 7 * 24 * time.Hour
	DefaultTTL = 1 * time.Hour

	// latencyWindowSize bounds the rolling access-time sample.
	latencyWindowSize = 256

	// entryOverheadBytes approximates the bookkeeping cost of one entry
	// beyond its key and payload strings.
	entryOverheadBytes = 160
)

type storeEntry struct {
	key            string
	value          types.CachedValue
	createdAt      time.Time
	expiresAt      time.Time
	lastAccessedAt time.Time
	sizeBytes      int64
	elem           *list.Element
}

// MemoryStore is a bounded LRU+TTL store. Eviction is strict
// least-recently-accessed: both reads and writes refresh recency, expired
// entries are dropped on access and by SweepExpired.
type MemoryStore struct {
	name       string
	logger     types.Logger
	capacity   int
	defaultTTL time.Duration

	mu      sync.Mutex
	entries map[string]*storeEntry
	// order front = most recently accessed, back = eviction victim.
	order     *list.List
	memBytes  int64
	hits      uint64
	misses    uint64
	evictions uint64

	latencies *latencyWindow
}

func NewMemoryStore(name string, logger types.Logger, cfg *types.TierConfig) *MemoryStore {
	capacity := 1000
	ttl := DefaultTTL

	if cfg != nil {
		if cfg.Capacity > 0 {
			capacity = cfg.Capacity
		}
		if cfg.DefaultTTL > 0 {
			ttl = cfg.DefaultTTL
		}
	}

	return &MemoryStore{
		name:       name,
		logger:     logger,
		capacity:   capacity,
		defaultTTL: ttl,
		entries:    make(map[string]*storeEntry, capacity),
		order:      list.New(),
		latencies:  newLatencyWindow(latencyWindowSize),
	}
}

func (s *MemoryStore) Get(key string) (types.CachedValue, bool) {
	start := time.Now()
	defer func() {
		s.latencies.Record(time.Since(start))
	}()

	now := time.Now()

	s.mu.Lock()
	entry, exists := s.entries[key]
	if !exists {
		s.mu.Unlock()
		atomic.AddUint64(&s.misses, 1)
		return types.CachedValue{}, false
	}

	if now.After(entry.expiresAt) {
		s.removeEntryLocked(entry)
		s.mu.Unlock()
		atomic.AddUint64(&s.misses, 1)
		return types.CachedValue{}, false
	}

	entry.lastAccessedAt = now
	s.order.MoveToFront(entry.elem)
	value := entry.value
	s.mu.Unlock()

	atomic.AddUint64(&s.hits, 1)
	return value, true
}

func (s *MemoryStore) Set(key string, value types.CachedValue, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}

	now := time.Now()
	size := estimateSize(key, value)

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, exists := s.entries[key]; exists {
		s.memBytes += size - entry.sizeBytes
		entry.value = value
		entry.sizeBytes = size
		entry.expiresAt = now.Add(ttl)
		entry.lastAccessedAt = now
		s.order.MoveToFront(entry.elem)
		return nil
	}

	if len(s.entries) >= s.capacity {
		s.evictOneLocked()
	}

	entry := &storeEntry{
		key:            key,
		value:          value,
		createdAt:      now,
		expiresAt:      now.Add(ttl),
		lastAccessedAt: now,
		sizeBytes:      size,
	}
	entry.elem = s.order.PushFront(entry)
	s.entries[key] = entry
	s.memBytes += size

	return nil
}

func (s *MemoryStore) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[key]
	if !exists {
		return false
	}

	s.removeEntryLocked(entry)
	return true
}

func (s *MemoryStore) Has(key string) bool {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[key]
	if !exists {
		return false
	}

	if now.After(entry.expiresAt) {
		s.removeEntryLocked(entry)
		return false
	}

	return true
}

func (s *MemoryStore) Clear() {
	s.mu.Lock()
	cleared := len(s.entries)
	s.entries = make(map[string]*storeEntry, s.capacity)
	s.order.Init()
	s.memBytes = 0
	s.mu.Unlock()

	if cleared > 0 {
		s.logger.Debug("Cache tier cleared",
			zap.String("tier", s.name),
			zap.Int("cleared_entries", cleared))
	}
}

// SweepExpired removes every expired entry. Runs on a fixed schedule,
// independent of get/set traffic, to bound memory from entries that are
// never re-read before their TTL.
func (s *MemoryStore) SweepExpired() int {
	now := time.Now()

	s.mu.Lock()
	var expired []*storeEntry
	for _, entry := range s.entries {
		if now.After(entry.expiresAt) {
			expired = append(expired, entry)
		}
	}
	for _, entry := range expired {
		s.removeEntryLocked(entry)
	}
	s.mu.Unlock()

	if len(expired) > 0 {
		s.logger.Debug("Expiry sweep completed",
			zap.String("tier", s.name),
			zap.Int("expired_entries", len(expired)))
	}

	return len(expired)
}

// Optimize proactively evicts oldest-by-access entries until the fill rate
// drops to the target. Administrative pressure relief, distinct from
// capacity-triggered eviction.
func (s *MemoryStore) Optimize(targetFillRate float64) int {
	if targetFillRate < 0 {
		targetFillRate = 0
	}
	if targetFillRate > 1 {
		targetFillRate = 1
	}

	target := int(float64(s.capacity) * targetFillRate)

	s.mu.Lock()
	removed := 0
	for len(s.entries) > target {
		victim := s.order.Back()
		if victim == nil {
			break
		}
		s.removeEntryLocked(victim.Value.(*storeEntry))
		atomic.AddUint64(&s.evictions, 1)
		removed++
	}
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Info("Cache tier optimized",
			zap.String("tier", s.name),
			zap.Float64("target_fill_rate", targetFillRate),
			zap.Int("removed", removed))
	}

	return removed
}

// Preload bulk inserts entries with the default TTL, skipping keys already
// present. Used for cache warming.
func (s *MemoryStore) Preload(entries map[string]types.CachedValue) int {
	loaded := 0
	for key, value := range entries {
		if key == "" || s.Has(key) {
			continue
		}
		if err := s.Set(key, value, s.defaultTTL); err == nil {
			loaded++
		}
	}

	s.logger.Info("Cache tier preloaded",
		zap.String("tier", s.name),
		zap.Int("loaded", loaded),
		zap.Int("offered", len(entries)))

	return loaded
}

func (s *MemoryStore) Stats() types.CacheStats {
	s.mu.Lock()
	size := len(s.entries)
	memBytes := s.memBytes
	s.mu.Unlock()

	hits := atomic.LoadUint64(&s.hits)
	misses := atomic.LoadUint64(&s.misses)

	stats := types.CacheStats{
		Hits:                 hits,
		Misses:               misses,
		Evictions:            atomic.LoadUint64(&s.evictions),
		Size:                 size,
		Capacity:             s.capacity,
		EstimatedMemoryBytes: memBytes,
		AvgAccessTime:        s.latencies.Average(),
	}

	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	if s.capacity > 0 {
		stats.FillRate = float64(size) / float64(s.capacity)
	}

	return stats
}

func (s *MemoryStore) Close() error {
	s.Clear()
	return nil
}

func (s *MemoryStore) evictOneLocked() {
	victim := s.order.Back()
	if victim == nil {
		return
	}

	entry := victim.Value.(*storeEntry)
	s.removeEntryLocked(entry)
	atomic.AddUint64(&s.evictions, 1)

	s.logger.Debug("Cache entry evicted",
		zap.String("tier", s.name),
		zap.String("key", entry.key))
}

func (s *MemoryStore) removeEntryLocked(entry *storeEntry) {
	delete(s.entries, entry.key)
	s.order.Remove(entry.elem)
	s.memBytes -= entry.sizeBytes
}

func estimateSize(key string, value types.CachedValue) int64 {
	size := int64(len(key)) + entryOverheadBytes

	if value.Definition != nil {
		d := value.Definition
		size += int64(len(d.Query) + len(d.MatchedForm) + len(d.MatchType))
		size += int64(len(d.Record.Surface) + len(d.Record.Reading) + len(d.Record.PartOfSpeech))
		for _, g := range d.Record.Glosses {
			size += int64(len(g)) + 16
		}
	}

	if value.Analysis != nil {
		a := value.Analysis
		size += int64(len(a.Text) + len(a.Source))
		for _, t := range a.Tokens {
			size += int64(len(t.Surface)+len(t.Reading)+len(t.Lemma)+len(t.PartOfSpeech)) + 32
		}
	}

	return size
}

type latencyWindow struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	filled  bool
}

func newLatencyWindow(size int) *latencyWindow {
	return &latencyWindow{samples: make([]time.Duration, size)}
}

func (w *latencyWindow) Record(d time.Duration) {
	w.mu.Lock()
	w.samples[w.next] = d
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.filled = true
	}
	w.mu.Unlock()
}

func (w *latencyWindow) Average() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	count := w.next
	if w.filled {
		count = len(w.samples)
	}
	if count == 0 {
		return 0
	}

	var total time.Duration
	for i := 0; i < count; i++ {
		total += w.samples[i]
	}
	return total / time.Duration(count)
}
