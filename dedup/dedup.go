package dedup

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kotoba-works/kotoba-engine/types"
)

const DefaultMaxAge = 2 * time.Minute

// Deduplicator collapses concurrent identical requests into a single
// in-flight execution. Followers block until the leader settles and receive
// the shared result. Entries that somehow outlive maxAge are forcibly
// forgotten by the safety sweep so a wedged leader cannot pin followers to
// a stale flight forever.
type Deduplicator struct {
	logger types.Logger
	group  singleflight.Group
	maxAge time.Duration

	mu       sync.Mutex
	inflight map[string]time.Time

	deduplicated uint64
	executed     uint64
}

func New(logger types.Logger, cfg *types.DedupConfig) *Deduplicator {
	maxAge := DefaultMaxAge
	if cfg != nil && cfg.MaxAge > 0 {
		maxAge = cfg.MaxAge
	}

	return &Deduplicator{
		logger:   logger,
		maxAge:   maxAge,
		inflight: make(map[string]time.Time),
	}
}

// Signature builds the canonical request signature: method, path, and the
// parameters sorted by key. Two requests with the same parameters in a
// different order yield the same signature.
func Signature(method, path string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(method)
	sb.WriteByte('|')
	sb.WriteString(path)
	for _, k := range keys {
		sb.WriteByte('|')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
	}
	return sb.String()
}

// Do executes fn once per signature among concurrent callers. The shared
// result (value or error) is delivered to every caller of the flight.
// Executions are counted where fn actually runs; every other caller of the
// same flight counts as coalesced.
func (d *Deduplicator) Do(ctx context.Context, signature string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	ran := false
	result, err, _ := d.group.Do(signature, func() (interface{}, error) {
		ran = true
		d.track(signature)
		defer d.untrack(signature)

		d.mu.Lock()
		d.executed++
		d.mu.Unlock()

		return fn(ctx)
	})

	if !ran {
		d.mu.Lock()
		d.deduplicated++
		d.mu.Unlock()
	}

	return result, err
}

func (d *Deduplicator) track(signature string) {
	d.mu.Lock()
	d.inflight[signature] = time.Now()
	d.mu.Unlock()
}

func (d *Deduplicator) untrack(signature string) {
	d.mu.Lock()
	delete(d.inflight, signature)
	d.mu.Unlock()
}

// SweepStale forgets flights older than maxAge and returns how many were
// dropped. New callers with a forgotten signature start a fresh execution.
func (d *Deduplicator) SweepStale() int {
	cutoff := time.Now().Add(-d.maxAge)

	d.mu.Lock()
	var stale []string
	for signature, startedAt := range d.inflight {
		if startedAt.Before(cutoff) {
			stale = append(stale, signature)
		}
	}
	for _, signature := range stale {
		delete(d.inflight, signature)
	}
	d.mu.Unlock()

	for _, signature := range stale {
		d.group.Forget(signature)
		d.logger.Warn("Forgot stale in-flight request",
			zap.String("signature", signature),
			zap.Duration("max_age", d.maxAge))
	}

	return len(stale)
}

type Stats struct {
	InFlight     int    `json:"in_flight"`
	Executed     uint64 `json:"executed"`
	Deduplicated uint64 `json:"deduplicated"`
}

func (d *Deduplicator) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return Stats{
		InFlight:     len(d.inflight),
		Executed:     d.executed,
		Deduplicated: d.deduplicated,
	}
}
