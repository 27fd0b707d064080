package breaker

import (
	"sort"
	"sync"

	"github.com/kotoba-works/kotoba-engine/types"
)

// Registry holds one breaker per named dependency. Breakers are created
// lazily so that dependencies without explicit configuration still get a
// breaker with defaults.
type Registry struct {
	logger  types.Logger
	configs map[string]*types.BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewRegistry(logger types.Logger, configs map[string]*types.BreakerConfig) *Registry {
	return &Registry{
		logger:   logger,
		configs:  configs,
		breakers: make(map[string]*Breaker),
	}
}

func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}

	b := New(name, r.logger, r.configs[name])
	r.breakers[name] = b
	return b
}

func (r *Registry) ResetAll() {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	for _, b := range breakers {
		b.Reset()
	}
}

// States returns snapshots of all known breakers, sorted by name.
func (r *Registry) States() []types.BreakerSnapshot {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	snapshots := make([]types.BreakerSnapshot, 0, len(breakers))
	for _, b := range breakers {
		snapshots = append(snapshots, b.Snapshot())
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Name < snapshots[j].Name
	})

	return snapshots
}
