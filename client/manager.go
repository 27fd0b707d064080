package client

import (
	"context"

	"github.com/kotoba-works/kotoba-engine/breaker"
	"github.com/kotoba-works/kotoba-engine/types"
)

// Manager owns one DependencyClient per configured downstream service and
// routes every call through that service's circuit breaker.
type Manager struct {
	logger   types.Logger
	clients  map[string]*DependencyClient
	breakers *breaker.Registry
	configs  map[string]*types.DependencyConfig
}

func NewManager(logger types.Logger, breakers *breaker.Registry, configs map[string]*types.DependencyConfig) *Manager {
	clients := make(map[string]*DependencyClient, len(configs))
	for name, config := range configs {
		clients[name] = NewDependencyClient(logger, name, config)
	}

	return &Manager{
		logger:   logger,
		clients:  clients,
		breakers: breakers,
		configs:  configs,
	}
}

// Post calls the named dependency under its breaker. fallback may be nil;
// then breaker short-circuits and call failures propagate to the caller.
func (m *Manager) Post(ctx context.Context, dependency, path string, payload, out interface{}, fallback breaker.Fallback) error {
	c, ok := m.clients[dependency]
	if !ok {
		return types.Errorf(types.ErrDependencyNotFound, "dependency: %s", dependency)
	}

	guard := m.breakers.Get(m.breakerName(dependency))

	_, err := guard.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, c.Post(ctx, path, payload, out)
	}, fallback)

	return err
}

// breakerName resolves the breaker a dependency is guarded by. It defaults
// to the dependency's own name unless the config names a shared breaker.
func (m *Manager) breakerName(dependency string) string {
	if config, ok := m.configs[dependency]; ok && config.Breaker != "" {
		return config.Breaker
	}
	return dependency
}

func (m *Manager) Has(dependency string) bool {
	_, ok := m.clients[dependency]
	return ok
}
