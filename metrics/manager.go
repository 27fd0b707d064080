package metrics

import (
	"context"

	"go.uber.org/zap"

	"github.com/kotoba-works/kotoba-engine/types"
)

func NewManager(ctx context.Context, logger types.Logger, config *types.MetricsConfig) (types.MetricsManager, error) {
	var manager types.MetricsManager
	var err error

	backend := config.Backend
	if backend == "" {
		backend = "memory"
	}

	switch backend {
	case "memory":
		manager, err = NewMemoryMetrics(logger, config)
	case "prometheus":
		manager, err = NewPrometheusMetrics(logger, config)
	default:
		return nil, types.Errorf(types.ErrMetricsTypeUnknown, "backend: %s", backend)
	}

	if err != nil {
		return nil, err
	}

	logger.Info("Metrics manager initialized", zap.String("backend", backend))
	return manager, nil
}
