package engine

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kotoba-works/kotoba-engine/batch"
	"github.com/kotoba-works/kotoba-engine/breaker"
	"github.com/kotoba-works/kotoba-engine/cache"
	"github.com/kotoba-works/kotoba-engine/client"
	"github.com/kotoba-works/kotoba-engine/config"
	"github.com/kotoba-works/kotoba-engine/cron"
	"github.com/kotoba-works/kotoba-engine/dedup"
	"github.com/kotoba-works/kotoba-engine/dictionary"
	"github.com/kotoba-works/kotoba-engine/logger"
	"github.com/kotoba-works/kotoba-engine/lookup"
	"github.com/kotoba-works/kotoba-engine/metrics"
	"github.com/kotoba-works/kotoba-engine/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const (
	analysisDependency = "analysis"
	lookupBatchType    = "lookup"
)

// Engine is the resilient lookup-and-caching core. It owns the cache
// registry, circuit breakers, request deduplication, batching, the variant
// lookup pipeline and the maintenance scheduler, and exposes the lookup,
// analysis and administrative operations the serving layer builds on.
type Engine struct {
	ctx    context.Context
	cancel context.CancelFunc
	config *types.EngineConfig
	logger types.Logger

	metrics   types.MetricsManager
	registry  *cache.Registry
	breakers  *breaker.Registry
	dedup     *dedup.Deduplicator
	batch     *batch.Coordinator
	store     types.DictionaryStore
	clients   *client.Manager
	pipeline  *lookup.Pipeline
	scheduler *cron.Scheduler

	state           atomic.Value
	shutdownTimeout time.Duration
}

func New(ctx context.Context, cfg *types.EngineConfig) (*Engine, error) {
	manager, err := config.NewManagerFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	cfg = manager.GetConfig()

	log, err := logger.NewDefaultLogger(cfg.Logger)
	if err != nil {
		return nil, types.WrapError(err, "failed to build logger")
	}

	engineCtx, cancel := context.WithCancel(ctx)

	e := &Engine{
		ctx:             engineCtx,
		cancel:          cancel,
		config:          cfg,
		logger:          log,
		shutdownTimeout: 30 * time.Second,
	}
	e.state.Store(StateStopped)

	if err := e.wire(); err != nil {
		cancel()
		return nil, err
	}

	return e, nil
}

func (e *Engine) wire() error {
	var err error

	e.metrics, err = metrics.NewManager(e.ctx, e.logger, e.config.Metrics)
	if err != nil {
		return types.WrapError(err, "failed to build metrics manager")
	}

	e.registry, err = cache.NewRegistry(e.ctx, e.logger, e.metrics, e.config.Cache)
	if err != nil {
		return types.WrapError(err, "failed to build cache registry")
	}

	e.breakers = breaker.NewRegistry(e.logger, e.config.Breakers)
	e.dedup = dedup.New(e.logger, e.config.Dedup)
	e.batch = batch.NewCoordinator(e.logger, e.config.Batch)

	e.store, err = dictionary.NewStore(e.ctx, e.logger, e.config.Dictionary)
	if err != nil {
		return types.WrapError(err, "failed to build dictionary store")
	}

	e.clients = client.NewManager(e.logger, e.breakers, e.config.Dependencies)

	var storeGuard *breaker.Breaker
	if e.config.Dictionary.Breaker != "" {
		storeGuard = e.breakers.Get(e.config.Dictionary.Breaker)
	}
	e.pipeline = lookup.NewPipeline(e.logger, e.registry, e.store, storeGuard, e.metrics, e.config.Lookup)

	e.scheduler, err = cron.NewScheduler(e.ctx, e.logger, e.metrics, e.config.Sweeps)
	if err != nil {
		return types.WrapError(err, "failed to build sweep scheduler")
	}
	if err := e.registerSweeps(); err != nil {
		return err
	}

	if err := e.batch.RegisterProcessor(lookupBatchType, e.processLookupBatch); err != nil {
		return err
	}

	return nil
}

func (e *Engine) registerSweeps() error {
	sweeps := e.config.Sweeps
	if sweeps == nil {
		return nil
	}

	if sweeps.CacheExpiry != "" {
		err := e.scheduler.Add("cache_expiry", sweeps.CacheExpiry, func() {
			removed := e.registry.SweepAll()
			if removed > 0 {
				e.logger.Debug("Cache expiry sweep removed entries", zap.Int("removed", removed))
			}
		})
		if err != nil {
			return err
		}
	}

	if sweeps.DedupSafety != "" {
		err := e.scheduler.Add("dedup_safety", sweeps.DedupSafety, func() {
			forgotten := e.dedup.SweepStale()
			if forgotten > 0 {
				e.logger.Warn("Dedup safety sweep forgot stale flights", zap.Int("forgotten", forgotten))
			}
		})
		if err != nil {
			return err
		}
	}

	if sweeps.MemorySnapshot != "" {
		err := e.scheduler.Add("memory_snapshot", sweeps.MemorySnapshot, func() {
			e.metrics.SnapshotMemory()
			e.publishCacheHitRate()
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) Start() error {
	if !e.transitionState(StateStopped, StateStarting) {
		return types.ErrEngineAlreadyRunning
	}

	defer func() {
		if e.getState() == StateStarting {
			e.setState(StateRunning)
		}
	}()

	g, _ := errgroup.WithContext(e.ctx)
	g.Go(e.metrics.Start)
	g.Go(e.store.Start)

	if err := g.Wait(); err != nil {
		e.setState(StateStopped)
		return types.Errorf(types.ErrComponentStartFailed, "%v", err)
	}

	// The scheduler starts last so sweeps never run against half-started
	// components.
	if err := e.scheduler.Start(); err != nil {
		e.setState(StateStopped)
		return types.Errorf(types.ErrComponentStartFailed, "%v", err)
	}

	e.logger.Info("Engine started",
		zap.String("name", e.config.Name),
		zap.String("version", e.config.Version))
	return nil
}

func (e *Engine) Stop() error {
	if !e.transitionState(StateRunning, StateStopping) {
		return types.ErrEngineNotRunning
	}

	defer func() {
		e.setState(StateStopped)
		e.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), e.shutdownTimeout)
	defer cancel()

	if err := e.scheduler.Stop(); err != nil {
		e.logger.Error("Failed to stop sweep scheduler", zap.Error(err))
	}

	// Flush pending batches before the store goes away.
	e.batch.Close()

	g, _ := errgroup.WithContext(ctx)
	g.Go(e.store.Stop)
	g.Go(e.metrics.Stop)

	err := g.Wait()

	if closeErr := e.registry.Close(); closeErr != nil {
		e.logger.Error("Failed to close cache registry", zap.Error(closeErr))
	}

	if err != nil {
		e.logger.Error("Error during engine shutdown", zap.Error(err))
		return types.Errorf(types.ErrComponentStopFailed, "%v", err)
	}

	e.logger.Info("Engine stopped gracefully")
	return nil
}

func (e *Engine) IsRunning() bool {
	return e.getState() == StateRunning
}

// Lookup resolves one surface form to a definition. Concurrent identical
// lookups share a single pipeline execution; (nil, nil) means the word is
// confirmed absent.
func (e *Engine) Lookup(ctx context.Context, query string) (*types.DefinitionResult, error) {
	if !e.IsRunning() {
		return nil, types.ErrEngineNotRunning
	}

	started := time.Now()
	signature := dedup.Signature("GET", "/lookup", map[string]string{"q": query})

	result, err := e.dedup.Do(ctx, signature, func(ctx context.Context) (interface{}, error) {
		return e.pipeline.Lookup(ctx, query)
	})

	e.metrics.RecordRequest("lookup", time.Since(started), err)

	if err != nil {
		return nil, err
	}
	return result.(*types.DefinitionResult), nil
}

// LookupMany resolves a set of queries through the batch coordinator so
// bursts of individual callers coalesce into grouped pipeline work.
func (e *Engine) LookupMany(ctx context.Context, queries []string) ([]*types.DefinitionResult, error) {
	if !e.IsRunning() {
		return nil, types.ErrEngineNotRunning
	}

	results := make([]*types.DefinitionResult, len(queries))
	g, gCtx := errgroup.WithContext(ctx)

	for i, query := range queries {
		i, query := i, query
		g.Go(func() error {
			value, err := e.batch.Submit(gCtx, lookupBatchType, query)
			if err != nil {
				return err
			}
			if value != nil {
				results[i] = value.(*types.DefinitionResult)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// processLookupBatch resolves one accumulated group of lookup queries.
// Individual misses yield nil results rather than failing the batch.
func (e *Engine) processLookupBatch(ctx context.Context, items []interface{}) ([]interface{}, error) {
	results := make([]interface{}, len(items))

	for i, item := range items {
		query, ok := item.(string)
		if !ok {
			return nil, types.Errorf(types.ErrBatchOperationFailed, "lookup batch item %d is not a string", i)
		}

		result, err := e.pipeline.Lookup(ctx, query)
		if err != nil {
			return nil, err
		}
		if result != nil {
			results[i] = result
		}
	}

	return results, nil
}

func (e *Engine) getState() State {
	return e.state.Load().(State)
}

func (e *Engine) setState(newState State) bool {
	currentState := e.getState()
	return e.state.CompareAndSwap(currentState, newState)
}

func (e *Engine) transitionState(from, to State) bool {
	return e.state.CompareAndSwap(from, to)
}
