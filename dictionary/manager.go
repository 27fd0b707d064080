package dictionary

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kotoba-works/kotoba-engine/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const DefaultQueryTimeout = 2 * time.Second

func NewStore(ctx context.Context, logger types.Logger, config *types.DictionaryConfig) (types.DictionaryStore, error) {
	var impl types.DictionaryStore
	var err error

	switch config.Backend {
	case "memory", "":
		impl, err = NewMemoryStore(logger, config)
	case "sqlite":
		impl, err = NewSQLiteStore(ctx, logger, config)
	case "clover":
		impl, err = NewCloverStore(logger, config)
	default:
		return nil, types.Errorf(types.ErrStoreTypeUnknown, "backend: %s", config.Backend)
	}

	if err != nil {
		return nil, err
	}

	return newInstrumentedStore(logger, config, impl), nil
}

// instrumentedStore wraps a backend with lifecycle state tracking and
// per-query timeouts.
type instrumentedStore struct {
	impl         types.DictionaryStore
	logger       types.Logger
	queryTimeout time.Duration
	state        atomic.Value
}

func newInstrumentedStore(logger types.Logger, config *types.DictionaryConfig, impl types.DictionaryStore) types.DictionaryStore {
	queryTimeout := DefaultQueryTimeout
	if config.QueryTimeout > 0 {
		queryTimeout = config.QueryTimeout
	}

	instrumented := &instrumentedStore{
		impl:         impl,
		logger:       logger,
		queryTimeout: queryTimeout,
	}

	instrumented.state.Store(StateStopped)
	return instrumented
}

func (s *instrumentedStore) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrEngineAlreadyRunning
	}

	defer func() {
		if s.getState() == StateStarting {
			s.setState(StateRunning)
		}
	}()

	err := s.impl.Start()
	if err != nil {
		s.setState(StateStopped)
		return err
	}

	s.logger.Info("Dictionary store started")
	return nil
}

func (s *instrumentedStore) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrEngineNotRunning
	}

	defer func() {
		s.setState(StateStopped)
	}()

	err := s.impl.Stop()
	if err != nil {
		s.logger.Error("Failed to stop dictionary store", zap.Error(err))
		return err
	}

	s.logger.Info("Dictionary store stopped gracefully")
	return nil
}

func (s *instrumentedStore) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *instrumentedStore) LookupExact(ctx context.Context, form string) ([]types.DefinitionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.impl.LookupExact(ctx, form)
}

func (s *instrumentedStore) SearchFuzzy(ctx context.Context, query string, limit int) ([]types.DefinitionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.impl.SearchFuzzy(ctx, query, limit)
}

// State management helpers

func (s *instrumentedStore) getState() State {
	return s.state.Load().(State)
}

func (s *instrumentedStore) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *instrumentedStore) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}
