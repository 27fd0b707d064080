package cron

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
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

// JobEntry tracks one registered sweep job and its execution stats.
type JobEntry struct {
	ID            cron.EntryID  `json:"-"`
	Name          string        `json:"name"`
	Spec          string        `json:"spec"`
	AddedAt       time.Time     `json:"added_at"`
	LastRun       time.Time     `json:"last_run"`
	NextRun       time.Time     `json:"next_run"`
	RunCount      int64         `json:"run_count"`
	LastDuration  time.Duration `json:"last_duration"`
	TotalDuration time.Duration `json:"-"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// Scheduler runs the engine's periodic maintenance sweeps: cache expiry,
// deduplicator safety sweeps and memory snapshots. Jobs are registered
// before Start and recover from panics individually so one failing sweep
// never takes down the scheduler.
type Scheduler struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  types.Logger
	metrics types.MetricsManager
	cron    *cron.Cron

	mu   sync.RWMutex
	jobs map[string]*JobEntry

	shutdown        chan struct{}
	shutdownOnce    sync.Once
	shutdownTimeout time.Duration
	state           atomic.Value
}

func NewScheduler(ctx context.Context, logger types.Logger, metrics types.MetricsManager, cfg *types.SweepConfig) (*Scheduler, error) {
	timezone := time.UTC
	if cfg != nil && cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			logger.Warn("Invalid sweep timezone, falling back to UTC",
				zap.String("timezone", cfg.Timezone),
				zap.Error(err))
		} else {
			timezone = loc
		}
	}

	schedulerCtx, cancel := context.WithCancel(ctx)

	scheduler := &Scheduler{
		ctx:    schedulerCtx,
		cancel: cancel,
		logger: logger,
		cron: cron.New(
			cron.WithLocation(timezone),
			cron.WithChain(cron.Recover(cronLogger{logger: logger})),
		),
		metrics:         metrics,
		jobs:            make(map[string]*JobEntry),
		shutdown:        make(chan struct{}),
		shutdownTimeout: 10 * time.Second,
	}

	scheduler.state.Store(StateStopped)
	return scheduler, nil
}

func (s *Scheduler) Add(jobName, spec string, job func()) error {
	if jobName == "" {
		return types.ErrSweepJobNameIsEmpty
	}
	if spec == "" {
		return types.ErrSweepScheduleInvalid
	}
	if job == nil {
		return types.ErrSweepJobIsNil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[jobName]; exists {
		return types.Errorf(types.ErrSweepJobExists, "job: %s", jobName)
	}

	entryID, err := s.cron.AddFunc(spec, s.wrapJob(jobName, job))
	if err != nil {
		return types.Errorf(types.ErrSweepScheduleInvalid, "job %s: %v", jobName, err)
	}

	entry := &JobEntry{
		ID:      entryID,
		Name:    jobName,
		Spec:    spec,
		AddedAt: time.Now(),
	}
	if cronEntry := s.cron.Entry(entryID); cronEntry.ID != 0 {
		entry.NextRun = cronEntry.Next
	}
	s.jobs[jobName] = entry

	s.logger.Info("Sweep job added",
		zap.String("job_name", jobName),
		zap.String("spec", spec))

	return nil
}

func (s *Scheduler) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrEngineAlreadyRunning
	}

	defer func() {
		if s.getState() == StateStarting {
			s.setState(StateRunning)
		}
	}()

	s.cron.Start()
	s.logger.Info("Sweep scheduler started", zap.Int("jobs", len(s.jobs)))
	return nil
}

func (s *Scheduler) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) &&
		!s.transitionState(StateStarting, StateStopping) {
		return types.ErrEngineNotRunning
	}

	var err error
	s.shutdownOnce.Do(func() {
		defer func() {
			s.setState(StateStopped)
			s.cancel()
		}()

		close(s.shutdown)

		stopCtx := s.cron.Stop()
		select {
		case <-stopCtx.Done():
			s.logger.Info("Sweep scheduler stopped gracefully")
		case <-time.After(s.shutdownTimeout):
			err = types.Errorf(types.ErrComponentStopFailed, "sweep jobs still running after %v", s.shutdownTimeout)
			s.logger.Warn("Sweep scheduler stop timeout, some jobs may not have finished")
		}
	})

	return err
}

func (s *Scheduler) IsRunning() bool {
	return s.getState() == StateRunning
}

// Jobs returns a snapshot of all registered jobs and their stats.
func (s *Scheduler) Jobs() []JobEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]JobEntry, 0, len(s.jobs))
	for _, entry := range s.jobs {
		entries = append(entries, *entry)
	}
	return entries
}

func (s *Scheduler) wrapJob(jobName string, job func()) func() {
	return func() {
		select {
		case <-s.shutdown:
			s.logger.Debug("Sweep skipped due to shutdown", zap.String("job_name", jobName))
			return
		default:
		}

		startTime := time.Now()

		var jobErr error
		func() {
			defer func() {
				if r := recover(); r != nil {
					jobErr = types.NewErrorf("sweep panic: %v", r)
					s.logger.Error("Sweep job panicked",
						zap.String("job_name", jobName),
						zap.Any("panic", r))
				}
			}()
			job()
		}()

		duration := time.Since(startTime)
		s.updateJobStats(jobName, startTime, duration)

		result := "success"
		if jobErr != nil {
			result = "error"
		}
		if s.metrics != nil {
			s.metrics.Counter("sweep_executions_total", map[string]string{
				"job_name": jobName,
				"result":   result,
			}).Inc()
			s.metrics.Histogram("sweep_duration_seconds",
				[]float64{0.001, 0.01, 0.1, 1, 10},
				map[string]string{"job_name": jobName},
			).Observe(duration.Seconds())
		}

		s.logger.Debug("Sweep job completed",
			zap.String("job_name", jobName),
			zap.Duration("duration", duration))
	}
}

func (s *Scheduler) updateJobStats(jobName string, startTime time.Time, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.jobs[jobName]
	if !exists {
		return
	}

	entry.LastRun = startTime
	entry.LastDuration = duration
	entry.TotalDuration += duration
	entry.RunCount++
	entry.AvgDuration = entry.TotalDuration / time.Duration(entry.RunCount)

	if cronEntry := s.cron.Entry(entry.ID); cronEntry.ID != 0 {
		entry.NextRun = cronEntry.Next
	}
}

// State management helpers

func (s *Scheduler) getState() State {
	return s.state.Load().(State)
}

func (s *Scheduler) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *Scheduler) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

// cronLogger adapts the engine logger to the cron library's interface used
// by its Recover chain.
type cronLogger struct {
	logger types.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, toFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := toFields(keysAndValues)
	fields = append(fields, zap.Error(err))
	l.logger.Error(msg, fields...)
}

func toFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		fields = append(fields, zap.Any(fmt.Sprintf("%v", keysAndValues[i]), keysAndValues[i+1]))
	}
	return fields
}
