package cron

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotoba-works/kotoba-engine/logger"
	"github.com/kotoba-works/kotoba-engine/types"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()

	s, err := NewScheduler(context.Background(), logger.NewNopLogger(), nil, &types.SweepConfig{})
	require.NoError(t, err)
	return s
}

func TestAddValidatesArguments(t *testing.T) {
	s := newTestScheduler(t)

	assert.ErrorIs(t, s.Add("", "@every 1s", func() {}), types.ErrSweepJobNameIsEmpty)
	assert.ErrorIs(t, s.Add("job", "", func() {}), types.ErrSweepScheduleInvalid)
	assert.ErrorIs(t, s.Add("job", "@every 1s", nil), types.ErrSweepJobIsNil)

	err := s.Add("job", "not a schedule", func() {})
	assert.True(t, types.IsError(err, types.ErrSweepScheduleInvalid))
}

func TestAddRejectsDuplicateNames(t *testing.T) {
	s := newTestScheduler(t)

	require.NoError(t, s.Add("sweep", "@every 1m", func() {}))
	err := s.Add("sweep", "@every 1m", func() {})
	assert.True(t, types.IsError(err, types.ErrSweepJobExists))
}

func TestSchedulerRunsJobs(t *testing.T) {
	s := newTestScheduler(t)

	var runs int32
	// @every rounds sub-second intervals up to one second, so 1s is the
	// fastest schedule the tests can rely on.
	require.NoError(t, s.Add("tick", "@every 1s", func() {
		atomic.AddInt32(&runs, 1)
	}))

	require.NoError(t, s.Start())
	defer func() { _ = s.Stop() }()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) >= 2
	}, 5*time.Second, 50*time.Millisecond)

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "tick", jobs[0].Name)
	assert.Positive(t, jobs[0].RunCount)
}

func TestPanickingJobDoesNotStopScheduler(t *testing.T) {
	s := newTestScheduler(t)

	var healthyRuns int32
	require.NoError(t, s.Add("broken", "@every 1s", func() {
		panic("boom")
	}))
	require.NoError(t, s.Add("healthy", "@every 1s", func() {
		atomic.AddInt32(&healthyRuns, 1)
	}))

	require.NoError(t, s.Start())
	defer func() { _ = s.Stop() }()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&healthyRuns) >= 2
	}, 5*time.Second, 50*time.Millisecond)
}

func TestLifecycle(t *testing.T) {
	s := newTestScheduler(t)

	assert.False(t, s.IsRunning())
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())

	assert.ErrorIs(t, s.Start(), types.ErrEngineAlreadyRunning)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.Stop(), types.ErrEngineNotRunning)
}
