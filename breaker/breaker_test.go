package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotoba-works/kotoba-engine/logger"
	"github.com/kotoba-works/kotoba-engine/types"
)

var errBoom = errors.New("boom")

func newTestBreaker(threshold int, resetTimeout time.Duration) *Breaker {
	return New("test", logger.NewNopLogger(), &types.BreakerConfig{
		FailureThreshold: threshold,
		ResetTimeout:     resetTimeout,
	})
}

func failingOp(ctx context.Context) (interface{}, error) {
	return nil, errBoom
}

func okOp(ctx context.Context) (interface{}, error) {
	return "ok", nil
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := b.Execute(ctx, failingOp, nil)
		require.ErrorIs(t, err, errBoom)
		assert.Equal(t, StateClosed, b.State())
	}

	_, err := b.Execute(ctx, failingOp, nil)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerShortCircuitsWhileOpen(t *testing.T) {
	b := newTestBreaker(1, time.Minute)
	ctx := context.Background()

	_, err := b.Execute(ctx, failingOp, nil)
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, StateOpen, b.State())

	var attempts int32
	_, err = b.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, nil
	}, nil)

	require.Error(t, err)
	assert.True(t, types.IsError(err, types.ErrDependencyUnavailable))
	assert.Equal(t, int32(0), atomic.LoadInt32(&attempts))
}

func TestBreakerFallbackWhileOpen(t *testing.T) {
	b := newTestBreaker(1, time.Minute)
	ctx := context.Background()

	_, _ = b.Execute(ctx, failingOp, nil)
	require.Equal(t, StateOpen, b.State())

	result, err := b.Execute(ctx, failingOp, func(ctx context.Context, cause error) (interface{}, error) {
		assert.True(t, types.IsError(cause, types.ErrDependencyUnavailable))
		return "degraded", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "degraded", result)
}

func TestBreakerFallbackOnOperationFailure(t *testing.T) {
	b := newTestBreaker(5, time.Minute)
	ctx := context.Background()

	result, err := b.Execute(ctx, failingOp, func(ctx context.Context, cause error) (interface{}, error) {
		assert.ErrorIs(t, cause, errBoom)
		return "degraded", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "degraded", result)

	// The failure still counts even though the fallback masked it.
	snapshot := b.Snapshot()
	assert.Equal(t, 1, snapshot.ConsecutiveFailures)
}

func TestBreakerHalfOpenProbeSuccessCloses(t *testing.T) {
	b := newTestBreaker(1, 10*time.Millisecond)
	ctx := context.Background()

	_, _ = b.Execute(ctx, failingOp, nil)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)

	result, err := b.Execute(ctx, okOp, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, StateClosed, b.State())

	snapshot := b.Snapshot()
	assert.Equal(t, 0, snapshot.ConsecutiveFailures)
}

func TestBreakerHalfOpenProbeFailureReopens(t *testing.T) {
	b := newTestBreaker(1, 10*time.Millisecond)
	ctx := context.Background()

	_, _ = b.Execute(ctx, failingOp, nil)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)

	_, err := b.Execute(ctx, failingOp, nil)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, b.State())

	// Re-opened with a fresh window: calls short-circuit again.
	_, err = b.Execute(ctx, okOp, nil)
	assert.True(t, types.IsError(err, types.ErrDependencyUnavailable))
}

func TestBreakerSingleProbeDuringHalfOpen(t *testing.T) {
	b := newTestBreaker(1, 10*time.Millisecond)
	ctx := context.Background()

	_, _ = b.Execute(ctx, failingOp, nil)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)

	var attempts int32
	probeStarted := make(chan struct{})
	probeRelease := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := b.Execute(ctx, func(ctx context.Context) (interface{}, error) {
			atomic.AddInt32(&attempts, 1)
			close(probeStarted)
			<-probeRelease
			return "ok", nil
		}, nil)
		assert.NoError(t, err)
	}()

	<-probeStarted

	// While the probe is in flight, other callers never reach the
	// dependency.
	for i := 0; i < 4; i++ {
		_, err := b.Execute(ctx, func(ctx context.Context) (interface{}, error) {
			atomic.AddInt32(&attempts, 1)
			return "ok", nil
		}, nil)
		assert.True(t, types.IsError(err, types.ErrDependencyUnavailable))
	}

	close(probeRelease)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	assert.Equal(t, StateClosed, b.State())
}

// holdHalfOpenProbe opens the breaker via one failure, waits out the reset
// window and parks the half-open probe on the returned release channel.
func holdHalfOpenProbe(t *testing.T, b *Breaker, wg *sync.WaitGroup) chan struct{} {
	t.Helper()
	ctx := context.Background()

	_, _ = b.Execute(ctx, failingOp, nil)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)

	probeStarted := make(chan struct{})
	probeRelease := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := b.Execute(ctx, func(ctx context.Context) (interface{}, error) {
			close(probeStarted)
			<-probeRelease
			return "ok", nil
		}, nil)
		assert.NoError(t, err)
	}()
	<-probeStarted
	require.Equal(t, StateHalfOpen, b.State())

	return probeRelease
}

func TestStaleCallSuccessDoesNotCloseHalfOpenBreaker(t *testing.T) {
	b := newTestBreaker(1, 10*time.Millisecond)
	ctx := context.Background()

	staleStarted := make(chan struct{})
	staleRelease := make(chan struct{})

	// Admitted while CLOSED; settles only after the breaker has opened and
	// moved to half-open.
	var staleWG sync.WaitGroup
	staleWG.Add(1)
	go func() {
		defer staleWG.Done()
		_, err := b.Execute(ctx, func(ctx context.Context) (interface{}, error) {
			close(staleStarted)
			<-staleRelease
			return "ok", nil
		}, nil)
		assert.NoError(t, err)
	}()
	<-staleStarted

	var probeWG sync.WaitGroup
	probeRelease := holdHalfOpenProbe(t, b, &probeWG)

	close(staleRelease)
	staleWG.Wait()
	assert.Equal(t, StateHalfOpen, b.State())

	close(probeRelease)
	probeWG.Wait()
	assert.Equal(t, StateClosed, b.State())
}

func TestStaleCallFailureDoesNotReopenHalfOpenBreaker(t *testing.T) {
	b := newTestBreaker(1, 10*time.Millisecond)
	ctx := context.Background()

	staleStarted := make(chan struct{})
	staleRelease := make(chan struct{})

	var staleWG sync.WaitGroup
	staleWG.Add(1)
	go func() {
		defer staleWG.Done()
		_, err := b.Execute(ctx, func(ctx context.Context) (interface{}, error) {
			close(staleStarted)
			<-staleRelease
			return nil, errBoom
		}, nil)
		assert.ErrorIs(t, err, errBoom)
	}()
	<-staleStarted

	var probeWG sync.WaitGroup
	probeRelease := holdHalfOpenProbe(t, b, &probeWG)

	close(staleRelease)
	staleWG.Wait()
	assert.Equal(t, StateHalfOpen, b.State())

	// The probe's own outcome still settles the breaker.
	close(probeRelease)
	probeWG.Wait()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	_, _ = b.Execute(ctx, failingOp, nil)
	_, _ = b.Execute(ctx, failingOp, nil)

	_, err := b.Execute(ctx, okOp, nil)
	require.NoError(t, err)

	// Two more failures stay below the threshold after the reset.
	_, _ = b.Execute(ctx, failingOp, nil)
	_, _ = b.Execute(ctx, failingOp, nil)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerManualReset(t *testing.T) {
	b := newTestBreaker(1, time.Hour)
	ctx := context.Background()

	_, _ = b.Execute(ctx, failingOp, nil)
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())

	result, err := b.Execute(ctx, okOp, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestRegistryLazyCreationAndStates(t *testing.T) {
	reg := NewRegistry(logger.NewNopLogger(), map[string]*types.BreakerConfig{
		"analysis": {FailureThreshold: 1, ResetTimeout: time.Hour},
	})
	ctx := context.Background()

	a := reg.Get("analysis")
	assert.Same(t, a, reg.Get("analysis"))

	_, _ = a.Execute(ctx, failingOp, nil)
	_ = reg.Get("ocr")

	states := reg.States()
	require.Len(t, states, 2)
	assert.Equal(t, "analysis", states[0].Name)
	assert.Equal(t, "open", states[0].State)
	assert.Equal(t, "ocr", states[1].Name)
	assert.Equal(t, "closed", states[1].State)

	reg.ResetAll()
	assert.Equal(t, StateClosed, a.State())
}
