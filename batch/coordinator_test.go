package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotoba-works/kotoba-engine/logger"
	"github.com/kotoba-works/kotoba-engine/types"
)

func newTestCoordinator(maxSize int, maxIdle time.Duration) *Coordinator {
	return NewCoordinator(logger.NewNopLogger(), &types.BatchConfig{
		MaxSize:      maxSize,
		MaxIdleTime:  maxIdle,
		FlushTimeout: 5 * time.Second,
	})
}

// echoProcessor returns "<payload>-done" per item.
func echoProcessor(ctx context.Context, items []interface{}) ([]interface{}, error) {
	results := make([]interface{}, len(items))
	for i, item := range items {
		results[i] = fmt.Sprintf("%v-done", item)
	}
	return results, nil
}

func TestSubmitUnknownBatchType(t *testing.T) {
	c := newTestCoordinator(2, time.Hour)
	defer c.Close()

	_, err := c.Submit(context.Background(), "nope", "x")
	assert.True(t, types.IsError(err, types.ErrBatchTypeUnknown))
}

func TestRegisterNilProcessor(t *testing.T) {
	c := newTestCoordinator(2, time.Hour)
	defer c.Close()

	err := c.RegisterProcessor("lookup", nil)
	assert.True(t, types.IsError(err, types.ErrBatchProcessorIsNil))
}

func TestSizeFlushDistributesByPosition(t *testing.T) {
	c := newTestCoordinator(3, time.Hour)
	defer c.Close()

	var batches int32
	require.NoError(t, c.RegisterProcessor("lookup", func(ctx context.Context, items []interface{}) ([]interface{}, error) {
		atomic.AddInt32(&batches, 1)
		return echoProcessor(ctx, items)
	}))

	ctx := context.Background()
	results := make([]interface{}, 3)
	errs := make([]error, 3)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Submit(ctx, "lookup", fmt.Sprintf("item%d", i))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&batches))
	for i := 0; i < 3; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprintf("item%d-done", i), results[i])
	}

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.BatchesProcessed)
	assert.Equal(t, uint64(3), stats.ItemsProcessed)
	assert.Equal(t, 3.0, stats.MeanBatchSize)
}

func TestIdleTimerFlushesPartialGroup(t *testing.T) {
	c := newTestCoordinator(10, 20*time.Millisecond)
	defer c.Close()

	require.NoError(t, c.RegisterProcessor("lookup", echoProcessor))

	started := time.Now()
	result, err := c.Submit(context.Background(), "lookup", "solo")

	require.NoError(t, err)
	assert.Equal(t, "solo-done", result)
	assert.GreaterOrEqual(t, time.Since(started), 20*time.Millisecond)
}

func TestIdleTimerIsNotResetByLaterItems(t *testing.T) {
	c := newTestCoordinator(10, 50*time.Millisecond)
	defer c.Close()

	require.NoError(t, c.RegisterProcessor("lookup", echoProcessor))

	ctx := context.Background()
	started := time.Now()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = c.Submit(ctx, "lookup", "first")
	}()

	// Trickle in more items; the flush deadline stays anchored to the
	// first item.
	time.Sleep(20 * time.Millisecond)
	_, err := c.Submit(ctx, "lookup", "second")
	wg.Wait()

	require.NoError(t, err)
	assert.Less(t, time.Since(started), 90*time.Millisecond)
}

func TestProcessorErrorFailsAllItems(t *testing.T) {
	c := newTestCoordinator(2, time.Hour)
	defer c.Close()

	errBroken := errors.New("backend down")
	require.NoError(t, c.RegisterProcessor("lookup", func(ctx context.Context, items []interface{}) ([]interface{}, error) {
		return nil, errBroken
	}))

	ctx := context.Background()
	errs := make([]error, 2)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Submit(ctx, "lookup", i)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		assert.True(t, types.IsError(errs[i], types.ErrBatchOperationFailed))
	}
}

func TestResultCountMismatchFailsAllItems(t *testing.T) {
	c := newTestCoordinator(2, time.Hour)
	defer c.Close()

	require.NoError(t, c.RegisterProcessor("lookup", func(ctx context.Context, items []interface{}) ([]interface{}, error) {
		return []interface{}{"only-one"}, nil
	}))

	ctx := context.Background()
	errs := make([]error, 2)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Submit(ctx, "lookup", i)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		assert.True(t, types.IsError(errs[i], types.ErrBatchOperationFailed))
	}
}

func TestSubmitRespectsContextCancellation(t *testing.T) {
	c := newTestCoordinator(10, time.Hour)
	defer c.Close()

	require.NoError(t, c.RegisterProcessor("lookup", echoProcessor))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Submit(ctx, "lookup", "stuck")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseFlushesPendingGroups(t *testing.T) {
	c := newTestCoordinator(10, time.Hour)
	require.NoError(t, c.RegisterProcessor("lookup", echoProcessor))

	ctx := context.Background()
	done := make(chan struct{})
	var result interface{}
	var err error
	go func() {
		defer close(done)
		result, err = c.Submit(ctx, "lookup", "pending")
	}()

	// Give Submit time to enqueue before closing.
	time.Sleep(10 * time.Millisecond)
	c.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pending item was not flushed on close")
	}

	require.NoError(t, err)
	assert.Equal(t, "pending-done", result)

	_, err = c.Submit(ctx, "lookup", "late")
	assert.True(t, types.IsError(err, types.ErrBatchOperationFailed))
}

func TestBatchTypesAreIsolated(t *testing.T) {
	c := newTestCoordinator(2, time.Hour)
	defer c.Close()

	require.NoError(t, c.RegisterProcessor("a", echoProcessor))
	require.NoError(t, c.RegisterProcessor("b", echoProcessor))

	ctx := context.Background()
	resultC := make(chan interface{}, 1)
	go func() {
		r, _ := c.Submit(ctx, "a", "a1")
		resultC <- r
	}()

	// Filling type b must not flush type a's half-full group.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = c.Submit(ctx, "b", i)
		}(i)
	}
	wg.Wait()

	select {
	case <-resultC:
		t.Fatal("type a flushed by type b activity")
	case <-time.After(30 * time.Millisecond):
	}

	go func() { _, _ = c.Submit(ctx, "a", "a2") }()

	select {
	case r := <-resultC:
		assert.Equal(t, "a1-done", r)
	case <-time.After(time.Second):
		t.Fatal("type a never flushed")
	}
}
