package batch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kotoba-works/kotoba-engine/types"
)

const (
	DefaultMaxSize      = 10
	DefaultMaxIdleTime  = 50 * time.Millisecond
	DefaultFlushTimeout = 30 * time.Second
)

// Processor handles one accumulated batch. It must return exactly one
// result per item, in item order.
type Processor func(ctx context.Context, items []interface{}) ([]interface{}, error)

type itemResult struct {
	value interface{}
	err   error
}

type pendingItem struct {
	payload interface{}
	done    chan itemResult
}

// group is one accumulating batch for a single batch type. The idle timer
// is armed when the group is created and is never re-armed by later items:
// the group flushes at maxSize or when maxIdleTime has passed since the
// first item, whichever comes first.
type group struct {
	id    string
	items []pendingItem
	timer *time.Timer
}

// Coordinator accumulates submitted items into per-type groups and hands
// full or idle groups to the registered processor. Results are distributed
// back to submitters by position.
type Coordinator struct {
	logger types.Logger

	maxSize      int
	maxIdleTime  time.Duration
	flushTimeout time.Duration

	mu         sync.Mutex
	processors map[string]Processor
	groups     map[string]*group
	closed     bool

	flushWG sync.WaitGroup

	batchesProcessed uint64
	itemsProcessed   uint64
}

func NewCoordinator(logger types.Logger, cfg *types.BatchConfig) *Coordinator {
	maxSize := DefaultMaxSize
	maxIdleTime := DefaultMaxIdleTime
	flushTimeout := DefaultFlushTimeout

	if cfg != nil {
		if cfg.MaxSize > 0 {
			maxSize = cfg.MaxSize
		}
		if cfg.MaxIdleTime > 0 {
			maxIdleTime = cfg.MaxIdleTime
		}
		if cfg.FlushTimeout > 0 {
			flushTimeout = cfg.FlushTimeout
		}
	}

	return &Coordinator{
		logger:       logger,
		maxSize:      maxSize,
		maxIdleTime:  maxIdleTime,
		flushTimeout: flushTimeout,
		processors:   make(map[string]Processor),
		groups:       make(map[string]*group),
	}
}

func (c *Coordinator) RegisterProcessor(batchType string, processor Processor) error {
	if processor == nil {
		return types.Errorf(types.ErrBatchProcessorIsNil, "batch type: %s", batchType)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.processors[batchType] = processor
	return nil
}

// Submit adds one item to the current group for batchType and blocks until
// the group it joined has been processed, or ctx is done. The returned
// value is the processor's result at this item's position.
func (c *Coordinator) Submit(ctx context.Context, batchType string, payload interface{}) (interface{}, error) {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return nil, types.Errorf(types.ErrBatchOperationFailed, "coordinator closed")
	}

	processor, ok := c.processors[batchType]
	if !ok {
		c.mu.Unlock()
		return nil, types.Errorf(types.ErrBatchTypeUnknown, "batch type: %s", batchType)
	}

	item := pendingItem{
		payload: payload,
		done:    make(chan itemResult, 1),
	}

	g, ok := c.groups[batchType]
	if !ok {
		g = &group{id: uuid.New().String()}
		g.timer = time.AfterFunc(c.maxIdleTime, func() {
			c.flushIdle(batchType, g, processor)
		})
		c.groups[batchType] = g
	}
	g.items = append(g.items, item)

	if len(g.items) >= c.maxSize {
		g.timer.Stop()
		delete(c.groups, batchType)
		c.startFlush(batchType, g, processor)
	}
	c.mu.Unlock()

	select {
	case result := <-item.done:
		return result.value, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// flushIdle fires from the group's idle timer. The group may already have
// been detached by a size flush; only flush it if it is still current.
func (c *Coordinator) flushIdle(batchType string, g *group, processor Processor) {
	c.mu.Lock()
	if c.groups[batchType] != g {
		c.mu.Unlock()
		return
	}
	delete(c.groups, batchType)
	c.startFlush(batchType, g, processor)
	c.mu.Unlock()
}

// startFlush hands a detached group to its processor. Callers hold c.mu.
func (c *Coordinator) startFlush(batchType string, g *group, processor Processor) {
	c.flushWG.Add(1)
	go func() {
		defer c.flushWG.Done()
		c.process(batchType, g, processor)
	}()
}

func (c *Coordinator) process(batchType string, g *group, processor Processor) {
	ctx, cancel := context.WithTimeout(context.Background(), c.flushTimeout)
	defer cancel()

	payloads := make([]interface{}, len(g.items))
	for i, item := range g.items {
		payloads[i] = item.payload
	}

	started := time.Now()
	results, err := processor(ctx, payloads)

	if err == nil && len(results) != len(g.items) {
		err = types.Errorf(types.ErrBatchResultCountWrong,
			"batch %s: got %d results for %d items", g.id, len(results), len(g.items))
	}

	if err != nil {
		c.logger.Error("Batch processing failed",
			zap.String("batch_id", g.id),
			zap.String("batch_type", batchType),
			zap.Int("items", len(g.items)),
			zap.Error(err))

		failure := types.WrapError(types.ErrBatchOperationFailed, err.Error())
		for _, item := range g.items {
			item.done <- itemResult{err: failure}
		}
		return
	}

	c.logger.Debug("Batch processed",
		zap.String("batch_id", g.id),
		zap.String("batch_type", batchType),
		zap.Int("items", len(g.items)),
		zap.Duration("duration", time.Since(started)))

	for i, item := range g.items {
		item.done <- itemResult{value: results[i]}
	}

	c.mu.Lock()
	c.batchesProcessed++
	c.itemsProcessed += uint64(len(g.items))
	c.mu.Unlock()
}

// Close flushes all pending groups and waits for in-flight processing.
// Submissions after Close fail.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	for batchType, g := range c.groups {
		g.timer.Stop()
		delete(c.groups, batchType)
		c.startFlush(batchType, g, c.processors[batchType])
	}
	c.mu.Unlock()

	c.flushWG.Wait()
}

type Stats struct {
	BatchesProcessed uint64  `json:"batches_processed"`
	ItemsProcessed   uint64  `json:"items_processed"`
	MeanBatchSize    float64 `json:"mean_batch_size"`
}

func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		BatchesProcessed: c.batchesProcessed,
		ItemsProcessed:   c.itemsProcessed,
	}
	if c.batchesProcessed > 0 {
		stats.MeanBatchSize = float64(c.itemsProcessed) / float64(c.batchesProcessed)
	}
	return stats
}
