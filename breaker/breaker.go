package breaker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kotoba-works/kotoba-engine/types"
)

type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Operation func(ctx context.Context) (interface{}, error)

// Fallback receives the error that caused the short-circuit or failure.
type Fallback func(ctx context.Context, cause error) (interface{}, error)

// Breaker guards calls to one named dependency.
//
// HALF_OPEN policy: exactly one probe is permitted per half-open window.
// Concurrent callers arriving while the probe is in flight short-circuit to
// their fallback (or ErrDependencyUnavailable) rather than issuing
// additional probes; this bounds load on a recovering dependency.
type Breaker struct {
	name   string
	logger types.Logger

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	failureThreshold    int
	resetTimeout        time.Duration
	nextAttemptAt       time.Time
	probeInFlight       bool
}

func New(name string, logger types.Logger, cfg *types.BreakerConfig) *Breaker {
	threshold := 5
	resetTimeout := 60 * time.Second

	if cfg != nil {
		if cfg.FailureThreshold > 0 {
			threshold = cfg.FailureThreshold
		}
		if cfg.ResetTimeout > 0 {
			resetTimeout = cfg.ResetTimeout
		}
	}

	return &Breaker{
		name:             name,
		logger:           logger,
		state:            StateClosed,
		failureThreshold: threshold,
		resetTimeout:     resetTimeout,
	}
}

// Execute runs op under the breaker. While OPEN and before the reset
// timeout elapses, op is never attempted: the fallback result is returned
// when one is supplied, ErrDependencyUnavailable otherwise. A failing op
// with a fallback returns the fallback's result; the failure still counts
// toward the breaker.
func (b *Breaker) Execute(ctx context.Context, op Operation, fallback Fallback) (interface{}, error) {
	probe, allowed := b.acquire()
	if !allowed {
		cause := types.Errorf(types.ErrDependencyUnavailable, "breaker open: %s", b.name)
		if fallback != nil {
			return fallback(ctx, cause)
		}
		return nil, cause
	}

	result, err := op(ctx)

	if err != nil {
		b.recordFailure(probe)
		if fallback != nil {
			return fallback(ctx, err)
		}
		return nil, err
	}

	b.recordSuccess(probe)
	return result, nil
}

// acquire decides whether the caller may attempt the guarded operation and
// whether that attempt is the half-open probe.
func (b *Breaker) acquire() (probe, allowed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, true
	case StateOpen:
		if time.Now().Before(b.nextAttemptAt) {
			return false, false
		}
		b.state = StateHalfOpen
		b.probeInFlight = true
		b.logger.Info("Circuit breaker transitioned to half-open",
			zap.String("dependency", b.name))
		return true, true
	case StateHalfOpen:
		if b.probeInFlight {
			return false, false
		}
		b.probeInFlight = true
		return true, true
	default:
		return false, true
	}
}

func (b *Breaker) recordSuccess(probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probeInFlight = false
	}

	switch b.state {
	case StateClosed:
		b.consecutiveFailures = 0
	case StateHalfOpen:
		// Only the probe's outcome settles a half-open breaker; a stale
		// call admitted before the breaker opened must not close it.
		if !probe {
			return
		}
		b.state = StateClosed
		b.consecutiveFailures = 0
		b.nextAttemptAt = time.Time{}
		b.logger.Info("Circuit breaker closed",
			zap.String("dependency", b.name))
	case StateOpen:
		// A success can land here only if the breaker re-opened while the
		// call was in flight; leave the open state untouched.
	}
}

func (b *Breaker) recordFailure(probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probeInFlight = false
	}

	b.consecutiveFailures++

	switch b.state {
	case StateClosed:
		if b.consecutiveFailures >= b.failureThreshold {
			b.open()
		}
	case StateHalfOpen:
		if probe {
			b.open()
		}
	case StateOpen:
	}
}

func (b *Breaker) open() {
	b.state = StateOpen
	b.nextAttemptAt = time.Now().Add(b.resetTimeout)
	b.logger.Warn("Circuit breaker opened",
		zap.String("dependency", b.name),
		zap.Int("consecutive_failures", b.consecutiveFailures),
		zap.Int("threshold", b.failureThreshold),
		zap.Time("next_attempt_at", b.nextAttemptAt))
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to CLOSED. Administrative use only.
func (b *Breaker) Reset() {
	b.mu.Lock()
	oldState := b.state
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.probeInFlight = false
	b.nextAttemptAt = time.Time{}
	b.mu.Unlock()

	if oldState != StateClosed {
		b.logger.Info("Circuit breaker manually reset",
			zap.String("dependency", b.name),
			zap.String("old_state", oldState.String()))
	}
}

func (b *Breaker) Snapshot() types.BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return types.BreakerSnapshot{
		Name:                b.name,
		State:               b.state.String(),
		ConsecutiveFailures: b.consecutiveFailures,
		NextAttemptAt:       b.nextAttemptAt,
	}
}
