package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrCacheKeyEmpty         = errors.New("cache key empty")
	ErrCacheTierUnknown      = errors.New("cache tier unknown")
	ErrCacheTypeUnknown      = errors.New("cache backend unknown")
	ErrCacheConnectionFailed = errors.New("cache connection failed")
)

var (
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrDependencyTimeout     = errors.New("dependency timeout")
	ErrDependencyNotFound    = errors.New("dependency not found")
)

var (
	ErrBatchOperationFailed  = errors.New("batch operation failed")
	ErrBatchTypeUnknown      = errors.New("batch type unknown")
	ErrBatchProcessorIsNil   = errors.New("batch processor is nil")
	ErrBatchResultCountWrong = errors.New("batch result count mismatch")
)

var (
	ErrStoreTypeUnknown = errors.New("dictionary store type unknown")
	ErrStoreQueryFailed = errors.New("dictionary store query failed")
)

var (
	ErrSweepJobNameIsEmpty  = errors.New("sweep job name is empty")
	ErrSweepJobIsNil        = errors.New("sweep job is nil")
	ErrSweepScheduleInvalid = errors.New("sweep schedule invalid")
	ErrSweepJobExists       = errors.New("sweep job exists")
)

var (
	ErrMetricsTypeUnknown = errors.New("metrics type unknown")
)

var (
	ErrAnalyzeTextEmpty = errors.New("analyze text empty")
)

var (
	ErrEngineNotRunning     = errors.New("engine not running")
	ErrEngineAlreadyRunning = errors.New("engine already running")
	ErrComponentStartFailed = errors.New("component start failed")
	ErrComponentStopFailed  = errors.New("component stop failed")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
