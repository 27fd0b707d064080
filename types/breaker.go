package types

import (
	"time"
)

// BreakerSnapshot is a point-in-time view of one circuit breaker, exposed
// through the admin surface.
type BreakerSnapshot struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	NextAttemptAt       time.Time `json:"next_attempt_at,omitempty"`
}
