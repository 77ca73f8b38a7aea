package llm

import (
	"context"
	"errors"
	"time"
)

// TimeoutConfig holds timeout configuration
type TimeoutConfig struct {
	// DefaultTimeout applies when a request does not ask for one
	DefaultTimeout time.Duration
	// MaxTimeout is the maximum allowed timeout
	MaxTimeout time.Duration
	// MinTimeout is the minimum allowed timeout
	MinTimeout time.Duration
}

// DefaultTimeoutConfig returns default timeout configuration
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		DefaultTimeout: 60 * time.Second,
		MaxTimeout:     10 * time.Minute,
		MinTimeout:     time.Second,
	}
}

// TimeoutManager clamps per-call deadlines
type TimeoutManager struct {
	config *TimeoutConfig
}

// NewTimeoutManager creates a new timeout manager
func NewTimeoutManager(config *TimeoutConfig) *TimeoutManager {
	if config == nil {
		config = DefaultTimeoutConfig()
	}
	return &TimeoutManager{config: config}
}

// GetTimeout returns the timeout to use for a request.
// Zero means the default; anything else is clamped to [min, max].
func (t *TimeoutManager) GetTimeout(requested time.Duration) time.Duration {
	if requested == 0 {
		return t.config.DefaultTimeout
	}
	if requested < t.config.MinTimeout {
		return t.config.MinTimeout
	}
	if requested > t.config.MaxTimeout {
		return t.config.MaxTimeout
	}
	return requested
}

// WithTimeout creates a context with the clamped timeout
func (t *TimeoutManager) WithTimeout(ctx context.Context, requested time.Duration) (context.Context, context.CancelFunc, time.Duration) {
	timeout := t.GetTimeout(requested)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, cancel, timeout
}

// MaxTimeout returns the upper bound
func (t *TimeoutManager) MaxTimeout() time.Duration {
	return t.config.MaxTimeout
}

// IsTimeoutError checks if an error is a timeout error
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrUpstreamTimeout)
}
