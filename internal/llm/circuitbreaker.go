package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aimerfeng/docagent/internal/monitoring"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// CircuitBreakerConfig holds configuration for circuit breakers
type CircuitBreakerConfig struct {
	// MaxRequests is the maximum number of requests allowed to pass through
	// when the circuit breaker is half-open
	MaxRequests uint32
	// Interval is the cyclic period of the closed state
	// for the circuit breaker to clear the internal counts
	Interval time.Duration
	// Timeout is the period of the open state,
	// after which the state of the circuit breaker becomes half-open
	Timeout time.Duration
	// FailureThreshold is the number of consecutive failures before opening the circuit
	FailureThreshold uint32
}

// DefaultCircuitBreakerConfig returns default circuit breaker configuration
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// CircuitBreakerManager keeps one breaker per model service endpoint
type CircuitBreakerManager struct {
	breakers map[string]*gobreaker.CircuitBreaker
	config   *CircuitBreakerConfig
	mu       sync.RWMutex
}

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState string

const (
	CircuitBreakerStateClosed   CircuitBreakerState = "closed"
	CircuitBreakerStateOpen     CircuitBreakerState = "open"
	CircuitBreakerStateHalfOpen CircuitBreakerState = "half-open"
)

// NewCircuitBreakerManager creates a new circuit breaker manager
func NewCircuitBreakerManager(config *CircuitBreakerConfig) *CircuitBreakerManager {
	if config == nil {
		config = DefaultCircuitBreakerConfig()
	}
	return &CircuitBreakerManager{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		config:   config,
	}
}

// GetBreaker returns or creates the circuit breaker for an endpoint
func (m *CircuitBreakerManager) GetBreaker(endpoint string) *gobreaker.CircuitBreaker {
	m.mu.RLock()
	cb, exists := m.breakers[endpoint]
	m.mu.RUnlock()

	if exists {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if cb, exists = m.breakers[endpoint]; exists {
		return cb
	}

	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        fmt.Sprintf("model-%s", endpoint),
		MaxRequests: m.config.MaxRequests,
		Interval:    m.config.Interval,
		Timeout:     m.config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= m.config.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Info().
				Str("circuit_breaker", name).
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("Circuit breaker state changed")
			monitoring.SetCircuitBreakerState(endpoint, stateToGauge(to))
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Only the model service being down or slow counts against it
			if errors.Is(err, ErrUpstream) || errors.Is(err, ErrUpstreamTimeout) {
				return false
			}
			return true
		},
	})

	m.breakers[endpoint] = cb
	return cb
}

// Execute runs fn with circuit breaker protection
func (m *CircuitBreakerManager) Execute(ctx context.Context, endpoint string, fn func() (any, error)) (any, error) {
	cb := m.GetBreaker(endpoint)

	result, err := cb.Execute(func() (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		return fn()
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			log.Warn().
				Str("endpoint", endpoint).
				Msg("Circuit breaker is open, rejecting request")
			return nil, ErrCircuitOpen
		}
		return nil, err
	}

	return result, nil
}

// IsOpen checks if the circuit breaker for an endpoint is open
func (m *CircuitBreakerManager) IsOpen(endpoint string) bool {
	m.mu.RLock()
	cb, exists := m.breakers[endpoint]
	m.mu.RUnlock()

	if !exists {
		return false
	}

	return cb.State() == gobreaker.StateOpen
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return string(CircuitBreakerStateClosed)
	case gobreaker.StateOpen:
		return string(CircuitBreakerStateOpen)
	case gobreaker.StateHalfOpen:
		return string(CircuitBreakerStateHalfOpen)
	default:
		return "unknown"
	}
}

func stateToGauge(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 0.5
	default:
		return 0
	}
}
