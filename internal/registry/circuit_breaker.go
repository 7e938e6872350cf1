// Package registry owns tool definitions and per-tool circuit breaker state.
//
// This file implements a circuit breaker pattern to prevent cascading failures
// when a decision tool becomes unhealthy. The breaker tracks consecutive
// failures per tool key and temporarily short-circuits calls to failing tools.
package registry

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the current state of a circuit breaker.
type CircuitState int

const (
	// StateClosed means the circuit is closed (normal operation, calls allowed)
	StateClosed CircuitState = iota

	// StateOpen means the circuit is open (too many failures, calls blocked)
	StateOpen

	// StateHalfOpen means the circuit is testing if the tool has recovered
	StateHalfOpen
)

// String returns a human-readable representation of the circuit state.
func (s CircuitState) String() string {
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

// CircuitBreakerConfig holds configuration for circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening
	// the circuit. An intervening success resets the streak to zero.
	// Default: 5
	FailureThreshold int

	// OpenTimeout is the duration to wait before transitioning from Open to
	// Half-Open. During this time all calls to the tool are blocked.
	// Default: 30 seconds
	OpenTimeout time.Duration
}

// DefaultCircuitBreakerConfig returns a configuration with sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// toolCircuit tracks the circuit breaker state for a single tool key.
type toolCircuit struct {
	// key is the name@version this circuit protects
	key string

	// state is the current circuit state
	state CircuitState

	// failures counts consecutive failures in Closed state
	failures int

	// openedAt records when the circuit was opened
	openedAt time.Time

	// probeInFlight is true while the single Half-Open probe call is running.
	// Any other caller during that window is rejected with CircuitOpenError.
	probeInFlight bool

	// lastFailure records the most recent failure time
	lastFailure time.Time
}

// CircuitBreaker manages circuit breakers for multiple tool keys.
//
// Each tool has its own circuit with three states:
//
//   - Closed: normal operation, calls allowed, failure streak counted
//   - Open: too many consecutive failures, all calls blocked until timeout
//   - Half-Open: testing recovery, exactly one probe call allowed
//
// State transitions:
//   - Closed -> Open: after FailureThreshold consecutive failures
//   - Open -> Half-Open: first Allow after OpenTimeout elapses
//   - Half-Open -> Closed: probe succeeds
//   - Half-Open -> Open: probe fails (fresh openedAt)
//
// All transitions for a given key are serialized under a single lock, so two
// concurrent callers can never both observe Half-Open and both send probes.
//
// Thread-safe: all methods can be called concurrently.
type CircuitBreaker struct {
	config   CircuitBreakerConfig
	mu       sync.RWMutex
	circuits map[string]*toolCircuit

	// now is replaceable for tests
	now func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultCircuitBreakerConfig().FailureThreshold
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = DefaultCircuitBreakerConfig().OpenTimeout
	}
	return &CircuitBreaker{
		config:   config,
		circuits: make(map[string]*toolCircuit),
		now:      time.Now,
	}
}

// Allow checks if a call to the tool key is allowed.
//
// Returns nil if the call should proceed, or a *CircuitOpenError if the
// circuit is open. The Open -> Half-Open transition happens here atomically:
// the first caller after the timeout becomes the probe; every other caller
// still sees CircuitOpenError until the probe's outcome is recorded.
func (cb *CircuitBreaker) Allow(key string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	circuit := cb.getOrCreateCircuit(key)

	switch circuit.state {
	case StateClosed:
		return nil

	case StateOpen:
		if cb.now().Sub(circuit.openedAt) >= cb.config.OpenTimeout {
			// Timeout expired - this caller becomes the half-open probe
			circuit.state = StateHalfOpen
			circuit.probeInFlight = true
			return nil
		}
		return cb.openError(circuit)

	case StateHalfOpen:
		if !circuit.probeInFlight {
			// Previous probe outcome was recorded without a transition
			// (should not happen, but fail towards allowing recovery).
			circuit.probeInFlight = true
			return nil
		}
		// A probe is already in flight - reject
		return cb.openError(circuit)

	default:
		return nil
	}
}

// RecordSuccess records a successful call for the tool key.
//
// This resets the failure streak in Closed state and transitions Half-Open
// to Closed after a successful probe.
func (cb *CircuitBreaker) RecordSuccess(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	circuit := cb.getOrCreateCircuit(key)

	switch circuit.state {
	case StateClosed:
		circuit.failures = 0

	case StateHalfOpen:
		circuit.state = StateClosed
		circuit.failures = 0
		circuit.probeInFlight = false

	case StateOpen:
		// Success in Open state shouldn't happen (calls are blocked),
		// but if it does, treat it like a successful probe.
		circuit.state = StateClosed
		circuit.failures = 0
		circuit.probeInFlight = false
	}
}

// RecordFailure records a failed call for the tool key.
//
// This extends the failure streak and may open the circuit when the streak
// reaches the threshold. A failed Half-Open probe reopens the circuit with a
// fresh openedAt.
func (cb *CircuitBreaker) RecordFailure(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	circuit := cb.getOrCreateCircuit(key)
	circuit.lastFailure = cb.now()

	switch circuit.state {
	case StateClosed:
		circuit.failures++
		if circuit.failures >= cb.config.FailureThreshold {
			circuit.state = StateOpen
			circuit.openedAt = cb.now()
		}

	case StateHalfOpen:
		circuit.state = StateOpen
		circuit.openedAt = cb.now()
		circuit.failures = cb.config.FailureThreshold
		circuit.probeInFlight = false

	case StateOpen:
		// Already open - nothing to count, the streak is at threshold.
	}
}

// RecordCancel records a call that ended in caller cancellation: neither a
// success nor a failure, so the streak stands as it was. A cancelled
// Half-Open probe returns the circuit to Open without restamping openedAt,
// so the next caller can be admitted as a fresh probe immediately.
func (cb *CircuitBreaker) RecordCancel(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	circuit := cb.getOrCreateCircuit(key)
	if circuit.state == StateHalfOpen {
		circuit.state = StateOpen
		circuit.probeInFlight = false
	}
}

// GetState returns the current state of the circuit for the given tool key.
//
// This is primarily useful for monitoring and the registry's Health surface.
// An Open circuit whose timeout has elapsed still reports Open: Half-Open
// begins only when Allow admits the probe, so monitoring never shows a probe
// window that no caller has entered.
func (cb *CircuitBreaker) GetState(key string) CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	circuit, exists := cb.circuits[key]
	if !exists {
		return StateClosed
	}
	return circuit.state
}

// Reset resets the circuit for the given tool key to Closed state.
//
// Useful for manual recovery once a tool has been confirmed healthy.
func (cb *CircuitBreaker) Reset(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if circuit, exists := cb.circuits[key]; exists {
		circuit.state = StateClosed
		circuit.failures = 0
		circuit.probeInFlight = false
	}
}

// ResetAll resets all circuits to Closed state.
func (cb *CircuitBreaker) ResetAll() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	for _, circuit := range cb.circuits {
		circuit.state = StateClosed
		circuit.failures = 0
		circuit.probeInFlight = false
	}
}

// Stats returns statistics about all circuits.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	stats := CircuitBreakerStats{
		Total: len(cb.circuits),
		Tools: make(map[string]ToolCircuitStats, len(cb.circuits)),
	}

	for key, circuit := range cb.circuits {
		state := circuit.state

		switch state {
		case StateClosed:
			stats.ClosedCount++
		case StateOpen:
			stats.OpenCount++
		case StateHalfOpen:
			stats.HalfOpenCount++
		}

		stats.Tools[key] = ToolCircuitStats{
			State:       state,
			Failures:    circuit.failures,
			OpenedAt:    circuit.openedAt,
			LastFailure: circuit.lastFailure,
		}
	}

	return stats
}

// getOrCreateCircuit returns the circuit for the key, creating it if needed.
// Must be called with mu locked.
func (cb *CircuitBreaker) getOrCreateCircuit(key string) *toolCircuit {
	circuit, exists := cb.circuits[key]
	if !exists {
		circuit = &toolCircuit{
			key:   key,
			state: StateClosed,
		}
		cb.circuits[key] = circuit
	}
	return circuit
}

// openError builds a CircuitOpenError for the circuit. Must be called with
// mu locked.
func (cb *CircuitBreaker) openError(circuit *toolCircuit) error {
	return &CircuitOpenError{
		Key:        circuit.key,
		OpenedAt:   circuit.openedAt,
		RetryAfter: circuit.openedAt.Add(cb.config.OpenTimeout),
	}
}

// CircuitBreakerStats provides aggregate statistics about all circuits.
type CircuitBreakerStats struct {
	// Total number of tracked tool keys
	Total int

	// ClosedCount is the number of circuits in Closed state
	ClosedCount int

	// OpenCount is the number of circuits in Open state
	OpenCount int

	// HalfOpenCount is the number of circuits in Half-Open state
	HalfOpenCount int

	// Tools maps tool keys to their individual stats
	Tools map[string]ToolCircuitStats
}

// ToolCircuitStats provides statistics about a single tool circuit.
type ToolCircuitStats struct {
	// State is the current circuit state
	State CircuitState

	// Failures is the consecutive failure count
	Failures int

	// OpenedAt is when the circuit was opened (zero if never opened)
	OpenedAt time.Time

	// LastFailure is when the most recent failure occurred (zero if never failed)
	LastFailure time.Time
}

// CircuitOpenError is returned when a circuit is open and calls are blocked.
type CircuitOpenError struct {
	Key        string
	OpenedAt   time.Time
	RetryAfter time.Time
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for tool %s (opened at %s, retry after %s)",
		e.Key, e.OpenedAt.Format(time.RFC3339), e.RetryAfter.Format(time.RFC3339))
}
