// Package monitor supervises executing actions through an
// Observe-Orient-Decide-Act loop, tracks per-action aggregate metrics, and
// suppresses repeatedly failing actions with per-action circuit breakers.
package monitor

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the current state of a circuit breaker.
type CircuitState int

const (
	// StateClosed means the circuit is closed (normal operation, the action
	// is eligible for execution).
	StateClosed CircuitState = iota

	// StateOpen means the circuit is open (too many failures, the action is
	// ineligible until the cooldown elapses).
	StateOpen

	// StateHalfOpen means the circuit is testing recovery: exactly one
	// trial execution is allowed to decide the next transition.
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

// actionCircuit tracks the circuit breaker state for a single action name.
type actionCircuit struct {
	actionName string
	state      CircuitState
	failures   int
	openedAt   time.Time
	// halfOpenTrials counts trial executions admitted in half-open state.
	halfOpenTrials int
	lastFailure    time.Time
}

// CircuitBreaker manages circuit breakers for all action names.
//
// Each action has its own circuit with three states:
//
//   - Closed: normal operation, failures counted, reset on success
//   - Open: failure threshold reached, action blocked until cooldown elapses
//   - Half-Open: one trial allowed; success closes, failure reopens
//
// Circuits are created lazily on first use. Thread-safe: all methods can be
// called concurrently.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration
	mu        sync.RWMutex
	circuits  map[string]*actionCircuit
}

// NewCircuitBreaker creates a breaker with the given failure threshold and
// open-state cooldown.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		circuits:  make(map[string]*actionCircuit),
	}
}

// Allow checks if executing the named action is permitted.
//
// Returns nil if the execution should proceed, or a CircuitOpenError if the
// circuit is open. An open circuit whose cooldown has elapsed transitions to
// half-open here and admits a single trial.
func (cb *CircuitBreaker) Allow(actionName string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	circuit := cb.getOrCreate(actionName)

	switch circuit.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(circuit.openedAt) >= cb.cooldown {
			circuit.state = StateHalfOpen
			circuit.halfOpenTrials = 1
			return nil
		}
		return &CircuitOpenError{
			ActionName: actionName,
			OpenedAt:   circuit.openedAt,
			RetryAfter: circuit.openedAt.Add(cb.cooldown),
		}

	case StateHalfOpen:
		// Exactly one trial execution decides the next transition.
		if circuit.halfOpenTrials < 1 {
			circuit.halfOpenTrials++
			return nil
		}
		return &CircuitOpenError{
			ActionName: actionName,
			OpenedAt:   circuit.openedAt,
			RetryAfter: circuit.openedAt.Add(cb.cooldown),
		}

	default:
		return nil
	}
}

// RecordSuccess records a successful execution of the named action.
// Resets the failure counter in closed state and closes a half-open circuit.
func (cb *CircuitBreaker) RecordSuccess(actionName string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	circuit := cb.getOrCreate(actionName)

	switch circuit.state {
	case StateClosed:
		circuit.failures = 0

	case StateHalfOpen, StateOpen:
		// Trial succeeded (or a stale success arrived): close the circuit.
		circuit.state = StateClosed
		circuit.failures = 0
		circuit.halfOpenTrials = 0
	}
}

// RecordFailure records a failed execution of the named action.
// Opens the circuit exactly when the consecutive failure count reaches the
// threshold; a half-open failure reopens immediately.
func (cb *CircuitBreaker) RecordFailure(actionName string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	circuit := cb.getOrCreate(actionName)
	circuit.lastFailure = time.Now()

	switch circuit.state {
	case StateClosed:
		circuit.failures++
		if circuit.failures >= cb.threshold {
			circuit.state = StateOpen
			circuit.openedAt = time.Now()
		}

	case StateHalfOpen:
		circuit.state = StateOpen
		circuit.openedAt = time.Now()
		circuit.failures = cb.threshold
		circuit.halfOpenTrials = 0

	case StateOpen:
		// Already open; the counter stays at threshold.
	}
}

// State returns the current circuit state for the named action.
// An open circuit whose cooldown has elapsed reports half-open, though the
// actual transition happens in Allow.
func (cb *CircuitBreaker) State(actionName string) CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	circuit, exists := cb.circuits[actionName]
	if !exists {
		return StateClosed
	}

	if circuit.state == StateOpen && time.Since(circuit.openedAt) >= cb.cooldown {
		return StateHalfOpen
	}
	return circuit.state
}

// FailureCount returns the consecutive failure count for the named action.
func (cb *CircuitBreaker) FailureCount(actionName string) int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if circuit, exists := cb.circuits[actionName]; exists {
		return circuit.failures
	}
	return 0
}

// Reset resets the circuit for the named action to closed.
func (cb *CircuitBreaker) Reset(actionName string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if circuit, exists := cb.circuits[actionName]; exists {
		circuit.state = StateClosed
		circuit.failures = 0
		circuit.halfOpenTrials = 0
	}
}

// BreakerStats provides aggregate statistics over all circuits.
type BreakerStats struct {
	// Total number of tracked action circuits.
	Total int

	// ClosedCount is the number of circuits in closed state.
	ClosedCount int

	// OpenCount is the number of circuits in open state.
	OpenCount int

	// HalfOpenCount is the number of circuits in half-open state.
	HalfOpenCount int

	// Actions maps action names to their individual stats.
	Actions map[string]ActionCircuitStats
}

// ActionCircuitStats describes a single action's circuit.
type ActionCircuitStats struct {
	State       CircuitState
	Failures    int
	OpenedAt    time.Time
	LastFailure time.Time
}

// Stats returns a snapshot of all circuits, for reports and health checks.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	stats := BreakerStats{
		Total:   len(cb.circuits),
		Actions: make(map[string]ActionCircuitStats, len(cb.circuits)),
	}

	for name, circuit := range cb.circuits {
		s := circuit.state
		if s == StateOpen && time.Since(circuit.openedAt) >= cb.cooldown {
			s = StateHalfOpen
		}

		switch s {
		case StateClosed:
			stats.ClosedCount++
		case StateOpen:
			stats.OpenCount++
		case StateHalfOpen:
			stats.HalfOpenCount++
		}

		stats.Actions[name] = ActionCircuitStats{
			State:       s,
			Failures:    circuit.failures,
			OpenedAt:    circuit.openedAt,
			LastFailure: circuit.lastFailure,
		}
	}

	return stats
}

// getOrCreate returns the circuit for the action, creating it if needed.
// Must be called with mu locked.
func (cb *CircuitBreaker) getOrCreate(actionName string) *actionCircuit {
	circuit, exists := cb.circuits[actionName]
	if !exists {
		circuit = &actionCircuit{
			actionName: actionName,
			state:      StateClosed,
		}
		cb.circuits[actionName] = circuit
	}
	return circuit
}

// CircuitOpenError is returned when a circuit is open and the action is
// ineligible for execution.
type CircuitOpenError struct {
	ActionName string
	OpenedAt   time.Time
	RetryAfter time.Time
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for action %s (opened at %s, retry after %s)",
		e.ActionName, e.OpenedAt.Format(time.RFC3339), e.RetryAfter.Format(time.RFC3339))
}
