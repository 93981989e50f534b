package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the state of the circuit breaker.
type State int

const (
	// Closed is the initial state where requests are allowed.
	Closed State = iota
	// Open is when the circuit has tripped and requests are blocked.
	Open
	// HalfOpen allows a limited number of trial requests to probe recovery.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Open:
		return "Open"
	case HalfOpen:
		return "Half-Open"
	default:
		return "Unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is in the Open state.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker guards calls to an unreliable downstream service.
type CircuitBreaker interface {
	// Execute runs the request if the circuit is closed or half-open.
	Execute(req func() (interface{}, error)) (interface{}, error)
	// State returns the current state.
	State() State
}

type breaker struct {
	failureThreshold     uint32
	successThreshold     uint32
	timeout              time.Duration // time spent Open before probing
	consecutiveSuccesses uint32
	consecutiveFailures  uint32
	lastErrorTime        time.Time
	state                State
	mutex                sync.Mutex
}

// New creates a CircuitBreaker that opens after failureThreshold consecutive
// failures, stays open for timeout, and closes again after successThreshold
// consecutive successes in the half-open state.
func New(failureThreshold, successThreshold uint32, timeout time.Duration) CircuitBreaker {
	return &breaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		state:            Closed,
	}
}

func (cb *breaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

func (cb *breaker) Execute(req func() (interface{}, error)) (interface{}, error) {
	cb.mutex.Lock()

	if cb.state == Open && time.Since(cb.lastErrorTime) > cb.timeout {
		cb.state = HalfOpen
		cb.consecutiveSuccesses = 0
	}

	if cb.state == Open {
		cb.mutex.Unlock()
		return nil, ErrCircuitOpen
	}
	cb.mutex.Unlock()

	res, err := req()
	if err != nil {
		cb.onFailure()
		return nil, err
	}
	cb.onSuccess()
	return res, nil
}

func (cb *breaker) onSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case HalfOpen:
		cb.consecutiveSuccesses++
		if cb.consecutiveSuccesses >= cb.successThreshold {
			cb.state = Closed
			cb.consecutiveFailures = 0
			cb.consecutiveSuccesses = 0
		}
	case Closed:
		cb.consecutiveFailures = 0
	}
}

func (cb *breaker) onFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case HalfOpen:
		cb.trip()
	case Closed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.failureThreshold {
			cb.trip()
		}
	}
}

// trip opens the circuit. Caller must hold the mutex.
func (cb *breaker) trip() {
	cb.state = Open
	cb.lastErrorTime = time.Now()
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
}
