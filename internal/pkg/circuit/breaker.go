package circuit

import (
	"errors"
	"sync"
	"time"

	"weexagent/internal/logger"
)

var ErrOpen = errors.New("circuit breaker open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreaker 在连续失败达到阈值后打开，冷却期过后放行一次试探调用。
type CircuitBreaker struct {
	mu            sync.Mutex
	state         State
	failures      int
	threshold     int
	cooldown      time.Duration
	lastFailure   time.Time
	name          string
	nowFn         func() time.Time
	onStateChange func(name string, from, to State)
}

func NewCircuitBreaker(name string, threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &CircuitBreaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		state:     StateClosed,
		nowFn:     time.Now,
	}
}

func (cb *CircuitBreaker) SetStateChangeHandler(handler func(name string, from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = handler
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.nowFn().Sub(cb.lastFailure) >= cb.cooldown {
			cb.transition(StateHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.transition(StateClosed)
	}
	cb.failures = 0
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = cb.nowFn()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.threshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	}
}

// Do runs fn when the breaker allows it and records the outcome.
func (cb *CircuitBreaker) Do(fn func() error) error {
	if !cb.Allow() {
		return ErrOpen
	}
	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	if cb.onStateChange != nil {
		go cb.onStateChange(cb.name, from, to)
		return
	}
	logger.Warnf("[breaker] %s: %s -> %s (failures=%d/%d, cooldown=%s)",
		cb.name, from, to, cb.failures, cb.threshold, cb.cooldown)
}
