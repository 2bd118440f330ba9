package sdk

import (
	"sync"
	"time"
)

// CircuitState represents the current state of a circuit breaker.
//
// State transitions:
//   - Closed -> Open: when the failure count reaches the threshold inside
//     the rolling reset window
//   - Open -> Half-Open: after the half-open timeout expires
//   - Half-Open -> Closed: on the next success
//   - Half-Open -> Open: on the next failure, restarting the open timer
type CircuitState int

const (
	// CircuitClosed is the normal operating state.
	CircuitClosed CircuitState = iota
	// CircuitOpen blocks all calls immediately.
	CircuitOpen
	// CircuitHalfOpen lets exactly one trial call through to test recovery.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state
func (cs CircuitState) String() string {
	switch cs {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds configuration for circuit breaker behavior.
// All fields have sensible defaults if not specified.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of failures inside the reset window
	// before the circuit opens.
	// Default: 3
	FailureThreshold int

	// ResetTimeout is the rolling window after which the failure count
	// resets if the threshold was not reached.
	// Default: 1m
	ResetTimeout time.Duration

	// HalfOpenTimeout is how long the circuit stays open before letting a
	// trial call through.
	// Default: 30s
	HalfOpenTimeout time.Duration
}

// DefaultCircuitBreakerConfig returns a circuit breaker configuration with
// sensible defaults: 3 failures inside a 1 minute window open the circuit,
// which tests recovery after 30 seconds.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
		HalfOpenTimeout:  30 * time.Second,
	}
}

// CircuitBreaker guards a repeatedly failing operation. When open, calls
// fail fast without invoking the protected function, giving the remote time
// to recover.
//
// Example:
//
//	cb := registry.Get("sdk_settings_fetch")
//	err := cb.Execute(func() error {
//	    return fetchSettings()
//	})
//	if errors.Is(err, sdk.ErrCircuitOpen) {
//	    // Fast-failed, fetchSettings was not invoked
//	}
type CircuitBreaker interface {
	// Execute runs fn if the circuit allows it. Returns an error matching
	// ErrCircuitOpen when the circuit is open. fn's error updates the
	// breaker's bookkeeping.
	Execute(fn func() error) error

	// ExecuteWithFallback is like Execute but runs fallback instead of
	// failing fast when the circuit is open.
	ExecuteWithFallback(fn func() error, fallback func() error) error

	// State returns the current state of the circuit breaker.
	State() CircuitState

	// Reset manually returns the circuit to the closed state.
	Reset()
}

// circuitBreaker is the default implementation
type circuitBreaker struct {
	name     string
	config   CircuitBreakerConfig
	clock    Clock
	observer Observer

	mu            sync.Mutex
	state         CircuitState
	failureCount  int
	windowStart   time.Time
	openedAt      time.Time
	trialInFlight bool
}

// NewCircuitBreaker creates a circuit breaker in the closed state. The
// name identifies the protected operation in observer callbacks.
func NewCircuitBreaker(name string, config CircuitBreakerConfig, clock Clock, observer Observer) CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = time.Minute
	}
	if config.HalfOpenTimeout <= 0 {
		config.HalfOpenTimeout = 30 * time.Second
	}
	if clock == nil {
		clock = SystemClock()
	}
	if observer == nil {
		observer = &NoopObserver{}
	}
	return &circuitBreaker{
		name:        name,
		config:      config,
		clock:       clock,
		observer:    observer,
		state:       CircuitClosed,
		windowStart: clock.Now(),
	}
}

// Execute runs fn if the circuit allows it
func (cb *circuitBreaker) Execute(fn func() error) error {
	return cb.ExecuteWithFallback(fn, nil)
}

// ExecuteWithFallback runs fn if the circuit allows it, or fallback when open
func (cb *circuitBreaker) ExecuteWithFallback(fn func() error, fallback func() error) error {
	allowed, trial, notify := cb.admit()
	notify()

	if !allowed {
		if fallback != nil {
			return fallback()
		}
		return NewError(ErrorTypeCircuitOpen, "circuit breaker is open", ErrCircuitOpen).WithOperation(cb.name)
	}

	err := fn()
	cb.record(err, trial)()
	return err
}

// admit decides whether a call may proceed. The returned func notifies the
// observer of any state change outside the lock.
func (cb *circuitBreaker) admit() (allowed, trial bool, notify func()) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	notify = cb.checkHalfOpenTransition()

	switch cb.state {
	case CircuitOpen:
		return false, false, notify
	case CircuitHalfOpen:
		if cb.trialInFlight {
			return false, false, notify
		}
		cb.trialInFlight = true
		return true, true, notify
	default:
		return true, false, notify
	}
}

// record updates bookkeeping after a call completes and returns the
// observer notification to run outside the lock.
func (cb *circuitBreaker) record(err error, trial bool) func() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial {
		cb.trialInFlight = false
	}

	if err == nil {
		return cb.onSuccess()
	}
	return cb.onFailure()
}

// checkHalfOpenTransition moves open circuits to half-open once the timeout
// elapses. Caller must hold the lock.
func (cb *circuitBreaker) checkHalfOpenTransition() func() {
	if cb.state == CircuitOpen && cb.clock.Now().Sub(cb.openedAt) >= cb.config.HalfOpenTimeout {
		return cb.transitionTo(CircuitHalfOpen)
	}
	return func() {}
}

// onSuccess handles successful executions. Caller must hold the lock.
func (cb *circuitBreaker) onSuccess() func() {
	switch cb.state {
	case CircuitClosed:
		cb.failureCount = 0
		cb.windowStart = cb.clock.Now()
	case CircuitHalfOpen:
		return cb.transitionTo(CircuitClosed)
	}
	return func() {}
}

// onFailure handles failed executions. Caller must hold the lock.
func (cb *circuitBreaker) onFailure() func() {
	now := cb.clock.Now()

	switch cb.state {
	case CircuitClosed:
		// The failure count only accumulates inside the rolling window.
		if now.Sub(cb.windowStart) >= cb.config.ResetTimeout {
			cb.failureCount = 0
			cb.windowStart = now
		}
		cb.failureCount++
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.openedAt = now
			return cb.transitionTo(CircuitOpen)
		}

	case CircuitHalfOpen:
		cb.openedAt = now
		return cb.transitionTo(CircuitOpen)
	}
	return func() {}
}

// transitionTo changes state and returns the observer notification.
// Caller must hold the lock.
func (cb *circuitBreaker) transitionTo(newState CircuitState) func() {
	oldState := cb.state
	if oldState == newState {
		return func() {}
	}

	cb.state = newState
	switch newState {
	case CircuitClosed:
		cb.failureCount = 0
		cb.windowStart = cb.clock.Now()
		cb.trialInFlight = false
	case CircuitHalfOpen:
		cb.trialInFlight = false
	case CircuitOpen:
		cb.failureCount = 0
	}

	return func() {
		cb.observer.OnCircuitBreakerStateChange(cb.name, oldState, newState)
	}
}

// State returns the current state of the circuit
func (cb *circuitBreaker) State() CircuitState {
	cb.mu.Lock()
	notify := cb.checkHalfOpenTransition()
	state := cb.state
	cb.mu.Unlock()
	notify()
	return state
}

// Reset manually resets the circuit to closed state
func (cb *circuitBreaker) Reset() {
	cb.mu.Lock()
	notify := cb.transitionTo(CircuitClosed)
	cb.mu.Unlock()
	notify()
}

// BreakerRegistry manages one circuit breaker per operation key, so that a
// struggling settings endpoint does not block event delivery. The registry
// is owned by the Client rather than a process-wide global, letting tests
// construct isolated instances.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]CircuitBreaker
	config   CircuitBreakerConfig
	clock    Clock
	observer Observer
}

// NewBreakerRegistry creates a registry whose breakers share the given
// configuration.
func NewBreakerRegistry(config CircuitBreakerConfig, clock Clock, observer Observer) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]CircuitBreaker),
		config:   config,
		clock:    clock,
		observer: observer,
	}
}

// Get returns the breaker for the given operation key, creating it on
// first use.
func (r *BreakerRegistry) Get(name string) CircuitBreaker {
	r.mu.RLock()
	cb, exists := r.breakers[name]
	r.mu.RUnlock()
	if exists {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if cb, exists := r.breakers[name]; exists {
		return cb
	}

	cb = NewCircuitBreaker(name, r.config, r.clock, r.observer)
	r.breakers[name] = cb
	return cb
}

// ResetAll resets every breaker to the closed state.
func (r *BreakerRegistry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cb := range r.breakers {
		cb.Reset()
	}
}

// noopCircuitBreaker is a circuit breaker that does nothing
type noopCircuitBreaker struct{}

// Execute always executes the function
func (noopCircuitBreaker) Execute(fn func() error) error { return fn() }

// ExecuteWithFallback always executes the function
func (noopCircuitBreaker) ExecuteWithFallback(fn func() error, fallback func() error) error {
	return fn()
}

// State always returns closed
func (noopCircuitBreaker) State() CircuitState { return CircuitClosed }

// Reset does nothing
func (noopCircuitBreaker) Reset() {}

// NewNoopCircuitBreaker creates a circuit breaker that never blocks.
// Useful for testing or disabling circuit breaking without changing code
// structure.
func NewNoopCircuitBreaker() CircuitBreaker {
	return noopCircuitBreaker{}
}
