package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aigoflow/designgen-service/internal/generr"
)

// State is the circuit breaker state.
type State int

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

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	MaxFailures  int
	ResetTimeout time.Duration
}

// DefaultBreakerConfig opens after 5 failures and probes again after a minute.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:  5,
		ResetTimeout: time.Minute,
	}
}

// CircuitBreaker fails fast once the remote dependency has failed MaxFailures
// times, and lets a single trial call through after ResetTimeout.
// One instance is shared by every request that talks to the same dependency.
type CircuitBreaker struct {
	cfg    BreakerConfig
	now    func() time.Time
	logger *slog.Logger

	mu            sync.Mutex
	state         State
	failures      int
	lastFailure   time.Time
	trialInFlight bool
	onChange      []func(from, to State)
}

// BreakerOption customizes a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *CircuitBreaker) { b.now = now }
}

// WithStateChange registers a callback run (outside the lock) on every transition.
func WithStateChange(fn func(from, to State)) BreakerOption {
	return func(b *CircuitBreaker) { b.onChange = append(b.onChange, fn) }
}

// WithBreakerLogger sets the logger.
func WithBreakerLogger(l *slog.Logger) BreakerOption {
	return func(b *CircuitBreaker) { b.logger = l }
}

func NewCircuitBreaker(cfg BreakerConfig, opts ...BreakerOption) *CircuitBreaker {
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = 1
	}
	b := &CircuitBreaker{
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Execute runs op unless the circuit is open.
func (b *CircuitBreaker) Execute(ctx context.Context, op Operation) error {
	trial, err := b.admit()
	if err != nil {
		return err
	}

	opErr := op(ctx)
	b.record(opErr, trial)
	return opErr
}

func (b *CircuitBreaker) admit() (trial bool, err error) {
	b.mu.Lock()
	var from State
	changed := false
	defer func() {
		b.mu.Unlock()
		if changed {
			b.fire(from, StateHalfOpen)
		}
	}()

	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.cfg.ResetTimeout {
			return false, b.openError()
		}
		from, changed = b.state, true
		b.state = StateHalfOpen
		b.trialInFlight = true
		return true, nil
	default:
		if b.trialInFlight {
			return false, b.openError()
		}
		b.trialInFlight = true
		return true, nil
	}
}

func (b *CircuitBreaker) openError() error {
	retryIn := b.cfg.ResetTimeout - b.now().Sub(b.lastFailure)
	if retryIn < 0 {
		retryIn = 0
	}
	return generr.Newf(generr.KindCircuitOpen, "circuit open: remote dependency unavailable, retry in %s", retryIn.Round(time.Millisecond))
}

func (b *CircuitBreaker) record(err error, trial bool) {
	// Cancellation says nothing about the remote side.
	if err != nil && generr.KindOf(err) == generr.KindCancelled {
		if trial {
			b.mu.Lock()
			b.trialInFlight = false
			b.mu.Unlock()
		}
		return
	}

	b.mu.Lock()
	from := b.state
	if trial {
		b.trialInFlight = false
	}
	if err == nil {
		b.failures = 0
		b.state = StateClosed
	} else {
		b.failures++
		b.lastFailure = b.now()
		if from == StateHalfOpen || b.failures >= b.cfg.MaxFailures {
			b.state = StateOpen
		}
	}
	to := b.state
	failures := b.failures
	b.mu.Unlock()

	if from != to {
		if to == StateOpen {
			b.logger.Warn("Circuit opened", "failures", failures, "reset_timeout", b.cfg.ResetTimeout, "error", err)
		} else {
			b.logger.Info("Circuit state changed", "from", from.String(), "to", to.String())
		}
		b.fire(from, to)
	}
}

func (b *CircuitBreaker) fire(from, to State) {
	for _, fn := range b.onChange {
		fn(from, to)
	}
}

// State returns the current state.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset forces the breaker closed.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.trialInFlight = false
	b.mu.Unlock()
	if from != StateClosed {
		b.fire(from, StateClosed)
	}
}
