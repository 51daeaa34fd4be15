package resilience

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/aigoflow/designgen-service/internal/generr"
)

// Operation is a single attempt at a remote call.
type Operation func(ctx context.Context) error

// RetryPolicy configures the retry wrapper.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Retryable     []generr.Kind
}

// DefaultRetryPolicy returns 3 attempts with 1s/2s waits, capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2,
		Retryable:     []generr.Kind{generr.KindRateLimit, generr.KindNetwork},
	}
}

// Delay returns the wait after the given failed attempt (1-based):
// min(BaseDelay * BackoffFactor^(attempt-1), MaxDelay).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.BackoffFactor, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// IsRetryable reports whether err deserves another attempt under this policy.
// Tagged errors are decided by kind; the message heuristic only applies to
// errors nobody classified.
func (p RetryPolicy) IsRetryable(err error) bool {
	kind := generr.KindOf(err)
	if slices.Contains(p.Retryable, kind) {
		return true
	}
	return kind == generr.KindUnknown && generr.LooksTransient(err)
}

// AttemptInfo describes a finished attempt for hooks.
type AttemptInfo struct {
	Attempt   int
	Err       error
	Retrying  bool
	NextDelay time.Duration
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Retrier runs operations with bounded, strictly sequential retries.
type Retrier struct {
	policy RetryPolicy
	sleep  SleepFunc
	hooks  []func(AttemptInfo)
	logger *slog.Logger
}

// RetrierOption customizes a Retrier.
type RetrierOption func(*Retrier)

// WithSleep replaces the wait between attempts. Tests use it to record delays.
func WithSleep(fn SleepFunc) RetrierOption {
	return func(r *Retrier) { r.sleep = fn }
}

// WithAttemptHook registers a callback invoked after every attempt.
func WithAttemptHook(fn func(AttemptInfo)) RetrierOption {
	return func(r *Retrier) { r.hooks = append(r.hooks, fn) }
}

// WithRetryLogger sets the logger.
func WithRetryLogger(l *slog.Logger) RetrierOption {
	return func(r *Retrier) { r.logger = l }
}

func NewRetrier(policy RetryPolicy, opts ...RetrierOption) *Retrier {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.BackoffFactor <= 0 {
		policy.BackoffFactor = 1
	}
	r := &Retrier{
		policy: policy,
		sleep:  sleepContext,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the configured policy.
func (r *Retrier) Policy() RetryPolicy {
	return r.policy
}

// Do calls op up to MaxAttempts times. The last error is returned unchanged.
func (r *Retrier) Do(ctx context.Context, op Operation) error {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return generr.Wrap(generr.KindCancelled, err, "retry aborted")
		}

		lastErr = op(ctx)
		if lastErr == nil {
			r.notify(AttemptInfo{Attempt: attempt})
			if attempt > 1 {
				r.logger.Info("Retry succeeded", "attempt", attempt)
			}
			return nil
		}

		last := attempt == r.policy.MaxAttempts
		retrying := !last && r.policy.IsRetryable(lastErr)
		info := AttemptInfo{Attempt: attempt, Err: lastErr, Retrying: retrying}
		if retrying {
			info.NextDelay = r.policy.Delay(attempt)
		}
		r.notify(info)

		if !retrying {
			if !last {
				r.logger.Debug("Non-retryable failure",
					"attempt", attempt,
					"kind", generr.KindOf(lastErr),
					"error", lastErr)
			}
			return lastErr
		}

		r.logger.Warn("Attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", r.policy.MaxAttempts,
			"delay", info.NextDelay,
			"kind", generr.KindOf(lastErr),
			"error", lastErr)

		if err := r.sleep(ctx, info.NextDelay); err != nil {
			return generr.Wrap(generr.KindCancelled, err, "retry aborted")
		}
	}
	return lastErr
}

func (r *Retrier) notify(info AttemptInfo) {
	for _, h := range r.hooks {
		h(info)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
