// Package retry runs outbound calls under a bounded retry budget with a
// per-attempt timeout and exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// ErrAttemptTimeout is returned when a single attempt loses the race against
// Policy.Timeout.
var ErrAttemptTimeout = errors.New("attempt timeout")

// jitterFraction caps the random delay added on top of the computed backoff.
const jitterFraction = 0.1

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Timeout     time.Duration
	IsRetryable func(error) bool

	// Sleep and Jitter are test hooks. Jitter returns a value in [0, 1).
	Sleep  func(ctx context.Context, d time.Duration) error
	Jitter func() float64
}

type Config struct {
	MaxAttempts int           `split_words:"true" default:"3"`
	BaseDelay   time.Duration `split_words:"true" default:"500ms"`
	MaxDelay    time.Duration `split_words:"true" default:"8s"`
	Timeout     time.Duration `split_words:"true" default:"45s"`
}

func (c Config) Policy() Policy {
	return Policy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay,
		MaxDelay:    c.MaxDelay,
		Timeout:     c.Timeout,
		IsRetryable: DefaultRetryable,
	}
}

func DefaultPolicy() Policy {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Timeout:     45 * time.Second,
	}.Policy()
}

var transientSignatures = []string{
	"timeout",
	"timed out",
	"reset",
	"refused",
	"429",
	"502",
	"503",
}

// DefaultRetryable reports whether err looks like a transient network or
// rate-limit failure.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrAttemptTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// Backoff returns min(base*2^attempt, max) for a zero-based attempt index.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// Do runs op until it succeeds, returns a non-retryable error, or the attempt
// budget is spent. The last error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalize()

	var zero T
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		out, err := runAttempt(ctx, p.Timeout, op)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, lastErr
		}
		if attempt+1 >= p.MaxAttempts || !p.IsRetryable(err) {
			return zero, lastErr
		}

		delay := Backoff(attempt, p.BaseDelay, p.MaxDelay)
		delay += time.Duration(float64(delay) * jitterFraction * p.Jitter())
		if err := p.Sleep(ctx, delay); err != nil {
			return zero, lastErr
		}
	}
	return zero, lastErr
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

type result[T any] struct {
	val T
	err error
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if timeout <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		v, err := op(attemptCtx)
		done <- result[T]{val: v, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w after %s", ErrAttemptTimeout, timeout)
	}
}

func (p Policy) normalize() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.IsRetryable == nil {
		p.IsRetryable = DefaultRetryable
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	if p.Jitter == nil {
		p.Jitter = rand.Float64
	}
	return p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
