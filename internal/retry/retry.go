// Package retry runs unreliable calls under a bounded attempt budget with
// exponential backoff and returns a tagged result instead of an error.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrMalformed marks a response that arrived but could not be parsed.
// It is retried like any other failure.
var ErrMalformed = errors.New("malformed response")

// Malformed wraps a parse error so it is recognisable as ErrMalformed.
func Malformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}

// Policy controls attempts and backoff.
type Policy struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	AttemptTimeout time.Duration
}

// DefaultPolicy is used when no preset is given.
var DefaultPolicy = Policy{
	MaxAttempts:    3,
	InitialDelay:   time.Second,
	MaxDelay:       10 * time.Second,
	Multiplier:     2,
	AttemptTimeout: 30 * time.Second,
}

// Generation suits slow language model calls.
var Generation = Policy{
	MaxAttempts:    3,
	InitialDelay:   2 * time.Second,
	MaxDelay:       15 * time.Second,
	Multiplier:     2,
	AttemptTimeout: 240 * time.Second,
}

// ImageSearch suits the image search API.
var ImageSearch = Policy{
	MaxAttempts:    2,
	InitialDelay:   time.Second,
	MaxDelay:       5 * time.Second,
	Multiplier:     2,
	AttemptTimeout: 10 * time.Second,
}

// Result is the outcome of Do. Err is empty on success.
type Result[T any] struct {
	Success   bool
	Data      T
	Err       string
	Attempts  int
	TotalTime time.Duration
}

// Error returns the failure as an error value, or nil on success.
func (r Result[T]) Error() error {
	if r.Success {
		return nil
	}
	return fmt.Errorf("%s (after %d attempts)", r.Err, r.Attempts)
}

type options struct {
	policy Policy
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option customises a single Do call.
type Option func(*options)

// WithPolicy selects the attempt and backoff policy.
func WithPolicy(p Policy) Option {
	return func(o *options) { o.policy = p }
}

// WithLogger reports each failed attempt.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) { o.sleep = fn }
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.MaxDelay > 0 && p.InitialDelay > p.MaxDelay {
		p.InitialDelay = p.MaxDelay
	}
	return p
}

// Do invokes op until it succeeds or the policy's attempts are used up.
// A panic inside op counts as a failed attempt. Do never returns an error
// directly; callers inspect Result.
func Do[T any](ctx context.Context, label string, op func(ctx context.Context) (T, error), opts ...Option) Result[T] {
	o := options{policy: DefaultPolicy, logger: zap.NewNop(), sleep: sleepCtx}
	for _, opt := range opts {
		opt(&o)
	}
	p := o.policy.normalized()

	start := time.Now()
	delay := p.InitialDelay
	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		attempts = attempt
		data, err := runAttempt(ctx, p.AttemptTimeout, op)
		if err == nil {
			if attempt > 1 {
				o.logger.Info("retry succeeded", zap.String("label", label), zap.Int("attempt", attempt))
			}
			return Result[T]{Success: true, Data: data, Attempts: attempt, TotalTime: time.Since(start)}
		}
		lastErr = err

		o.logger.Warn("attempt failed",
			zap.String("label", label),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.MaxAttempts),
			zap.Error(err),
		)

		if attempt == p.MaxAttempts {
			break
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		if err := o.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	o.logger.Error("all attempts failed", zap.String("label", label), zap.Int("attempts", attempts), zap.Error(lastErr))

	msg := "unknown error after all retries"
	if lastErr != nil {
		msg = lastErr.Error()
	}
	return Result[T]{Success: false, Err: msg, Attempts: attempts, TotalTime: time.Since(start)}
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (data T, err error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	data, err = op(attemptCtx)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("operation timed out after %s: %w", timeout, err)
	}
	return data, err
}
