package enrichment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runner starts detached background tasks. Each task gets its own timeout
// and is never tied to the request that scheduled it.
type Runner struct {
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewRunner creates a Runner whose tasks are cancelled after timeout.
func NewRunner(timeout time.Duration, logger *zap.Logger) *Runner {
	return &Runner{timeout: timeout, logger: logger}
}

// Go runs fn in the background. Errors and panics are logged only.
func (r *Runner) Go(name string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		start := time.Now()
		err := r.run(ctx, fn)
		if err != nil {
			r.logger.Warn("background task failed",
				zap.String("task", name),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err),
			)
			return
		}
		r.logger.Debug("background task finished",
			zap.String("task", name),
			zap.Duration("elapsed", time.Since(start)),
		)
	}()
}

func (r *Runner) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}

// Wait blocks until every started task returns or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
