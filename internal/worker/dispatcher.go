// Package worker runs pipeline invocations in the background.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/rcliao/ryos-memory/internal/logging"
	"github.com/rcliao/ryos-memory/internal/model"
)

// Runner processes one user's daily notes.
type Runner interface {
	Process(ctx context.Context, userID, timeZone string) (*model.PipelineResult, error)
}

const (
	defaultConcurrency = 4
	defaultRunTimeout  = 2 * time.Minute
)

// Dispatcher submits fire-and-forget pipeline runs. Submissions for a user
// that already has a run in flight in this process join that run. Results
// and errors only reach the log.
type Dispatcher struct {
	runner     Runner
	sem        *semaphore.Weighted
	group      singleflight.Group
	runTimeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithConcurrency bounds how many users are processed at once.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithRunTimeout bounds a single run including the wait for a slot.
func WithRunTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.runTimeout = timeout
		}
	}
}

// NewDispatcher creates a Dispatcher around runner.
func NewDispatcher(runner Runner, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		runner:     runner,
		sem:        semaphore.NewWeighted(defaultConcurrency),
		runTimeout: defaultRunTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit starts processing userID in the background and returns immediately.
// The run does not inherit ctx cancellation, only its values. It reports
// false when the dispatcher is shutting down.
func (d *Dispatcher) Submit(ctx context.Context, userID, timeZone string) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.wg.Add(1)
	d.mu.Unlock()

	// The processor tags its own log lines with the user.
	logger := logging.From(ctx).With("user_id", userID)
	runCtx := context.WithoutCancel(ctx)

	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("background pipeline run panicked", "panic", r)
			}
		}()

		v, err, shared := d.group.Do(userID, func() (any, error) {
			return d.run(runCtx, userID, timeZone)
		})
		if shared {
			logger.Debug("joined in-flight pipeline run")
		}
		if err != nil {
			logger.Error("background pipeline run failed", logging.ErrAttr(err))
			return
		}
		if result, ok := v.(*model.PipelineResult); ok && result.Locked {
			logger.Debug("pipeline run skipped, lock held elsewhere")
		}
	}()
	return true
}

func (d *Dispatcher) run(ctx context.Context, userID, timeZone string) (*model.PipelineResult, error) {
	ctx, cancel := context.WithTimeout(ctx, d.runTimeout)
	defer cancel()

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return nil, goerr.Wrap(err, "no worker slot available", goerr.V("user_id", userID))
	}
	defer d.sem.Release(1)

	return d.runner.Process(ctx, userID, timeZone)
}

// Shutdown stops accepting submissions and waits for in-flight runs until
// ctx is done.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return goerr.Wrap(ctx.Err(), "background runs still in flight")
	}
}
