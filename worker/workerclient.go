package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/geethanjalieswaran/distributed"
	"github.com/geethanjalieswaran/distributed/pool"
	"github.com/geethanjalieswaran/distributed/task"
)

// ClientOption configures a WithClient scope.
type ClientOption func(*clientOptions)

type clientOptions struct {
	timeout time.Duration
	secede  bool
	err     error
}

// WithTimeout bounds how long WithClient waits for a scheduler
// connection before giving up.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithTimeoutString is WithTimeout for configuration read as text. A
// bare number is taken as seconds; otherwise the value must be a
// duration string such as "30s" or "1m30s".
func WithTimeoutString(s string) ClientOption {
	return func(o *clientOptions) {
		d, err := distributed.ParseTimeout(s)
		if err != nil {
			o.err = err
			return
		}
		o.timeout = d
	}
}

// WithSecession controls whether the calling task leaves the pool's
// concurrency accounting for the duration of the scope. It defaults to
// true; pass false when the task will not block on sub-task results and
// should keep holding its slot.
func WithSecession(secede bool) ClientOption {
	return func(o *clientOptions) {
		o.secede = secede
	}
}

// WithClient runs fn with a connection to the scheduler, from inside a
// running task. By default the task secedes first: its pool slot is
// released so tasks it submits through the client cannot deadlock the
// pool waiting for a slot the caller still holds. The slot is restored
// when fn returns, on error and on panic alike.
//
// Outside a task execution WithClient fails with ErrNotInTaskContext.
// If the scheduler connection cannot be established fn never runs and
// the task's accounting is left untouched.
func WithClient(ctx context.Context, fn func(ctx context.Context, c SchedulerClient) error, opts ...ClientOption) error {
	o := clientOptions{secede: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.err != nil {
		return o.err
	}

	key, ok := pool.ExecutionFrom(ctx)
	if !ok {
		return distributed.ErrNotInTaskContext
	}
	w, err := Current()
	if err != nil {
		return fmt.Errorf("%w: %v", distributed.ErrNotInTaskContext, err)
	}

	c, err := w.Client(ctx, o.timeout)
	if err != nil {
		return err
	}

	seceded := false
	if o.secede {
		if err := w.pool.Secede(ctx); err != nil {
			if errors.Is(err, distributed.ErrSecedeOutsidePool) {
				w.logger.Warn("secede skipped, execution not tracked by pool",
					slog.String("task_key", key))
			} else {
				return err
			}
		} else {
			seceded = true
			if t, terr := w.table.Get(key); terr == nil {
				w.extensions.EmitTaskSeceded(ctx, t)
			}
			w.postTransition(key, task.StateLongRunning)
		}
	}
	if seceded {
		defer func() {
			w.pool.Rejoin(ctx)
			if t, terr := w.table.Get(key); terr == nil {
				w.extensions.EmitTaskRejoined(ctx, t)
			}
		}()
	}

	return fn(ctx, c)
}

var localClientWarn sync.Once

// WithLocalClient runs fn with a connection to the scheduler.
//
// Deprecated: use WithClient. This alias will be removed in a future
// release.
func WithLocalClient(ctx context.Context, fn func(ctx context.Context, c SchedulerClient) error, opts ...ClientOption) error {
	localClientWarn.Do(func() {
		slog.Default().Warn("worker.WithLocalClient is deprecated, use worker.WithClient")
	})
	return WithClient(ctx, fn, opts...)
}
