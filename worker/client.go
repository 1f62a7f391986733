package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/geethanjalieswaran/distributed"
	"github.com/geethanjalieswaran/distributed/client"
)

// SchedulerClient is the slice of the scheduler client surface exposed
// to task code: submit further tasks and gather their results.
type SchedulerClient interface {
	Submit(ctx context.Context, name string, payload any) (*client.Future, error)
	Gather(ctx context.Context, futures ...*client.Future) ([]client.Result, error)
	Close() error
}

// DialFunc dials a scheduler client. The context carries the connect
// timeout.
type DialFunc func(ctx context.Context, url string) (SchedulerClient, error)

func defaultDial(logger *slog.Logger) DialFunc {
	return func(ctx context.Context, url string) (SchedulerClient, error) {
		return client.DialContext(ctx, url, client.WithLogger(logger))
	}
}

// Client returns the worker's scheduler client, dialing it on first
// use. All tasks in the process share the one cached instance; first-time
// creation is single-flighted so concurrent first callers never open
// duplicate connections. A non-positive timeout falls back to the
// worker's configured connect timeout. When no client can be obtained
// within the timeout the error is ErrConnectionTimeout.
func (w *Worker) Client(ctx context.Context, timeout time.Duration) (SchedulerClient, error) {
	w.clientMu.RLock()
	c := w.client
	w.clientMu.RUnlock()
	if c != nil {
		return c, nil
	}

	if timeout <= 0 {
		timeout = w.connectTimeout
	}

	v, err, _ := w.sf.Do("scheduler-client", func() (any, error) {
		// A racing caller may have populated the cache while we waited
		// for the flight slot.
		w.clientMu.RLock()
		cached := w.client
		w.clientMu.RUnlock()
		if cached != nil {
			return cached, nil
		}

		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		dialed, dialErr := w.dial(dialCtx, w.schedulerAddr)
		if dialErr != nil {
			if errors.Is(dialErr, context.DeadlineExceeded) || dialCtx.Err() != nil {
				return nil, fmt.Errorf("%w: after %s: %v",
					distributed.ErrConnectionTimeout, timeout, dialErr)
			}
			return nil, fmt.Errorf("worker: dial scheduler: %w", dialErr)
		}

		w.clientMu.Lock()
		w.client = dialed
		w.clientMu.Unlock()
		return dialed, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(SchedulerClient), nil
}
