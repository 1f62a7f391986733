// Package middleware provides the cross-cutting wrappers a worker runs
// every task handler through: panic recovery, execution logging, and
// OpenTelemetry tracing, composed with Chain.
package middleware

import (
	"context"

	"github.com/geethanjalieswaran/distributed/task"
)

// Handler is the terminal function that runs the task's registered
// handler.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It is given a
// snapshot of the task under execution and the next link in the chain;
// not calling next short-circuits the task.
type Middleware func(ctx context.Context, t *task.Task, next Handler) error

// Chain folds middleware into one. The first middleware listed is the
// outermost wrapper, so Chain(logging, recover) logs around the
// recovery guard, which in turn guards the handler.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, t, prev)
			}
		}
		return h(ctx)
	}
}
