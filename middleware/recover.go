package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/geethanjalieswaran/distributed/task"
)

// Recover turns a panic anywhere below it in the chain into an ordinary
// task error, so one panicking handler settles its task as erred instead
// of taking the worker process down. The panic value and stack are
// logged at error level.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("task handler panicked",
					slog.String("task_key", t.Key),
					slog.String("task_name", t.Name),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic in task %s: %v", t.Key, r)
			}
		}()
		return next(ctx)
	}
}
