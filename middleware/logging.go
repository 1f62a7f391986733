package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/geethanjalieswaran/distributed/task"
)

// Logging returns middleware that logs task start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) error {
		logger.Info("task started",
			slog.String("task_key", t.Key),
			slog.String("task_name", t.Name),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("task erred",
				slog.String("task_key", t.Key),
				slog.String("task_name", t.Name),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("task completed",
				slog.String("task_key", t.Key),
				slog.String("task_name", t.Name),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
