// Package ext defines the extension system for the worker runtime.
// Extensions are notified of task lifecycle events (started, seceded,
// completed, etc.) and can react to them, for example by recording
// metrics or emitting audit logs.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about. The worker's own scheduling loop
// observes the long-running transition through the same mechanism.
package ext

import (
	"context"
	"time"

	"github.com/geethanjalieswaran/distributed/task"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// TaskEnqueued is called after a task is accepted by the worker.
type TaskEnqueued interface {
	OnTaskEnqueued(ctx context.Context, t *task.Task) error
}

// TaskStarted is called when the pool begins executing a task.
type TaskStarted interface {
	OnTaskStarted(ctx context.Context, t *task.Task) error
}

// TaskCompleted is called after a task finishes successfully.
type TaskCompleted interface {
	OnTaskCompleted(ctx context.Context, t *task.Task, elapsed time.Duration) error
}

// TaskErred is called when a task fails.
type TaskErred interface {
	OnTaskErred(ctx context.Context, t *task.Task, taskErr error) error
}

// TaskSeceded is called when a task's execution secedes from pool
// accounting.
type TaskSeceded interface {
	OnTaskSeceded(ctx context.Context, t *task.Task) error
}

// TaskLongRunning is called when the worker's control loop applies the
// executing to long-running transition for a seceded task.
type TaskLongRunning interface {
	OnTaskLongRunning(ctx context.Context, t *task.Task) error
}

// TaskRejoined is called when a seceded task's execution rejoins pool
// accounting.
type TaskRejoined interface {
	OnTaskRejoined(ctx context.Context, t *task.Task) error
}

// Shutdown is called when the worker is shutting down gracefully.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
