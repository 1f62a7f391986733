package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/geethanjalieswaran/distributed/task"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type taskEnqueuedEntry struct {
	name string
	hook TaskEnqueued
}

type taskStartedEntry struct {
	name string
	hook TaskStarted
}

type taskCompletedEntry struct {
	name string
	hook TaskCompleted
}

type taskErredEntry struct {
	name string
	hook TaskErred
}

type taskSecededEntry struct {
	name string
	hook TaskSeceded
}

type taskLongRunningEntry struct {
	name string
	hook TaskLongRunning
}

type taskRejoinedEntry struct {
	name string
	hook TaskRejoined
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	taskEnqueued    []taskEnqueuedEntry
	taskStarted     []taskStartedEntry
	taskCompleted   []taskCompletedEntry
	taskErred       []taskErredEntry
	taskSeceded     []taskSecededEntry
	taskLongRunning []taskLongRunningEntry
	taskRejoined    []taskRejoinedEntry
	shutdown        []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(TaskEnqueued); ok {
		r.taskEnqueued = append(r.taskEnqueued, taskEnqueuedEntry{name, h})
	}
	if h, ok := e.(TaskStarted); ok {
		r.taskStarted = append(r.taskStarted, taskStartedEntry{name, h})
	}
	if h, ok := e.(TaskCompleted); ok {
		r.taskCompleted = append(r.taskCompleted, taskCompletedEntry{name, h})
	}
	if h, ok := e.(TaskErred); ok {
		r.taskErred = append(r.taskErred, taskErredEntry{name, h})
	}
	if h, ok := e.(TaskSeceded); ok {
		r.taskSeceded = append(r.taskSeceded, taskSecededEntry{name, h})
	}
	if h, ok := e.(TaskLongRunning); ok {
		r.taskLongRunning = append(r.taskLongRunning, taskLongRunningEntry{name, h})
	}
	if h, ok := e.(TaskRejoined); ok {
		r.taskRejoined = append(r.taskRejoined, taskRejoinedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions in registration order.
func (r *Registry) Extensions() []Extension { return r.extensions }

// EmitTaskEnqueued notifies all extensions that implement TaskEnqueued.
func (r *Registry) EmitTaskEnqueued(ctx context.Context, t *task.Task) {
	for _, e := range r.taskEnqueued {
		if err := e.hook.OnTaskEnqueued(ctx, t); err != nil {
			r.logHookError("OnTaskEnqueued", e.name, err)
		}
	}
}

// EmitTaskStarted notifies all extensions that implement TaskStarted.
func (r *Registry) EmitTaskStarted(ctx context.Context, t *task.Task) {
	for _, e := range r.taskStarted {
		if err := e.hook.OnTaskStarted(ctx, t); err != nil {
			r.logHookError("OnTaskStarted", e.name, err)
		}
	}
}

// EmitTaskCompleted notifies all extensions that implement TaskCompleted.
func (r *Registry) EmitTaskCompleted(ctx context.Context, t *task.Task, elapsed time.Duration) {
	for _, e := range r.taskCompleted {
		if err := e.hook.OnTaskCompleted(ctx, t, elapsed); err != nil {
			r.logHookError("OnTaskCompleted", e.name, err)
		}
	}
}

// EmitTaskErred notifies all extensions that implement TaskErred.
func (r *Registry) EmitTaskErred(ctx context.Context, t *task.Task, taskErr error) {
	for _, e := range r.taskErred {
		if err := e.hook.OnTaskErred(ctx, t, taskErr); err != nil {
			r.logHookError("OnTaskErred", e.name, err)
		}
	}
}

// EmitTaskSeceded notifies all extensions that implement TaskSeceded.
func (r *Registry) EmitTaskSeceded(ctx context.Context, t *task.Task) {
	for _, e := range r.taskSeceded {
		if err := e.hook.OnTaskSeceded(ctx, t); err != nil {
			r.logHookError("OnTaskSeceded", e.name, err)
		}
	}
}

// EmitTaskLongRunning notifies all extensions that implement TaskLongRunning.
func (r *Registry) EmitTaskLongRunning(ctx context.Context, t *task.Task) {
	for _, e := range r.taskLongRunning {
		if err := e.hook.OnTaskLongRunning(ctx, t); err != nil {
			r.logHookError("OnTaskLongRunning", e.name, err)
		}
	}
}

// EmitTaskRejoined notifies all extensions that implement TaskRejoined.
func (r *Registry) EmitTaskRejoined(ctx context.Context, t *task.Task) {
	for _, e := range r.taskRejoined {
		if err := e.hook.OnTaskRejoined(ctx, t); err != nil {
			r.logHookError("OnTaskRejoined", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block execution.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
