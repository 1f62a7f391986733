package pool

import "context"

// executionKey carries the key of the task executing on the current
// goroutine. It replaces thread-local state: every operation that needs
// the current task key reads it from the context the pool attached when
// it started the unit.
type executionKey struct{}

// WithExecution returns a context carrying the execution key of a task.
// The pool attaches this to each unit's context before calling Run;
// tests and embedders may attach it directly.
func WithExecution(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, executionKey{}, key)
}

// ExecutionFrom returns the task key bound to this context, if any.
func ExecutionFrom(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(executionKey{}).(string)
	return key, ok
}
