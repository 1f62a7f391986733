package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc is a type-erased task handler that accepts a raw JSON
// payload and returns a raw JSON result. The typed Definition[T] is
// converted to a HandlerFunc at registration time by closing over JSON
// unmarshal + the typed handler.
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Registry maps task names to type-erased handler functions.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register adds a raw handler under a name, replacing any previous one.
func (r *Registry) Register(name string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Get returns the handler for the given task name.
// Returns false if no handler is registered.
func (r *Registry) Get(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns all registered task names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Definition is a typed task definition with a handler function.
// T is the payload type (must be JSON-serializable).
type Definition[T any] struct {
	// Name is the unique identifier for this task type.
	Name string

	// Handler is the function that computes the task's result.
	Handler func(ctx context.Context, payload T) (any, error)
}

// NewDefinition creates a typed task definition.
func NewDefinition[T any](name string, handler func(ctx context.Context, payload T) (any, error)) *Definition[T] {
	return &Definition[T]{Name: name, Handler: handler}
}

// RegisterDefinition registers a typed task definition. The generic
// handler is wrapped in a closure that JSON-unmarshals the payload into
// T before calling the typed handler and JSON-marshals its result.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, payload []byte) ([]byte, error) {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return nil, fmt.Errorf("unmarshal payload for task %q: %w", def.Name, err)
			}
		}
		out, err := def.Handler(ctx, t)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, nil
		}
		raw, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("marshal result for task %q: %w", def.Name, err)
		}
		return raw, nil
	}

	r.Register(def.Name, handler)
}
