package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Result is the gathered outcome of a submitted task.
type Result struct {
	Key  string
	Data json.RawMessage
}

// Future is a handle to a submitted task's eventual result. It is
// resolved by the client's read loop when the scheduler delivers the
// task's result event.
type Future struct {
	key string

	once   sync.Once
	done   chan struct{}
	result Result
	err    error
}

func newFuture(key string) *Future {
	return &Future{key: key, done: make(chan struct{})}
}

// ResolvedFuture returns a future for key that is already settled with
// data. It exists for scheduler-client implementations other than
// Client, such as in-process fakes.
func ResolvedFuture(key string, data json.RawMessage) *Future {
	f := newFuture(key)
	f.resolve(data, "")
	return f
}

// Key returns the scheduler-assigned task key this future tracks.
func (f *Future) Key() string { return f.key }

// Done returns a channel closed when the future resolves.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the future resolves or the context is done.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// resolve settles the future exactly once; later calls are ignored.
func (f *Future) resolve(data json.RawMessage, errMsg string) {
	f.once.Do(func() {
		if errMsg != "" {
			f.err = fmt.Errorf("client: task %s erred: %s", f.key, errMsg)
		} else {
			f.result = Result{Key: f.key, Data: data}
		}
		close(f.done)
	})
}

// fail settles the future with an error if it is still pending.
func (f *Future) fail(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}
