package task

import (
	"fmt"
	"sync"
	"time"

	"github.com/geethanjalieswaran/distributed"
)

// Table is the worker's in-memory registry of assigned tasks, keyed by
// the scheduler-scoped task key. Safe for concurrent access: every read
// returns a copy of the record, and all field mutation happens through
// Table methods holding the lock.
type Table struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{tasks: make(map[string]*Task)}
}

// Put registers a task. The table stores its own copy; later changes to
// the caller's record are not observed. Fails with ErrDuplicateTask if
// the key is taken.
func (t *Table) Put(task *Task) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.tasks[task.Key]; ok {
		return fmt.Errorf("%w: %q", distributed.ErrDuplicateTask, task.Key)
	}
	cp := *task
	t.tasks[task.Key] = &cp
	return nil
}

// Get returns the task for a key.
// Returns a copy so callers can read without racing with the table.
func (t *Table) Get(key string) (*Task, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	task, ok := t.tasks[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", distributed.ErrTaskNotFound, key)
	}
	cp := *task
	return &cp, nil
}

// Transition moves the task for key into the given state, validating the
// move against the state machine. Returns a copy of the updated task.
func (t *Table) Transition(key string, to State) (*Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, err := t.locked(key)
	if err != nil {
		return nil, err
	}
	if err := t.transitionLocked(task, to); err != nil {
		return nil, err
	}
	cp := *task
	return &cp, nil
}

// MarkStarted moves the task into executing and stamps StartedAt.
// Returns a copy of the updated task.
func (t *Table) MarkStarted(key string) (*Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, err := t.locked(key)
	if err != nil {
		return nil, err
	}
	if err := t.transitionLocked(task, StateExecuting); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	task.StartedAt = &now
	cp := *task
	return &cp, nil
}

// MarkCompleted records the task's result, stamps StoppedAt, and moves
// it into memory. Valid from executing and from long-running: a task
// that seceded keeps the long-running state until it finishes.
// Returns a copy of the updated task.
func (t *Table) MarkCompleted(key string, result []byte) (*Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, err := t.locked(key)
	if err != nil {
		return nil, err
	}
	if err := t.transitionLocked(task, StateMemory); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	task.Result = result
	task.StoppedAt = &now
	cp := *task
	return &cp, nil
}

// MarkErred records the task's failure, stamps StoppedAt, and moves it
// into erred. Returns a copy of the updated task.
func (t *Table) MarkErred(key string, taskErr error) (*Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, err := t.locked(key)
	if err != nil {
		return nil, err
	}
	if err := t.transitionLocked(task, StateErred); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	task.Err = taskErr.Error()
	task.StoppedAt = &now
	cp := *task
	return &cp, nil
}

// Release transitions the task to released and drops it from the table.
// Releasing an unknown key is a no-op: the scheduler may release tasks
// the worker already forgot.
func (t *Table) Release(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if task, ok := t.tasks[key]; ok {
		task.State = StateReleased
		delete(t.tasks, key)
	}
}

// Len returns the number of registered tasks.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tasks)
}

// InState returns the keys of all tasks currently in the given state.
func (t *Table) InState(s State) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var keys []string
	for key, task := range t.tasks {
		if task.State == s {
			keys = append(keys, key)
		}
	}
	return keys
}

// locked returns the live record for key. Caller holds t.mu.
func (t *Table) locked(key string) (*Task, error) {
	task, ok := t.tasks[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", distributed.ErrTaskNotFound, key)
	}
	return task, nil
}

// transitionLocked validates and applies a state change. Caller holds t.mu.
func (t *Table) transitionLocked(task *Task, to State) error {
	if !CanTransition(task.State, to) {
		return fmt.Errorf("%w: %q: %s -> %s",
			distributed.ErrInvalidTransition, task.Key, task.State, to)
	}
	task.State = to
	return nil
}
