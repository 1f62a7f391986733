// Package task defines the worker's view of a unit of work: the Task
// record, its lifecycle state machine, and the in-memory Table the worker
// keeps its assigned tasks in.
package task

import (
	"time"

	"github.com/geethanjalieswaran/distributed/id"
)

// State represents the lifecycle state of a task on a worker.
type State string

const (
	// StateWaiting means the task is known to the worker but its inputs
	// are not yet available.
	StateWaiting State = "waiting"
	// StateReady means the task is runnable and queued for the pool.
	StateReady State = "ready"
	// StateExecuting means the task is running and counted against the
	// pool's concurrency limit.
	StateExecuting State = "executing"
	// StateLongRunning means the task is running but has seceded from
	// pool accounting. It may submit and await sub-tasks indefinitely
	// without being treated as stuck.
	StateLongRunning State = "long-running"
	// StateMemory means the task finished and its result is held by the
	// worker.
	StateMemory State = "memory"
	// StateErred means the task failed.
	StateErred State = "erred"
	// StateReleased means the scheduler no longer needs the task; its
	// record may be dropped.
	StateReleased State = "released"
)

// transitions lists the legal moves of the worker-side state machine.
// Any state may move to released (the scheduler can forget a task at any
// point); long-running is only reachable from executing, via secession.
var transitions = map[State][]State{
	StateWaiting:     {StateReady, StateReleased},
	StateReady:       {StateExecuting, StateErred, StateReleased},
	StateExecuting:   {StateLongRunning, StateMemory, StateErred, StateReleased},
	StateLongRunning: {StateMemory, StateErred, StateReleased},
	StateMemory:      {StateReleased},
	StateErred:       {StateReleased},
	StateReleased:    {},
}

// CanTransition reports whether the move from one state to another is
// legal.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a state has no outgoing transitions other
// than released.
func (s State) Terminal() bool {
	return s == StateMemory || s == StateErred || s == StateReleased
}

// Task is one unit of work owned by a worker. The scheduler addresses it
// by Key; the worker assigns the ID.
type Task struct {
	ID      id.TaskID `json:"id"`
	Key     string    `json:"key"`
	Name    string    `json:"name"`
	Payload []byte    `json:"payload,omitempty"`
	State   State     `json:"state"`

	// Result and Err are set when the task reaches memory or erred.
	Result []byte `json:"result,omitempty"`
	Err    string `json:"error,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
}

// New creates a task in the waiting state.
func New(key, name string, payload []byte) *Task {
	return &Task{
		ID:        id.NewTaskID(),
		Key:       key,
		Name:      name,
		Payload:   payload,
		State:     StateWaiting,
		CreatedAt: time.Now().UTC(),
	}
}
