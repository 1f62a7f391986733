package worker

import (
	"sync/atomic"

	"github.com/geethanjalieswaran/distributed"
)

// current is the process-wide worker, the ambient counterpart of
// "which worker am I running inside". Task code reaches it through
// Current (usually indirectly via WithClient). A process normally runs
// exactly one worker; Start registers it if the slot is free.
var current atomic.Pointer[Worker]

// Register makes w the process-current worker, replacing any previous
// registration. Tests and embedders running several workers in one
// process choose which one task code sees.
func Register(w *Worker) {
	current.Store(w)
}

// registerDefault claims the process-current slot only if it is empty.
func registerDefault(w *Worker) {
	current.CompareAndSwap(nil, w)
}

// unregisterDefault clears the slot if w holds it.
func unregisterDefault(w *Worker) {
	current.CompareAndSwap(w, nil)
}

// Current returns the process-current worker, or ErrNoWorker if none is
// registered.
func Current() (*Worker, error) {
	w := current.Load()
	if w == nil {
		return nil, distributed.ErrNoWorker
	}
	return w, nil
}
