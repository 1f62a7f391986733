package distributed

import "errors"

var (
	// Client acquisition errors.
	ErrConnectionTimeout = errors.New("distributed: no scheduler client available within timeout")
	ErrNotInTaskContext  = errors.New("distributed: not running inside a worker task")
	ErrClientClosed      = errors.New("distributed: scheduler client closed")

	// Pool accounting errors.
	ErrSecedeOutsidePool = errors.New("distributed: secede called outside a pool-accounted execution")
	ErrPoolStopped       = errors.New("distributed: pool not running")
	ErrQueueFull         = errors.New("distributed: pool queue full")

	// Task state errors.
	ErrTaskNotFound      = errors.New("distributed: task not found")
	ErrDuplicateTask     = errors.New("distributed: task already registered")
	ErrInvalidTransition = errors.New("distributed: invalid task state transition")

	// Configuration errors.
	ErrBadTimeout = errors.New("distributed: unparseable timeout")

	// Worker lifecycle errors.
	ErrWorkerStopped = errors.New("distributed: worker not running")
	ErrNoWorker      = errors.New("distributed: no worker registered in this process")
)
