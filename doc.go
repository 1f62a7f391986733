// Package distributed is the worker-side runtime for a cluster scheduler.
// It executes tasks dispatched by the scheduler on a fixed-capacity pool
// and implements the secession protocol: a running task may temporarily
// leave the pool's concurrency accounting, act as a client of the
// scheduler (submitting and gathering sub-tasks), and rejoin when done —
// all without deadlocking the pool.
//
// The root package holds configuration, timeout parsing, and sentinel
// errors. Subsystems live in their own packages:
//
//   - pool: capacity tracking with Secede/Rejoin primitives
//   - task: per-task state machine and the worker's task table
//   - worker: the worker runtime, its control loop, and the scoped
//     nested-client entry point worker.WithClient
//   - client: the scheduler client (submit/gather over WebSocket)
//   - wire: the frame envelope and codecs shared by client and scheduler
//
// A task body that needs to fan out looks like this:
//
//	func run(ctx context.Context) error {
//	    return worker.WithClient(ctx, func(ctx context.Context, c worker.SchedulerClient) error {
//	        a, err := c.Submit(ctx, "inc", 1)
//	        if err != nil {
//	            return err
//	        }
//	        b, err := c.Submit(ctx, "dec", 1)
//	        if err != nil {
//	            return err
//	        }
//	        _, err = c.Gather(ctx, a, b)
//	        return err
//	    })
//	}
//
// While the callback runs, the calling task is in the long-running state
// and holds no pool slot, so queued tasks (including the ones it just
// submitted, if routed back to the same worker) can still make progress.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package distributed
