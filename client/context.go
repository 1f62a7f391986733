package client

import (
	"context"

	"github.com/geethanjalieswaran/distributed/pool"
)

// submitterKeyFrom returns the key of the worker task the caller is
// running inside, if any. Submissions made from within a task carry it
// so the scheduler can attribute the sub-task to its submitter.
func submitterKeyFrom(ctx context.Context) string {
	key, _ := pool.ExecutionFrom(ctx)
	return key
}
