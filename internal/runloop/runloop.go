// Package runloop drives the controller scheduler as a set of parallel
// cooperative tasks (§5), built on go.gazette.dev/core/task.Group the
// way go/sql-driver and go/flow-ingester drive their own server loops.
package runloop

import (
	"context"
	"time"

	"github.com/estuary/flow-controller/internal/scheduler"
	log "github.com/sirupsen/logrus"
	"go.gazette.dev/core/task"
)

// idleBackoff is how long a worker sleeps after finding no due work,
// before polling again.
const idleBackoff = 500 * time.Millisecond

// tickBudget bounds a single controller tick, per §5: "every RPC and
// every store call takes a deadline inherited from the controller tick
// budget (default 5 minutes)".
const tickBudget = 5 * time.Minute

// Run starts workerCount goroutines under tasks, each looping
// RunOnce/sleep until tasks' context is cancelled. At most one
// controller run per name proceeds at any moment, enforced by the
// scheduler's lease, not by this loop — workers race harmlessly for
// the same due job.
func Run(tasks *task.Group, dispatcher *scheduler.Dispatcher, workerCount int) {
	for i := 0; i < workerCount; i++ {
		var worker = i
		tasks.Queue("controller-worker", func() error {
			return runWorker(tasks.Context(), dispatcher, worker)
		})
	}
}

func runWorker(ctx context.Context, dispatcher *scheduler.Dispatcher, worker int) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var tickCtx, cancel = context.WithTimeout(ctx, tickBudget)
		did, err := dispatcher.RunOnce(tickCtx)
		cancel()

		if err != nil {
			// A cancellation or deadline exceeded aborts the transaction and
			// releases the lease without writing a status row (§5); any other
			// store error is logged and retried on the next poll.
			if ctx.Err() != nil {
				return nil
			}
			log.WithError(err).WithField("worker", worker).Error("controller worker tick failed")
		}
		if !did {
			select {
			case <-time.After(idleBackoff):
			case <-ctx.Done():
				return nil
			}
		}
	}
}
