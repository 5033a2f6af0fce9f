package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/estuary/flow-controller/internal/ids"
	"github.com/estuary/flow-controller/internal/models"
	"github.com/estuary/flow-controller/internal/ops"
	"github.com/estuary/flow-controller/internal/store"
	"github.com/sirupsen/logrus"
)

// TickResult is what an Executor returns after reconciling one name
// (§4.8).
type TickResult struct {
	Status  interface{} // marshaled into the controller job's status column
	NextRun *time.Time  // nil means "no pending work" (I6)
	Err     error
	// AfterComplete, if set, runs once this tick's status has been
	// durably written back to controller_jobs. A hard delete of the
	// live spec (§4.10) must happen after that write, since it cascades
	// to the controller_jobs row Complete's optimistic-lock UPDATE
	// still needs to find.
	AfterComplete func(ctx context.Context) error
}

// Executor reconciles a single leased controller job. Implementations
// live in internal/executors, one per catalog type (§4.8).
type Executor interface {
	Reconcile(ctx context.Context, job store.Leased) TickResult
}

// Dispatcher routes a leased job to the Executor for its catalog type.
type Dispatcher struct {
	Jobs      *store.ControllerJobStore
	Clock     ids.Clock
	Executors map[models.CatalogType]Executor
}

// RunOnce claims and runs at most one due controller job, returning
// true if work was done. This is the unit the worker loop in
// internal/runloop calls repeatedly between suspension points (§5).
func (d *Dispatcher) RunOnce(ctx context.Context) (bool, error) {
	if due, err := d.Jobs.CountDue(ctx); err == nil {
		queueDepthGauge.WithLabelValues().Set(float64(due))
	}

	job, ok, err := d.Jobs.TryRunNext(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	var pub = ops.NewLogrusPublisher(ops.EntityRef{Name: job.Name, Type: job.Type})

	var exec, known = d.Executors[job.Type]
	if !known {
		ops.Error(pub, "no executor registered for catalog type", nil)
		ticksCounter.WithLabelValues(string(job.Type), "unregistered").Inc()
		return true, nil
	}

	var result = exec.Reconcile(ctx, job)
	if result.Err != nil {
		ticksCounter.WithLabelValues(string(job.Type), "error").Inc()
	} else {
		ticksCounter.WithLabelValues(string(job.Type), "ok").Inc()
	}

	var nextRun = result.NextRun
	if result.Err != nil && nextRun == nil {
		var t = NextRun(d.Clock.Now(), job.Failures)
		nextRun = &t
	}

	status, marshalErr := json.Marshal(result.Status)
	if marshalErr != nil {
		ops.Error(pub, "failed to marshal controller status", logrus.Fields{"error": marshalErr})
		status = job.Status
	}

	if err := d.Jobs.Complete(ctx, job.LiveSpecID, job.ControllerVersion, status, nextRun, result.Err); err != nil {
		return true, err
	}
	if result.Err != nil {
		ops.Warn(pub, "controller tick completed with an error", logrus.Fields{"error": result.Err})
	}
	if result.AfterComplete != nil {
		if err := result.AfterComplete(ctx); err != nil {
			ops.Error(pub, "post-completion hook failed", logrus.Fields{"error": err})
			return true, err
		}
	}
	return true, nil
}
