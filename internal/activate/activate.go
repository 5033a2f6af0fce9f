// Package activate implements the C10 activation subsystem of §4.10:
// applying and deleting built specs against the data plane, and
// tracking shard-failure driven reactivation with backoff.
package activate

import (
	"context"
	"time"

	"github.com/estuary/flow-controller/internal/errs"
	"github.com/estuary/flow-controller/internal/models"
	"github.com/estuary/flow-controller/internal/scheduler"
)

// DataPlane is the consumed interface to the out-of-scope data-plane
// RPC transport (§1, §6).
type DataPlane interface {
	Activate(ctx context.Context, name models.Name, typ models.CatalogType, builtSpec models.RawJSON) error
	Delete(ctx context.Context, name models.Name, typ models.CatalogType) error
}

// Subsystem drives one task's activation state machine.
type Subsystem struct {
	DataPlane DataPlane
}

// New returns a Subsystem backed by dp.
func New(dp DataPlane) *Subsystem {
	return &Subsystem{DataPlane: dp}
}

// Result is the outcome of one Reconcile call.
type Result struct {
	Status  models.ActivationStatus
	NextRun *time.Time
	Err     error
}

// Reconcile drives Idle -> ActivationPending -> Activating ->
// Idle|ActivationFailed(next_retry) for one live, non-deleted task.
// newShardFailures is the count of shard-failure events observed
// since the previous tick; it moves Idle -> ActivationPending.
func (s *Subsystem) Reconcile(ctx context.Context, now time.Time, live models.LiveSpec, status models.ActivationStatus, newShardFailures int) Result {
	if newShardFailures > 0 {
		status.RecentFailureCount += newShardFailures
		status.ShardStatus = models.ShardStatusFailed
	}

	// A build id advance always attempts reactivation and, on success,
	// resets the shard-failure backoff — a new publication is trusted
	// to have fixed whatever was failing (§4.10, S6).
	if live.LastPubID > status.LastActivated {
		if err := s.DataPlane.Activate(ctx, live.Name, live.Type, live.BuiltSpec); err != nil {
			return s.failed(now, status, live.Name, err)
		}
		status.LastActivated = live.LastPubID
		status.LastActivatedAt = &now
		status.NextRetry = nil
		status.RecentFailureCount = 0
		status.ShardStatus = models.ShardStatusOK
		return Result{Status: status}
	}

	if status.ShardStatus != models.ShardStatusFailed {
		return Result{Status: status}
	}

	if status.NextRetry == nil {
		if err := s.DataPlane.Activate(ctx, live.Name, live.Type, live.BuiltSpec); err != nil {
			return s.failed(now, status, live.Name, err)
		}
		status.LastActivatedAt = &now
		status.NextRetry = nil
		status.ShardStatus = models.ShardStatusOK
		return Result{Status: status}
	}

	// A retry is already scheduled; a further failure just pushes the
	// backoff target out using the updated failure count.
	var next = scheduler.NextRun(now, status.RecentFailureCount)
	status.NextRetry = &next
	return Result{Status: status, NextRun: &next}
}

func (s *Subsystem) failed(now time.Time, status models.ActivationStatus, name models.Name, cause error) Result {
	var next = scheduler.NextRun(now, status.RecentFailureCount)
	status.NextRetry = &next
	status.ShardStatus = models.ShardStatusFailed
	return Result{
		Status:  status,
		NextRun: &next,
		Err:     &errs.ActivationFailed{Name: string(name), Err: cause, NextRetry: next},
	}
}

// Deactivate is invoked once the controller observes a soft-deleted
// live spec. The caller hard-deletes the live spec only after this
// succeeds (§4.10).
func (s *Subsystem) Deactivate(ctx context.Context, name models.Name, typ models.CatalogType) error {
	return s.DataPlane.Delete(ctx, name, typ)
}
