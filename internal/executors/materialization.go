package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/estuary/flow-controller/internal/activate"
	"github.com/estuary/flow-controller/internal/catalog"
	"github.com/estuary/flow-controller/internal/ids"
	"github.com/estuary/flow-controller/internal/models"
	"github.com/estuary/flow-controller/internal/publish"
	"github.com/estuary/flow-controller/internal/scheduler"
	"github.com/estuary/flow-controller/internal/store"
)

// Materialization reconciles materialization controller jobs (§4.8):
// activation, source-capture-deleted clearing, source-collection
// disable propagation, and generation-change republish, each detected
// before a non-touch self-republish is issued.
type Materialization struct {
	Live          *store.LiveSpecStore
	Drafts        *store.DraftStore
	Publish       *publish.Pipeline
	Publications  *store.PublicationStore
	Activate      *activate.Subsystem
	ShardFailures *store.ShardFailureStore
	Clock         ids.Clock
}

// Reconcile implements scheduler.Executor.
func (m *Materialization) Reconcile(ctx context.Context, job store.Leased) scheduler.TickResult {
	var now = m.Clock.Now()

	live, exists, err := m.Live.Get(ctx, job.Name)
	if err != nil {
		return scheduler.TickResult{Status: job.Status, Err: fmt.Errorf("resolving %s: %w", job.Name, err)}
	}
	if !exists {
		return scheduler.TickResult{Status: job.Status}
	}

	var status models.MaterializationStatus
	_ = json.Unmarshal(job.Status, &status)

	if err := observeHistory(ctx, m.Publications, live, &status.Publications); err != nil {
		return scheduler.TickResult{Status: status, Err: err}
	}

	if live.IsSoftDeleted() {
		if err := m.Activate.Deactivate(ctx, live.Name, live.Type); err != nil {
			var next = now.Add(deactivateRetryDelay)
			return scheduler.TickResult{Status: status, NextRun: &next, Err: err}
		}
		var name = live.Name
		return scheduler.TickResult{Status: status, AfterComplete: func(ctx context.Context) error {
			return m.Live.HardDelete(ctx, name)
		}}
	}

	var mm catalog.MaterializationModel
	if err := json.Unmarshal(live.Model, &mm); err != nil {
		return scheduler.TickResult{Status: status, Err: fmt.Errorf("parsing materialization model %s: %w", job.Name, err)}
	}

	var needed, detail = m.needsRepublish(ctx, mm, status)
	// BindingGenerations is refreshed before the republish attempt, not
	// after, so a generation change that has already triggered a
	// republish doesn't trigger another every tick while it is pending.
	status.BindingGenerations = m.bindingGenerations(ctx, mm)

	if needed {
		if _, err := selfRepublish(ctx, m.Drafts, m.Publish, live.Name, live.Type, live.Model, live.LastPubID, detail); err != nil {
			return scheduler.TickResult{Status: status, Err: err}
		}
		return scheduler.TickResult{Status: status}
	}

	failures, err := m.ShardFailures.ConsumePending(ctx, job.Name)
	if err != nil {
		return scheduler.TickResult{Status: status, Err: err}
	}
	var actRes = m.Activate.Reconcile(ctx, now, live, status.Activation, failures)
	status.Activation = actRes.Status

	return scheduler.TickResult{Status: status, NextRun: actRes.NextRun, Err: actRes.Err}
}

// needsRepublish reports whether a non-touch self-republish is needed
// (§4.5, §4.8): (a) an enabled binding's source collection has been
// soft-deleted, (b) the sourceCapture names a now-deleted capture, or
// (c) a binding's source collection has reset to a new generation since
// this materialization last observed it. The builder disables the
// binding for (a) and clears sourceCapture for (b). It has no step for
// (c): that republish commits the model unchanged under a new
// last_pub_id, and no binding field is changed to request a backfill.
func (m *Materialization) needsRepublish(ctx context.Context, mm catalog.MaterializationModel, status models.MaterializationStatus) (bool, string) {
	if mm.SourceCapture != nil {
		if src, ok, _ := m.Live.Get(ctx, *mm.SourceCapture); !ok || src.IsSoftDeleted() {
			return true, fmt.Sprintf("clearing sourceCapture %s, which no longer exists", *mm.SourceCapture)
		}
	}
	for _, b := range mm.Bindings {
		col, ok, _ := m.Live.Get(ctx, b.Source)
		if !ok {
			continue
		}
		if !b.Disable && col.IsSoftDeleted() {
			return true, fmt.Sprintf("disabling binding reading deleted collection %s", b.Source)
		}
		if prior, seen := status.BindingGenerations[b.Source.Fold()]; seen && prior != col.Generation {
			return true, fmt.Sprintf("backfilling binding %s to generation %s", b.Source, col.Generation)
		}
	}
	return false, ""
}

func (m *Materialization) bindingGenerations(ctx context.Context, mm catalog.MaterializationModel) map[string]ids.ID {
	var out = make(map[string]ids.ID, len(mm.Bindings))
	for _, b := range mm.Bindings {
		if col, ok, _ := m.Live.Get(ctx, b.Source); ok {
			out[b.Source.Fold()] = col.Generation
		}
	}
	return out
}
