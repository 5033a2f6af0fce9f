package executors

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/estuary/flow-controller/internal/catalog"
	"github.com/estuary/flow-controller/internal/ids"
	"github.com/estuary/flow-controller/internal/models"
	"github.com/estuary/flow-controller/internal/scheduler"
	"github.com/estuary/flow-controller/internal/store"
)

// Test reconciles test controller jobs (§4.8, S5): a test has no
// shards to activate and nothing to draft, so its only job is
// recomputing TestStatus.Passing against the live catalog each tick.
type Test struct {
	Live         *store.LiveSpecStore
	Publications *store.PublicationStore
	Clock        ids.Clock
}

// Reconcile implements scheduler.Executor.
func (t *Test) Reconcile(ctx context.Context, job store.Leased) scheduler.TickResult {
	live, exists, err := t.Live.Get(ctx, job.Name)
	if err != nil {
		return scheduler.TickResult{Status: job.Status, Err: fmt.Errorf("resolving %s: %w", job.Name, err)}
	}
	if !exists {
		return scheduler.TickResult{Status: job.Status}
	}

	var status models.TestStatus
	_ = json.Unmarshal(job.Status, &status)

	if err := observeHistory(ctx, t.Publications, live, &status.Publications); err != nil {
		return scheduler.TickResult{Status: status, Err: err}
	}

	if live.IsSoftDeleted() {
		var name = live.Name
		return scheduler.TickResult{Status: status, AfterComplete: func(ctx context.Context) error {
			return t.Live.HardDelete(ctx, name)
		}}
	}

	var tm catalog.TestModel
	if err := json.Unmarshal(live.Model, &tm); err != nil {
		return scheduler.TickResult{Status: status, Err: fmt.Errorf("parsing test model %s: %w", job.Name, err)}
	}

	status.Passing = true
	for _, step := range tm.Steps {
		if col, ok, _ := t.Live.Get(ctx, step.Collection); !ok || col.IsSoftDeleted() {
			status.Passing = false
			break
		}
	}

	return scheduler.TickResult{Status: status}
}
