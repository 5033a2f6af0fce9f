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

// Collection reconciles collection controller jobs (§4.8): activation
// of derived collections' shards, and self-republishing when a
// derivation transform's source collection has been soft-deleted,
// since the builder only auto-disables such a transform on a real
// (non-touch) build pass.
type Collection struct {
	Live          *store.LiveSpecStore
	Drafts        *store.DraftStore
	Publish       *publish.Pipeline
	Publications  *store.PublicationStore
	Activate      *activate.Subsystem
	ShardFailures *store.ShardFailureStore
	Clock         ids.Clock
}

// Reconcile implements scheduler.Executor.
func (c *Collection) Reconcile(ctx context.Context, job store.Leased) scheduler.TickResult {
	var now = c.Clock.Now()

	live, exists, err := c.Live.Get(ctx, job.Name)
	if err != nil {
		return scheduler.TickResult{Status: job.Status, Err: fmt.Errorf("resolving %s: %w", job.Name, err)}
	}
	if !exists {
		return scheduler.TickResult{Status: job.Status}
	}

	var status models.CollectionStatus
	_ = json.Unmarshal(job.Status, &status)

	if err := observeHistory(ctx, c.Publications, live, &status.Publications); err != nil {
		return scheduler.TickResult{Status: status, Err: err}
	}

	if live.IsSoftDeleted() {
		if err := c.Activate.Deactivate(ctx, live.Name, live.Type); err != nil {
			var next = now.Add(deactivateRetryDelay)
			return scheduler.TickResult{Status: status, NextRun: &next, Err: err}
		}
		var name = live.Name
		return scheduler.TickResult{Status: status, AfterComplete: func(ctx context.Context) error {
			return c.Live.HardDelete(ctx, name)
		}}
	}

	var cm catalog.CollectionModel
	if err := json.Unmarshal(live.Model, &cm); err != nil {
		return scheduler.TickResult{Status: status, Err: fmt.Errorf("parsing collection model %s: %w", job.Name, err)}
	}

	var nextRun *time.Time

	if cm.Derivation != nil {
		if needed, detail := c.needsDisablePropagation(ctx, cm.Derivation); needed {
			if _, err := selfRepublish(ctx, c.Drafts, c.Publish, live.Name, live.Type, live.Model, live.LastPubID, detail); err != nil {
				return scheduler.TickResult{Status: status, Err: err}
			}
			// The republish above already advanced last_pub_id; the
			// next tick observes it through observeHistory and the
			// refreshed live spec, so no further action is taken here.
			return scheduler.TickResult{Status: status}
		}

		failures, err := c.ShardFailures.ConsumePending(ctx, job.Name)
		if err != nil {
			return scheduler.TickResult{Status: status, Err: err}
		}
		var actRes = c.Activate.Reconcile(ctx, now, live, status.Activation, failures)
		status.Activation = actRes.Status
		nextRun = actRes.NextRun
		return scheduler.TickResult{Status: status, NextRun: nextRun, Err: actRes.Err}
	}

	return scheduler.TickResult{Status: status}
}

// needsDisablePropagation reports whether any enabled transform of d
// reads from a collection that is now soft-deleted, which the builder
// would auto-disable on a real build pass (§4.5, §4.8 S5) but a touch
// publication would never trigger.
func (c *Collection) needsDisablePropagation(ctx context.Context, d *catalog.Derivation) (bool, string) {
	for _, t := range d.Transforms {
		if t.Disable {
			continue
		}
		if src, ok, _ := c.Live.Get(ctx, t.Source); ok && src.IsSoftDeleted() {
			return true, fmt.Sprintf("disabling transform %q reading deleted collection %s", t.Name, t.Source)
		}
	}
	return false, ""
}
