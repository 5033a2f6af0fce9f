package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/estuary/flow-controller/internal/activate"
	"github.com/estuary/flow-controller/internal/alerts"
	"github.com/estuary/flow-controller/internal/catalog"
	"github.com/estuary/flow-controller/internal/discover"
	"github.com/estuary/flow-controller/internal/ids"
	"github.com/estuary/flow-controller/internal/models"
	"github.com/estuary/flow-controller/internal/publish"
	"github.com/estuary/flow-controller/internal/scheduler"
	"github.com/estuary/flow-controller/internal/store"
	"github.com/google/uuid"
)

// DefaultDiscoverInterval is how long a capture's auto-discover waits
// between successful cycles, absent any per-capture interval field in
// the modeled subset of the capture document (§4.9 carries the policy
// knobs addNewBindings/evolveIncompatibleCollections but not a
// schedule); this is an Open Question decision recorded in DESIGN.md.
const DefaultDiscoverInterval = 30 * time.Minute

// deactivateRetryDelay bounds how soon a failed Deactivate call (§4.10)
// is retried before a hard delete.
const deactivateRetryDelay = 30 * time.Second

// Capture reconciles capture controller jobs (§4.8, §4.9, §4.10).
type Capture struct {
	Live          *store.LiveSpecStore
	Drafts        *store.DraftStore
	Publish       *publish.Pipeline
	Publications  *store.PublicationStore
	Discover      *discover.Subsystem
	Activate      *activate.Subsystem
	ShardFailures *store.ShardFailureStore
	Alerts        *alerts.Rules
	Clock         ids.Clock
}

// Reconcile implements scheduler.Executor.
func (c *Capture) Reconcile(ctx context.Context, job store.Leased) scheduler.TickResult {
	var now = c.Clock.Now()

	live, exists, err := c.Live.Get(ctx, job.Name)
	if err != nil {
		return scheduler.TickResult{Status: job.Status, Err: fmt.Errorf("resolving %s: %w", job.Name, err)}
	}
	if !exists {
		return scheduler.TickResult{Status: job.Status}
	}

	var status models.CaptureStatus
	_ = json.Unmarshal(job.Status, &status)

	if err := observeHistory(ctx, c.Publications, live, &status.Publications); err != nil {
		return scheduler.TickResult{Status: status, Err: err}
	}

	if live.IsSoftDeleted() {
		return c.reconcileDeleted(ctx, now, live, status)
	}

	var cap catalog.CaptureModel
	if err := json.Unmarshal(live.Model, &cap); err != nil {
		return scheduler.TickResult{Status: status, Err: fmt.Errorf("parsing capture model %s: %w", job.Name, err)}
	}

	var nextRun *time.Time

	if cap.AutoDiscover != nil {
		var nextAt *time.Time
		if status.AutoDiscover != nil {
			nextAt = status.AutoDiscover.NextAt
		}
		var due = discover.IsDue(now, nextAt, !cap.Shards.Disable, &struct {
			AddNewBindings                bool
			EvolveIncompatibleCollections bool
		}{cap.AutoDiscover.AddNewBindings, cap.AutoDiscover.EvolveIncompatibleCollections}, false)

		if due {
			var discoverNext *time.Time
			status, discoverNext = c.runDiscover(ctx, now, job.Name, cap, status)
			nextRun = earliest(nextRun, discoverNext)
		} else if nextAt != nil {
			nextRun = earliest(nextRun, nextAt)
		}
	}

	failures, err := c.ShardFailures.ConsumePending(ctx, job.Name)
	if err != nil {
		return scheduler.TickResult{Status: status, Err: err}
	}
	var actRes = c.Activate.Reconcile(ctx, now, live, status.Activation, failures)
	status.Activation = actRes.Status
	nextRun = earliest(nextRun, actRes.NextRun)

	return scheduler.TickResult{Status: status, NextRun: nextRun, Err: actRes.Err}
}

// reconcileDeleted drives a soft-deleted capture to hard deletion, once
// the data plane confirms its shards have been torn down (§4.10).
func (c *Capture) reconcileDeleted(ctx context.Context, now time.Time, live models.LiveSpec, status models.CaptureStatus) scheduler.TickResult {
	if err := c.Activate.Deactivate(ctx, live.Name, live.Type); err != nil {
		var next = now.Add(deactivateRetryDelay)
		return scheduler.TickResult{Status: status, NextRun: &next, Err: err}
	}
	var name = live.Name
	return scheduler.TickResult{
		Status: status,
		AfterComplete: func(ctx context.Context) error {
			return c.Live.HardDelete(ctx, name)
		},
	}
}

// runDiscover runs one auto-discover cycle and folds its outcome into
// status, returning the updated status and this cycle's next-due time.
func (c *Capture) runDiscover(ctx context.Context, now time.Time, name models.Name, cap catalog.CaptureModel, status models.CaptureStatus) (models.CaptureStatus, *time.Time) {
	if status.AutoDiscover == nil {
		status.AutoDiscover = &models.AutoDiscoverStatus{}
	}

	var current = c.currentBindings(ctx, cap, status.AutoDiscover.BindingPaths)
	plan, err := c.Discover.Run(ctx, discover.Request{
		Capture: name,
		Image:   cap.Endpoint.Connector.Image,
		Config:  cap.Endpoint.Connector.Config,
		Model:   cap,
		Current: current,
		Now:     now,
	})
	var failureCount = func() int {
		if status.AutoDiscover.Failure == nil {
			return 0
		}
		return status.AutoDiscover.Failure.Count
	}
	if err != nil {
		var next = scheduler.NextRun(now, failureCount())
		status.AutoDiscover.NextAt = &next
		return status, &next
	}

	if plan.Err != nil {
		c.bumpDiscoverFailure(ctx, name, now, &status, models.Outcome{
			Timestamp: now,
			Errors:    []models.PublicationErr{{Scope: fmt.Sprintf("capture://%s", name), Error: plan.Err.Error()}},
		}, plan.Err.Error())
		var next = scheduler.NextRun(now, failureCount())
		status.AutoDiscover.NextAt = &next
		return status, &next
	}

	if !plan.NeedsPublish {
		c.clearDiscoverFailure(ctx, name, &status)
		status.AutoDiscover.LastSuccess = &plan.Outcome
		var next = now.Add(DefaultDiscoverInterval)
		status.AutoDiscover.NextAt = &next
		return status, &next
	}

	live, _, _ := c.Live.Get(ctx, name)
	result, err := c.publishDiscoverPlan(ctx, name, live, plan)
	if err != nil || result.Result != models.ResultSuccess {
		var errMsg = plan.Detail
		if err != nil {
			errMsg = err.Error()
		} else if len(result.BuildErrors) > 0 {
			errMsg = result.BuildErrors[0].Error
		}
		var outcome = plan.Outcome
		outcome.PublishResult = &result.Result
		outcome.Errors = append(outcome.Errors, result.BuildErrors...)
		c.bumpDiscoverFailure(ctx, name, now, &status, outcome, errMsg)
		var next = scheduler.NextRun(now, failureCount())
		status.AutoDiscover.NextAt = &next
		return status, &next
	}

	c.clearDiscoverFailure(ctx, name, &status)
	plan.Outcome.PublishResult = &result.Result
	status.AutoDiscover.LastSuccess = &plan.Outcome
	status.AutoDiscover.BindingPaths = recordBindingPaths(plan.Bindings, current)
	var next = now.Add(DefaultDiscoverInterval)
	status.AutoDiscover.NextAt = &next
	return status, &next
}

// publishDiscoverPlan drafts the capture's updated bindings plus any
// new or reset collections the plan calls for, and publishes them as
// one draft (§4.9 S1, S3, S4).
func (c *Capture) publishDiscoverPlan(ctx context.Context, name models.Name, live models.LiveSpec, plan discover.Plan) (publish.Result, error) {
	var patchedBindings, err = json.Marshal(plan.Bindings)
	if err != nil {
		return publish.Result{}, fmt.Errorf("marshaling updated bindings of %s: %w", name, err)
	}
	var captureModel = mergeField(live.Model, "bindings", patchedBindings)

	var draftID = uuid.New().String()
	if err := c.Drafts.Upsert(ctx, draftID, name, models.CatalogTypeCapture, captureModel, &live.LastPubID, false); err != nil {
		return publish.Result{}, err
	}

	for _, nc := range plan.NewCollections {
		model, err := discover.CollectionDraftModel(nc.Key, nc.Schema)
		if err != nil {
			return publish.Result{}, fmt.Errorf("rendering new collection %s: %w", nc.Name, err)
		}
		if err := c.Drafts.Upsert(ctx, draftID, nc.Name, models.CatalogTypeCollection, model, nil, false); err != nil {
			return publish.Result{}, err
		}
	}
	for _, rc := range plan.ResetCollections {
		model, err := discover.CollectionDraftModel(rc.Key, rc.Schema)
		if err != nil {
			return publish.Result{}, fmt.Errorf("rendering reset collection %s: %w", rc.Name, err)
		}
		var expect *ids.ID
		if col, ok, _ := c.Live.Get(ctx, rc.Name); ok {
			expect = &col.LastPubID
		}
		if err := c.Drafts.Upsert(ctx, draftID, rc.Name, models.CatalogTypeCollection, model, expect, false); err != nil {
			return publish.Result{}, err
		}
	}

	result, err := c.Publish.Publish(ctx, publish.Request{
		UserID:     store.SystemUserID,
		DraftID:    draftID,
		Detail:     plan.Detail,
		AutoEvolve: plan.AutoEvolve,
		Background: true,
	})
	if err != nil {
		return result, err
	}
	if result.Result != models.ResultSuccess {
		_ = c.Drafts.Delete(ctx, draftID)
	}
	return result, nil
}

func (c *Capture) bumpDiscoverFailure(ctx context.Context, name models.Name, now time.Time, status *models.CaptureStatus, outcome models.Outcome, errMsg string) {
	if status.AutoDiscover.Failure == nil {
		status.AutoDiscover.Failure = &models.AutoDiscoverFailure{FirstTS: now}
	}
	status.AutoDiscover.Failure.Count++
	status.AutoDiscover.Failure.LastOutcome = outcome
	if status.AutoDiscover.Failure.Count >= alerts.AutoDiscoverFailureThreshold {
		_ = c.Alerts.EvaluateAutoDiscoverFailure(ctx, nil, name, status.AutoDiscover.Failure.Count, errMsg)
	}
}

func (c *Capture) clearDiscoverFailure(ctx context.Context, name models.Name, status *models.CaptureStatus) {
	if status.AutoDiscover.Failure != nil {
		_ = c.Alerts.ClearAutoDiscoverFailure(ctx, nil, name)
	}
	status.AutoDiscover.Failure = nil
}

// currentBindings reconstructs a capture's current bindings as the
// discover subsystem needs them: each binding's connector-assigned
// resource path (recorded at the previous discover cycle) paired with
// its target collection's current key (§4.9).
func (c *Capture) currentBindings(ctx context.Context, cap catalog.CaptureModel, paths map[string][]string) []discover.CurrentBinding {
	var out = make([]discover.CurrentBinding, 0, len(cap.Bindings))
	for _, b := range cap.Bindings {
		var path = discover.JoinResourcePath(paths[b.Target.Fold()])
		var key []string
		if col, ok, _ := c.Live.Get(ctx, b.Target); ok {
			var cm catalog.CollectionModel
			_ = json.Unmarshal(col.Model, &cm)
			key = cm.Key
		}
		out = append(out, discover.NewCurrentBinding(path, b, key))
	}
	return out
}

// recordBindingPaths derives the next cycle's BindingPaths bookkeeping
// from the plan's final bindings, using the discovered resource path of
// each binding where one was just observed, and falling back to the
// path already on file for bindings discover didn't touch this cycle.
func recordBindingPaths(bindings []catalog.CaptureBinding, current []discover.CurrentBinding) map[string][]string {
	var prior = make(map[string][]string, len(current))
	for _, c := range current {
		if c.Path != "" {
			prior[c.Target.Fold()] = splitPath(c.Path)
		}
	}
	var out = make(map[string][]string, len(bindings))
	for _, b := range bindings {
		if len(b.ResourcePath) > 0 {
			out[b.Target.Fold()] = b.ResourcePath
		} else if p, ok := prior[b.Target.Fold()]; ok {
			out[b.Target.Fold()] = p
		}
	}
	return out
}

func splitPath(joined string) []string {
	var out []string
	var cur string
	for _, r := range joined {
		if r == '\x1f' {
			out = append(out, cur)
			cur = ""
			continue
		}
		cur += string(r)
	}
	out = append(out, cur)
	return out
}

// mergeField replaces a single top-level field of doc with value,
// preserving the rest of the document (mirrors builder.mergeField,
// kept local since the two packages don't otherwise share helpers).
func mergeField(doc models.RawJSON, field string, value json.RawMessage) models.RawJSON {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(doc, &m); err != nil {
		return doc
	}
	m[field] = value
	var out, err = json.Marshal(m)
	if err != nil {
		return doc
	}
	return out
}

func earliest(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if b.Before(*a) {
		return b
	}
	return a
}
