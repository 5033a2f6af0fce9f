// Package publish implements the C6 publication pipeline of §4.6: a
// single-pass protocol of resolve, authorize, build, optimistic-locked
// commit, and dependent notification.
package publish

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/estuary/flow-controller/internal/authz"
	"github.com/estuary/flow-controller/internal/builder"
	"github.com/estuary/flow-controller/internal/ids"
	"github.com/estuary/flow-controller/internal/models"
	"github.com/estuary/flow-controller/internal/ops"
	"github.com/estuary/flow-controller/internal/store"
	"github.com/sirupsen/logrus"
)

// Pipeline wires together the stores and oracle the publication
// protocol needs.
type Pipeline struct {
	Live         *store.LiveSpecStore
	Drafts       *store.DraftStore
	Jobs         *store.ControllerJobStore
	Publications *store.PublicationStore
	Oracle       authz.Oracle
	IDs          *ids.Generator
	Clock        ids.Clock
	// SchemaInference and FieldSelection are supplied per-publish by the
	// caller since they depend on the out-of-scope schema inference and
	// connector constraint engines (§1, §6); Publish accepts them as
	// part of Request for that reason rather than owning them here.
}

// Request is the publish(...) contract of §4.6.
type Request struct {
	UserID           string
	DraftID          string
	Detail           string
	AutoEvolve       bool
	Background       bool
	DataPlane        string
	InferredSchemas  map[string]builder.InferredSchema
	FieldConstraints map[string]map[string]builder.FieldConstraintType
	SelectedFields   map[string]map[string]bool
}

// Result is the outcome of one publish call.
type Result struct {
	PublicationID ids.ID
	Result        models.PublicationResult
	DraftErrors   []models.DraftError
	BuildErrors   []models.PublicationErr
	LockFailures  []LockFailure
}

// LockFailure reports one row's expect_pub_id mismatch (§4.6 step 6).
type LockFailure struct {
	Name     models.Name
	Expected ids.ID
	Actual   ids.ID
}

// Publish runs the single-pass protocol of §4.6.
func (p *Pipeline) Publish(ctx context.Context, req Request) (Result, error) {
	var pubID = p.IDs.Next()
	var started = p.Clock.Now()
	var result = Result{PublicationID: pubID}

	draft, err := p.Drafts.Load(ctx, req.DraftID)
	if err != nil {
		return result, fmt.Errorf("loading draft %s: %w", req.DraftID, err)
	}
	if len(draft.Errors) > 0 {
		result.DraftErrors = draft.Errors
		result.Result = models.ResultBuildFailed
		p.record(ctx, pubID, req, started, result)
		return result, nil
	}
	if len(draft.AllSpecs()) == 0 {
		result.Result = models.ResultEmptyDraft
		p.record(ctx, pubID, req, started, result)
		return result, nil
	}

	live, err := p.Live.Resolve(ctx, draft.AllNames())
	if err != nil {
		return result, fmt.Errorf("resolving live specs: %w", err)
	}

	decision, err := p.Oracle.Authorize(ctx, req.UserID, draft, live)
	if err != nil {
		return result, fmt.Errorf("authorizing publication: %w", err)
	}
	if len(decision.Errors) > 0 {
		for _, e := range decision.Errors {
			result.BuildErrors = append(result.BuildErrors, models.PublicationErr{Scope: e.Scope, Error: e.Error()})
		}
		result.Result = models.ResultBuildFailed
		p.record(ctx, pubID, req, started, result)
		return result, nil
	}

	var built = builder.Build(builder.BuildInput{
		Draft:            draft,
		Live:             live,
		InferredSchemas:  req.InferredSchemas,
		FieldConstraints: req.FieldConstraints,
		SelectedFields:   req.SelectedFields,
		AutoEvolve:       req.AutoEvolve,
	})
	if len(built.Errors) > 0 {
		for _, e := range built.Errors {
			result.BuildErrors = append(result.BuildErrors, models.PublicationErr{Scope: e.Scope, Error: e.Err})
		}
		result.Result = models.ResultBuildFailed
		p.record(ctx, pubID, req, started, result)
		return result, nil
	}

	commitResult, err := p.commit(ctx, pubID, draft, built, live)
	if err != nil {
		return result, err
	}
	result.LockFailures = commitResult.lockFailures
	if len(commitResult.lockFailures) > 0 {
		result.Result = models.ResultLockFailed
		p.record(ctx, pubID, req, started, result)
		return result, nil
	}

	result.Result = models.ResultSuccess
	p.record(ctx, pubID, req, started, result)

	if err := p.Drafts.Delete(ctx, req.DraftID); err != nil {
		ops.Warn(ops.NewLogrusPublisher(ops.EntityRef{}), "failed to delete consumed draft", logrus.Fields{"draftId": req.DraftID, "error": err})
	}

	if err := p.notifyAffected(ctx, commitResult.changedNames, live, draft); err != nil {
		ops.Error(ops.NewLogrusPublisher(ops.EntityRef{}), "failed to enqueue dependents after commit", logrus.Fields{"publicationId": pubID.String(), "error": err})
	}

	return result, nil
}

// record persists the publication attempt, so controllers observing a
// last_pub_id advance on their own live spec can look up the detail and
// outcome that produced it (§3, §4.8). A failure to record is logged,
// not surfaced, since it never affects the commit that already happened.
func (p *Pipeline) record(ctx context.Context, pubID ids.ID, req Request, started time.Time, result Result) {
	if p.Publications == nil {
		return
	}
	var errs []models.PublicationErr
	for _, e := range result.DraftErrors {
		errs = append(errs, models.PublicationErr{Scope: string(e.Name), Error: e.Error})
	}
	errs = append(errs, result.BuildErrors...)

	var rec = models.PublicationRecord{
		ID:          pubID,
		UserID:      req.UserID,
		DraftID:     req.DraftID,
		Detail:      req.Detail,
		AutoEvolve:  req.AutoEvolve,
		Background:  req.Background,
		DataPlane:   req.DataPlane,
		Result:      result.Result,
		Errors:      errs,
		CreatedAt:   started,
		CompletedAt: p.Clock.Now(),
	}
	if err := p.Publications.Insert(ctx, rec); err != nil {
		ops.Warn(ops.NewLogrusPublisher(ops.EntityRef{}), "failed to record publication", logrus.Fields{"publicationId": pubID.String(), "error": err})
	}
}

type commitOutcome struct {
	lockFailures []LockFailure
	changedNames []models.Name
}

// commit opens the serializable transaction of §4.6 steps 5-8: upsert
// changed rows, lock-check unchanged rows, and on success persist
// publication_specs. Affected controllers are enqueued by
// notifyAffected after commit returns, not inside it. SQLite provides
// serializability via its single-writer model, so a dedicated retry
// loop for serialization conflicts is unnecessary here; a Postgres
// backend would wrap this in a bounded retry per §4.6's failure
// semantics.
func (p *Pipeline) commit(ctx context.Context, pubID ids.ID, draft models.Draft, built builder.BuildOutput, live store.LiveCatalog) (commitOutcome, error) {
	var out commitOutcome

	tx, err := p.Live.DB().BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return out, fmt.Errorf("beginning publication transaction: %w", err)
	}
	defer tx.Rollback()

	var rows []store.UpdateRow
	var expectations = make(map[string]ids.ID)
	var unchangedNames []models.Name

	for _, r := range built.AllRows() {
		expectations[r.Name.Fold()] = r.ExpectPubID
		if r.IsUnchanged {
			unchangedNames = append(unchangedNames, r.Name)
			continue
		}
		var resetGen = r.ResetGeneration
		rows = append(rows, store.UpdateRow{
			Name:            r.Name,
			Type:            r.Type,
			Model:           modelOrNil(r),
			BuiltSpec:       r.BuiltSpec,
			BuiltSpecHash:   r.BuiltSpecHash,
			ReadsFrom:       r.ReadsFrom,
			WritesTo:        r.WritesTo,
			SourceCapture:   r.SourceCapture,
			DataPlaneID:     dataPlaneFor(r, live),
			ResetGeneration: resetGen,
		})
	}

	applied, err := p.Live.ApplyUpdates(ctx, tx, pubID, rows)
	if err != nil {
		return out, fmt.Errorf("applying updates: %w", err)
	}

	locked, err := p.Live.LockRevisions(ctx, tx, unchangedNames)
	if err != nil {
		return out, fmt.Errorf("locking unchanged revisions: %w", err)
	}

	for _, a := range applied {
		var expect = expectations[a.Name.Fold()]
		if a.PriorPubID != expect {
			out.lockFailures = append(out.lockFailures, LockFailure{Name: a.Name, Expected: expect, Actual: a.PriorPubID})
		}
	}
	for fold, lr := range locked {
		var expect = expectations[fold]
		var actual ids.ID
		if lr.Exists {
			actual = lr.LastPubID
		}
		if actual != expect {
			out.lockFailures = append(out.lockFailures, LockFailure{Name: lr.Name, Expected: expect, Actual: actual})
		}
	}

	if len(out.lockFailures) > 0 {
		return out, nil // caller rolls back via defer; no changes committed (§4.6 step 6).
	}

	for _, a := range applied {
		var typ = rowType(built, a.Name)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO publication_specs(publication_id, live_spec_id, catalog_name, spec_type, expect_pub_id)
			VALUES (?, ?, ?, ?, ?)`,
			int64(pubID), a.LiveSpecID, string(a.Name), string(typ), int64(expectations[a.Name.Fold()])); err != nil {
			return out, fmt.Errorf("recording publication_specs for %s: %w", a.Name, err)
		}
		out.changedNames = append(out.changedNames, a.Name)
	}

	if err := tx.Commit(); err != nil {
		return out, fmt.Errorf("committing publication %s: %w", pubID, err)
	}
	return out, nil
}

func modelOrNil(r builder.BuiltRow) models.RawJSON {
	if r.IsDelete {
		return nil
	}
	return r.Model
}

func dataPlaneFor(r builder.BuiltRow, live store.LiveCatalog) string {
	if spec, ok := live.Get(r.Name); ok {
		return spec.DataPlaneID
	}
	return ""
}

func rowType(built builder.BuildOutput, name models.Name) models.CatalogType {
	for _, r := range built.AllRows() {
		if r.Name.Fold() == name.Fold() {
			return r.Type
		}
	}
	return ""
}

// notifyAffected enqueues every changed row plus every dependent
// reachable through the prior or new edge set (§4.6 step 9, §4.7(b)).
// Enqueue happens strictly after commit so readers never observe stale
// edges (O4).
func (p *Pipeline) notifyAffected(ctx context.Context, changed []models.Name, priorLive store.LiveCatalog, draft models.Draft) error {
	var toEnqueue = make(map[string]models.Name, len(changed))
	for _, n := range changed {
		toEnqueue[n.Fold()] = n
	}

	for _, n := range changed {
		dependents, err := p.Live.ListDependents(ctx, n)
		if err != nil {
			return fmt.Errorf("listing dependents of %s: %w", n, err)
		}
		for _, d := range dependents {
			toEnqueue[d.Fold()] = d
		}
		if prior, ok := priorLive.Get(n); ok {
			for _, r := range prior.ReadsFrom {
				// The prior edge set matters when a binding/transform is
				// removed in this publication: the old upstream must still
				// be notified so it can forget this dependent if needed.
				toEnqueue[r.Fold()] = r
			}
		}
	}

	var names = make([]models.Name, 0, len(toEnqueue))
	for _, n := range toEnqueue {
		names = append(names, n)
	}
	return p.Jobs.EnqueueNow(ctx, names)
}
