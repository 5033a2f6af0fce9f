// Package executors implements the C8 per-catalog-type controller
// executors of §4.8, each reconciling one leased controller_jobs row:
// driving activation, reacting to upstream deletions and generation
// changes, and (for captures) running the auto-discover cycle.
package executors

import (
	"context"

	"github.com/estuary/flow-controller/internal/ids"
	"github.com/estuary/flow-controller/internal/models"
	"github.com/estuary/flow-controller/internal/publish"
	"github.com/estuary/flow-controller/internal/store"
	"github.com/google/uuid"
)

// selfRepublish submits a single-entry, non-touch draft carrying name's
// own current model bytes and publishes it under the controller's
// system identity, so the builder's existing soft-deleted-dependency
// disable/clear logic (builder/captures.go, collections.go,
// materializations.go) runs a real build pass over it (§4.8). A
// byte-equal touch draft would short-circuit before ever reaching that
// logic, so this always drafts non-touch.
func selfRepublish(ctx context.Context, drafts *store.DraftStore, pipeline *publish.Pipeline, name models.Name, typ models.CatalogType, model models.RawJSON, expectPubID ids.ID, detail string) (publish.Result, error) {
	var draftID = uuid.New().String()
	if err := drafts.Upsert(ctx, draftID, name, typ, model, &expectPubID, false); err != nil {
		return publish.Result{}, err
	}

	result, err := pipeline.Publish(ctx, publish.Request{
		UserID:     store.SystemUserID,
		DraftID:    draftID,
		Detail:     detail,
		Background: true,
	})
	if err != nil {
		return result, err
	}
	if result.Result != models.ResultSuccess {
		_ = drafts.Delete(ctx, draftID)
	}
	return result, nil
}

// observeHistory pushes a HistoryEntry onto hist if live's last_pub_id
// has advanced past what this controller last observed, translating the
// publications-table record the pipeline wrote into the bounded deque
// of §3/I4. A publication whose record can't be found is skipped rather
// than blocking the tick; MaxObservedPubID still advances so it isn't
// retried forever.
func observeHistory(ctx context.Context, pubs *store.PublicationStore, live models.LiveSpec, hist *models.PublicationHistory) error {
	if live.LastPubID <= hist.MaxObservedPubID {
		return nil
	}
	rec, ok, err := pubs.Get(ctx, live.LastPubID)
	if err != nil {
		return err
	}
	if !ok {
		hist.MaxObservedPubID = live.LastPubID
		return nil
	}
	hist.Push(models.HistoryEntry{
		ID:        rec.ID,
		Created:   rec.CreatedAt,
		Completed: rec.CompletedAt,
		Detail:    rec.Detail,
		Result:    rec.Result,
		Errors:    rec.Errors,
	})
	return nil
}
