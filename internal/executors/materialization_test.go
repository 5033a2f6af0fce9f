package executors

import (
	"context"
	"testing"

	"github.com/estuary/flow-controller/internal/catalog"
	"github.com/estuary/flow-controller/internal/ids"
	"github.com/estuary/flow-controller/internal/models"
	"github.com/stretchr/testify/require"
)

func TestNeedsRepublishDetectsGenerationChangeOnlyOnceObserved(t *testing.T) {
	db, live := openTestStore(t)
	seedLiveSpec(t, db, models.LiveSpec{
		Name: "marmots/grass", Type: models.CatalogTypeCollection,
		Model: []byte(`{"key":["/id"]}`), Generation: 7,
	})

	var mm = catalog.MaterializationModel{Bindings: []catalog.MaterializationBinding{{Source: "marmots/grass"}}}
	var m = &Materialization{Live: live}

	// No generation observed yet (e.g. a materialization published
	// before its source collection ever reset): not yet a backfill.
	needed, _ := m.needsRepublish(context.Background(), mm, models.MaterializationStatus{})
	require.False(t, needed)

	// Once a prior generation was recorded and the source has since
	// reset to a new one, a backfill is needed.
	var status = models.MaterializationStatus{BindingGenerations: map[string]ids.ID{"marmots/grass": 3}}
	needed, detail := m.needsRepublish(context.Background(), mm, status)
	require.True(t, needed)
	require.Contains(t, detail, "marmots/grass")
}

func TestBindingGenerationsBookkeepingRefreshesBeforeRepublishDecisionTakesEffect(t *testing.T) {
	// Regression test: BindingGenerations must be refreshed to the
	// collection's current generation before the tick that issues a
	// republish returns, otherwise the next tick would see the same
	// stale prior generation and request another republish forever.
	db, live := openTestStore(t)
	seedLiveSpec(t, db, models.LiveSpec{
		Name: "marmots/grass", Type: models.CatalogTypeCollection,
		Model: []byte(`{"key":["/id"]}`), Generation: 9,
	})

	var mm = catalog.MaterializationModel{Bindings: []catalog.MaterializationBinding{{Source: "marmots/grass"}}}
	var m = &Materialization{Live: live}

	var refreshed = m.bindingGenerations(context.Background(), mm)
	require.Equal(t, ids.ID(9), refreshed["marmots/grass"])

	// Simulate the tick immediately after a backfill republish: status
	// now carries the just-refreshed map, so a second needsRepublish
	// call against the same (unchanged) generation must not re-fire.
	var status = models.MaterializationStatus{BindingGenerations: refreshed}
	needed, _ := m.needsRepublish(context.Background(), mm, status)
	require.False(t, needed)
}

func TestNeedsRepublishDetectsDeletedSourceCapture(t *testing.T) {
	_, live := openTestStore(t)
	var missing = models.Name("marmots/vanished-capture")
	var mm = catalog.MaterializationModel{SourceCapture: &missing}
	var m = &Materialization{Live: live}

	needed, detail := m.needsRepublish(context.Background(), mm, models.MaterializationStatus{})
	require.True(t, needed)
	require.Contains(t, detail, "marmots/vanished-capture")
}

func TestNeedsRepublishDetectsSoftDeletedBindingSource(t *testing.T) {
	db, live := openTestStore(t)
	var deletedAt = int64(2)
	seedLiveSpec(t, db, models.LiveSpec{Name: "marmots/grass", Type: models.CatalogTypeCollection, LastPubID: 2, DeletedAt: &deletedAt})

	var mm = catalog.MaterializationModel{Bindings: []catalog.MaterializationBinding{{Source: "marmots/grass"}}}
	var m = &Materialization{Live: live}

	needed, detail := m.needsRepublish(context.Background(), mm, models.MaterializationStatus{})
	require.True(t, needed)
	require.Contains(t, detail, "marmots/grass")
}
