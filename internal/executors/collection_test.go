package executors

import (
	"context"
	"testing"

	"github.com/estuary/flow-controller/internal/catalog"
	"github.com/estuary/flow-controller/internal/models"
	"github.com/stretchr/testify/require"
)

func TestNeedsDisablePropagationDetectsSoftDeletedSource(t *testing.T) {
	db, live := openTestStore(t)
	var deletedAt = int64(3)
	seedLiveSpec(t, db, models.LiveSpec{Name: "marmots/grass", Type: models.CatalogTypeCollection, LastPubID: 3, DeletedAt: &deletedAt})

	var col = &Collection{Live: live}
	var derivation = &catalog.Derivation{Transforms: []catalog.Transform{
		{Name: "fromGrass", Source: "marmots/grass"},
	}}

	needed, detail := col.needsDisablePropagation(context.Background(), derivation)
	require.True(t, needed)
	require.Contains(t, detail, "marmots/grass")
}

func TestNeedsDisablePropagationIgnoresAlreadyDisabledTransform(t *testing.T) {
	db, live := openTestStore(t)
	var deletedAt = int64(3)
	seedLiveSpec(t, db, models.LiveSpec{Name: "marmots/grass", Type: models.CatalogTypeCollection, LastPubID: 3, DeletedAt: &deletedAt})

	var col = &Collection{Live: live}
	var derivation = &catalog.Derivation{Transforms: []catalog.Transform{
		{Name: "fromGrass", Source: "marmots/grass", Disable: true},
	}}

	needed, _ := col.needsDisablePropagation(context.Background(), derivation)
	require.False(t, needed)
}

func TestNeedsDisablePropagationFalseWhenSourceIsLive(t *testing.T) {
	db, live := openTestStore(t)
	seedLiveSpec(t, db, models.LiveSpec{Name: "marmots/grass", Type: models.CatalogTypeCollection, Model: []byte(`{"key":["/id"]}`)})

	var col = &Collection{Live: live}
	var derivation = &catalog.Derivation{Transforms: []catalog.Transform{
		{Name: "fromGrass", Source: "marmots/grass"},
	}}

	needed, _ := col.needsDisablePropagation(context.Background(), derivation)
	require.False(t, needed)
}
