package builder_test

import (
	"testing"

	"github.com/estuary/flow-controller/internal/builder"
	"github.com/estuary/flow-controller/internal/models"
	"github.com/estuary/flow-controller/internal/store"
	"github.com/stretchr/testify/require"
)

func TestCollectionKeyChangeFailsWithoutAutoEvolve(t *testing.T) {
	var live = store.LiveCatalog{ByName: map[string]models.LiveSpec{
		"marmots/grass": {
			Name: "marmots/grass", Type: models.CatalogTypeCollection,
			Model: []byte(`{"key":["/id"],"schema":true}`),
		},
	}}
	var draft = models.Draft{Collections: []models.DraftSpec{
		{Name: "marmots/grass", Type: models.CatalogTypeCollection, Model: []byte(`{"key":["/id","/squeaks"],"schema":true}`)},
	}}

	var out = builder.Build(builder.BuildInput{Draft: draft, Live: live})
	require.Len(t, out.Errors, 1)
	require.Contains(t, out.Errors[0].Err, "cannot change without also resetting it")
}

func TestCollectionKeyChangeResetsWithAutoEvolve(t *testing.T) {
	var live = store.LiveCatalog{ByName: map[string]models.LiveSpec{
		"marmots/grass": {
			Name: "marmots/grass", Type: models.CatalogTypeCollection,
			Model: []byte(`{"key":["/id"],"schema":true}`),
		},
	}}
	var draft = models.Draft{Collections: []models.DraftSpec{
		{Name: "marmots/grass", Type: models.CatalogTypeCollection, Model: []byte(`{"key":["/id","/squeaks"],"schema":true}`)},
	}}

	var out = builder.Build(builder.BuildInput{Draft: draft, Live: live, AutoEvolve: true})
	require.Empty(t, out.Errors)
	require.Len(t, out.BuiltCollections, 1)
	require.True(t, out.BuiltCollections[0].ResetGeneration)
}

func TestCollectionKeyUnchangedBuildsNormally(t *testing.T) {
	var live = store.LiveCatalog{ByName: map[string]models.LiveSpec{
		"marmots/grass": {
			Name: "marmots/grass", Type: models.CatalogTypeCollection,
			Model: []byte(`{"key":["/id"],"schema":true}`),
		},
	}}
	var draft = models.Draft{Collections: []models.DraftSpec{
		{Name: "marmots/grass", Type: models.CatalogTypeCollection, Model: []byte(`{"key":["/id"],"schema":false}`)},
	}}

	var out = builder.Build(builder.BuildInput{Draft: draft, Live: live})
	require.Empty(t, out.Errors)
	require.Len(t, out.BuiltCollections, 1)
	require.False(t, out.BuiltCollections[0].ResetGeneration)
}
