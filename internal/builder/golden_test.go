package builder_test

import (
	"encoding/json"
	"testing"

	"github.com/bradleyjkemp/cupaloy"
	"github.com/estuary/flow-controller/internal/builder"
	"github.com/estuary/flow-controller/internal/ids"
	"github.com/estuary/flow-controller/internal/models"
	"github.com/estuary/flow-controller/internal/store"
)

// TestBuildOutputGoldenSnapshot pins the builder's output shape for a
// draft that touches all four catalog types, the way specs_test.go
// snapshots BuildPartitionSpec/BuildShardSpec output in the teacher.
// Run with UPDATE_SNAPSHOTS=true to (re)generate .snapshots/ after an
// intentional change to BuiltRow's fields.
func TestBuildOutputGoldenSnapshot(t *testing.T) {
	var live = store.LiveCatalog{ByName: map[string]models.LiveSpec{
		"marmots/grass": {
			Name: "marmots/grass", Type: models.CatalogTypeCollection,
			Model: []byte(`{"key":["/id"],"schema":true}`), LastPubID: 10, Generation: 1,
		},
	}}
	var draft = models.Draft{
		Captures: []models.DraftSpec{
			{Name: "marmots/capture", Type: models.CatalogTypeCapture,
				Model: []byte(`{"endpoint":{"connector":{"image":"marmots/image:v1","config":{}}},"bindings":[{"target":"marmots/grass","resource":{"path":["burrow"]}}]}`)},
		},
		Collections: []models.DraftSpec{
			{Name: "marmots/grass", Type: models.CatalogTypeCollection,
				Model: []byte(`{"key":["/id"],"schema":true}`), ExpectPubID: ptr(ids.ID(10))},
		},
		Materializations: []models.DraftSpec{
			{Name: "marmots/warehouse", Type: models.CatalogTypeMaterialization,
				Model: []byte(`{"endpoint":{"connector":{"image":"marmots/sink:v1","config":{}}},"bindings":[{"source":"marmots/grass","resource":{"table":"grass"}}]}`)},
		},
		Tests: []models.DraftSpec{
			{Name: "marmots/a-test", Type: models.CatalogTypeTest,
				Model: []byte(`{"steps":[{"collection":"marmots/grass"}]}`)},
		},
	}

	var out = builder.Build(builder.BuildInput{Draft: draft, Live: live})

	type snapshotRow struct {
		Name        models.Name
		Type        models.CatalogType
		IsTouch     bool
		IsDelete    bool
		IsUnchanged bool
		Validated   bool
		ReadsFrom   []models.Name
		WritesTo    []models.Name
	}
	var rows []snapshotRow
	for _, r := range out.AllRows() {
		rows = append(rows, snapshotRow{
			Name: r.Name, Type: r.Type, IsTouch: r.IsTouch, IsDelete: r.IsDelete,
			IsUnchanged: r.IsUnchanged, Validated: r.Validated, ReadsFrom: r.ReadsFrom, WritesTo: r.WritesTo,
		})
	}

	snapshot, err := json.MarshalIndent(struct {
		Rows   []snapshotRow
		Errors int
	}{Rows: rows, Errors: len(out.Errors)}, "", "  ")
	if err != nil {
		t.Fatalf("marshaling snapshot: %v", err)
	}
	cupaloy.SnapshotT(t, string(snapshot))
}

func ptr(id ids.ID) *ids.ID { return &id }
