package executors

import (
	"context"
	"database/sql"
	"testing"

	"github.com/estuary/flow-controller/internal/models"
	"github.com/estuary/flow-controller/internal/store"
)

// openTestStore returns an ephemeral SQLite-backed LiveSpecStore, as
// every executor's Live field needs for Get/HardDelete.
func openTestStore(t *testing.T) (*sql.DB, *store.LiveSpecStore) {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, store.NewLiveSpecStore(db)
}

// seedLiveSpec inserts a live spec row directly (bypassing the
// publication pipeline, which every executor test but the publish
// pipeline's own doesn't need to exercise).
func seedLiveSpec(t *testing.T, db *sql.DB, spec models.LiveSpec) int64 {
	t.Helper()
	var deletedAt interface{}
	if spec.DeletedAt != nil {
		deletedAt = *spec.DeletedAt
	}
	var model interface{}
	if spec.Model != nil {
		model = string(spec.Model)
	}
	res, err := db.ExecContext(context.Background(), `
		INSERT INTO live_specs(catalog_name, catalog_name_fold, spec_type, spec, last_pub_id, generation_id, data_plane_id, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, '', ?)`,
		string(spec.Name), spec.Name.Fold(), string(spec.Type), model, int64(spec.LastPubID), int64(spec.Generation), deletedAt)
	if err != nil {
		t.Fatalf("seeding live spec %s: %v", spec.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("reading inserted id of %s: %v", spec.Name, err)
	}
	return id
}

func leasedJob(name models.Name, typ models.CatalogType, status models.RawJSON) store.Leased {
	return store.Leased{Name: name, Type: typ, Status: status}
}
