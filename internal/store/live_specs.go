package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/estuary/flow-controller/internal/ids"
	"github.com/estuary/flow-controller/internal/models"
)

// LiveSpecStore implements the C2 live-spec store contract of §4.2 on
// top of a *sql.DB.
type LiveSpecStore struct {
	db *sql.DB
}

// NewLiveSpecStore returns a LiveSpecStore backed by db.
func NewLiveSpecStore(db *sql.DB) *LiveSpecStore { return &LiveSpecStore{db: db} }

// LiveCatalog is the resolved set of live specs a build or publication
// operates over, held in one map keyed by folded name.
type LiveCatalog struct {
	ByName map[string]models.LiveSpec // keyed by Name.Fold()
}

// Get returns the live spec for name, if resolved.
func (c LiveCatalog) Get(name models.Name) (models.LiveSpec, bool) {
	var s, ok = c.ByName[name.Fold()]
	return s, ok
}

// Capability is the per-name access level the authorization oracle
// grants a caller (§4.4).
type Capability string

const (
	CapabilityRead  Capability = "read"
	CapabilityWrite Capability = "write"
	CapabilityAdmin Capability = "admin"
)

// Resolve fetches the live specs named by names plus the ops/*
// collections implied by each name's tenant, in one round-trip,
// matching §4.2's resolve contract. inferred schemas and storage
// mappings are external-collaborator inputs the builder also needs;
// resolving them is not modeled here since they live behind the
// schema-inference and storage-mapping interfaces out of scope per §1.
func (s *LiveSpecStore) Resolve(ctx context.Context, names []models.Name) (LiveCatalog, error) {
	var all = make(map[string]models.Name, len(names)*2)
	for _, n := range names {
		all[n.Fold()] = n
		for _, ops := range models.OpsCollectionNames(n) {
			all[ops.Fold()] = ops
		}
	}

	var out = LiveCatalog{ByName: make(map[string]models.LiveSpec, len(all))}
	if len(all) == 0 {
		return out, nil
	}

	var placeholders = make([]string, 0, len(all))
	var args = make([]interface{}, 0, len(all))
	for _, n := range all {
		placeholders = append(placeholders, "?")
		args = append(args, n.Fold())
	}

	var query = fmt.Sprintf(`
		SELECT id, catalog_name, spec_type, spec, built_spec, built_spec_hash,
		       last_pub_id, generation_id, reads_from, writes_to, source_capture,
		       data_plane_id, inferred_schema_hash, deleted_at
		FROM live_specs WHERE catalog_name_fold IN (%s)`,
		strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return out, fmt.Errorf("resolving live specs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		spec, err := scanLiveSpec(rows)
		if err != nil {
			return out, err
		}
		out.ByName[spec.Name.Fold()] = spec
	}
	return out, rows.Err()
}

func scanLiveSpec(rows *sql.Rows) (models.LiveSpec, error) {
	var (
		spec                                        models.LiveSpec
		model, builtSpec, readsFrom, writesTo        sql.NullString
		sourceCapture, inferredHash                  sql.NullString
		deletedAt                                    sql.NullInt64
		lastPubID, generationID                       int64
		name                                         string
		typ                                          string
	)
	if err := rows.Scan(&spec.ID, &name, &typ, &model, &builtSpec, &spec.BuiltSpecHash,
		&lastPubID, &generationID, &readsFrom, &writesTo, &sourceCapture,
		&spec.DataPlaneID, &inferredHash, &deletedAt); err != nil {
		return spec, fmt.Errorf("scanning live spec: %w", err)
	}
	spec.Name = models.Name(name)
	spec.Type = models.CatalogType(typ)
	spec.LastPubID = ids.ID(lastPubID)
	spec.Generation = ids.ID(generationID)
	if model.Valid {
		spec.Model = models.RawJSON(model.String)
	}
	if builtSpec.Valid {
		spec.BuiltSpec = models.RawJSON(builtSpec.String)
	}
	if readsFrom.Valid {
		_ = json.Unmarshal([]byte(readsFrom.String), &spec.ReadsFrom)
	}
	if writesTo.Valid {
		_ = json.Unmarshal([]byte(writesTo.String), &spec.WritesTo)
	}
	if sourceCapture.Valid {
		var n = models.Name(sourceCapture.String)
		spec.SourceCapture = &n
	}
	if inferredHash.Valid {
		spec.InferredSchemaHash = &inferredHash.String
	}
	if deletedAt.Valid {
		spec.DeletedAt = &deletedAt.Int64
	}
	return spec, nil
}

// LockedRevision is one row's observed last_pub_id under a publication
// transaction lock, per §4.6 step 5/6.
type LockedRevision struct {
	Name      models.Name
	LiveSpecID int64
	LastPubID ids.ID
	Exists    bool
}

// LockRevisions row-locks names under txn (via SQLite's single-writer
// serialization) and returns each one's current last_pub_id, used for
// unchanged (touch-only) rows that still participate in the lock check
// (§4.6 step 5-6).
func (s *LiveSpecStore) LockRevisions(ctx context.Context, txn *sql.Tx, names []models.Name) (map[string]LockedRevision, error) {
	var out = make(map[string]LockedRevision, len(names))
	for _, n := range names {
		var row = txn.QueryRowContext(ctx,
			`SELECT id, last_pub_id FROM live_specs WHERE catalog_name_fold = ?`, n.Fold())
		var id int64
		var pub int64
		switch err := row.Scan(&id, &pub); err {
		case nil:
			out[n.Fold()] = LockedRevision{Name: n, LiveSpecID: id, LastPubID: ids.ID(pub), Exists: true}
		case sql.ErrNoRows:
			out[n.Fold()] = LockedRevision{Name: n, Exists: false}
		default:
			return nil, fmt.Errorf("locking revision of %s: %w", n, err)
		}
	}
	return out, nil
}

// UpdateRow is one changed row to upsert under apply_updates (§4.2).
type UpdateRow struct {
	Name          models.Name
	Type          models.CatalogType
	Model         models.RawJSON // nil deletes (soft-delete path)
	BuiltSpec     models.RawJSON
	BuiltSpecHash uint64
	ReadsFrom     []models.Name
	WritesTo      []models.Name
	SourceCapture *models.Name
	DataPlaneID   string
	ResetGeneration bool // true for an auto-discover key-change reset (§4.9 S4)
}

// AppliedUpdate reports the prior and new pub id for one upserted row,
// used by the caller to detect lock failures (§4.2, §4.6 step 6).
type AppliedUpdate struct {
	Name       models.Name
	LiveSpecID int64
	PriorPubID ids.ID
	NewPubID   ids.ID
	Existed    bool
}

// ApplyUpdates upserts rows under txn, stamping pubID as the new
// last_pub_id, and returns the prior/new pub ids needed for lock
// failure detection (§4.2).
func (s *LiveSpecStore) ApplyUpdates(ctx context.Context, txn *sql.Tx, pubID ids.ID, rows []UpdateRow) ([]AppliedUpdate, error) {
	var out = make([]AppliedUpdate, 0, len(rows))
	for _, r := range rows {
		var priorPubID ids.ID
		var liveSpecID int64
		var existed bool

		var row = txn.QueryRowContext(ctx, `SELECT id, last_pub_id FROM live_specs WHERE catalog_name_fold = ?`, r.Name.Fold())
		var prior int64
		switch err := row.Scan(&liveSpecID, &prior); err {
		case nil:
			existed = true
			priorPubID = ids.ID(prior)
		case sql.ErrNoRows:
			existed = false
		default:
			return nil, fmt.Errorf("reading prior revision of %s: %w", r.Name, err)
		}

		readsFromJSON, _ := json.Marshal(r.ReadsFrom)
		writesToJSON, _ := json.Marshal(r.WritesTo)
		var sourceCapture interface{}
		if r.SourceCapture != nil {
			sourceCapture = string(*r.SourceCapture)
		}

		var generationExpr = "generation_id"
		if r.ResetGeneration || !existed {
			generationExpr = "?"
		}

		if !existed {
			res, err := txn.ExecContext(ctx, fmt.Sprintf(`
				INSERT INTO live_specs(
					catalog_name, catalog_name_fold, spec_type, spec, built_spec, built_spec_hash,
					last_pub_id, generation_id, reads_from, writes_to, source_capture, data_plane_id)
				VALUES (?, ?, ?, ?, ?, ?, ?, %s, ?, ?, ?, ?)`, generationExpr),
				string(r.Name), r.Name.Fold(), string(r.Type), nullableJSON(r.Model), nullableJSON(r.BuiltSpec), r.BuiltSpecHash,
				int64(pubID), int64(pubID), string(readsFromJSON), string(writesToJSON), sourceCapture, r.DataPlaneID)
			if err != nil {
				return nil, fmt.Errorf("inserting live spec %s: %w", r.Name, err)
			}
			liveSpecID, err = res.LastInsertId()
			if err != nil {
				return nil, fmt.Errorf("reading inserted id of %s: %w", r.Name, err)
			}
		} else {
			if r.ResetGeneration {
				_, err := txn.ExecContext(ctx, `
					UPDATE live_specs SET spec=?, built_spec=?, built_spec_hash=?, last_pub_id=?, generation_id=?,
					       reads_from=?, writes_to=?, source_capture=?, data_plane_id=?, deleted_at=NULL
					WHERE id=?`,
					nullableJSON(r.Model), nullableJSON(r.BuiltSpec), r.BuiltSpecHash, int64(pubID), int64(pubID),
					string(readsFromJSON), string(writesToJSON), sourceCapture, r.DataPlaneID, liveSpecID)
				if err != nil {
					return nil, fmt.Errorf("resetting live spec %s: %w", r.Name, err)
				}
			} else if r.Model == nil {
				// Soft delete (I5): preserve type and last_pub_id, clear the rest.
				_, err := txn.ExecContext(ctx, `
					UPDATE live_specs SET spec=NULL, built_spec=NULL, built_spec_hash=0, last_pub_id=?,
					       reads_from=NULL, writes_to=NULL, deleted_at=?
					WHERE id=?`, int64(pubID), int64(pubID), liveSpecID)
				if err != nil {
					return nil, fmt.Errorf("soft-deleting live spec %s: %w", r.Name, err)
				}
			} else {
				_, err := txn.ExecContext(ctx, `
					UPDATE live_specs SET spec=?, built_spec=?, built_spec_hash=?, last_pub_id=?,
					       reads_from=?, writes_to=?, source_capture=?, data_plane_id=?
					WHERE id=?`,
					nullableJSON(r.Model), nullableJSON(r.BuiltSpec), r.BuiltSpecHash, int64(pubID),
					string(readsFromJSON), string(writesToJSON), sourceCapture, r.DataPlaneID, liveSpecID)
				if err != nil {
					return nil, fmt.Errorf("updating live spec %s: %w", r.Name, err)
				}
			}
		}

		if !existed {
			if _, err := txn.ExecContext(ctx, `
				INSERT INTO controller_jobs(live_spec_id, controller_next_run, updated_at, status)
				VALUES (?, ?, ?, '{}')`, liveSpecID, int64(pubID), int64(pubID)); err != nil {
				return nil, fmt.Errorf("creating controller job for %s: %w", r.Name, err)
			}
		}

		out = append(out, AppliedUpdate{Name: r.Name, LiveSpecID: liveSpecID, PriorPubID: priorPubID, NewPubID: pubID, Existed: existed})
	}
	return out, nil
}

func nullableJSON(v models.RawJSON) interface{} {
	if v == nil {
		return nil
	}
	return string(v)
}

// SoftDelete marks name deleted as of pubID outside of a publication
// transaction. Nothing in this module calls it; production soft-deletes
// go through ApplyUpdates inside the publication transaction.
func (s *LiveSpecStore) SoftDelete(ctx context.Context, name models.Name, pubID ids.ID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE live_specs SET spec=NULL, built_spec=NULL, built_spec_hash=0, last_pub_id=?,
		       reads_from=NULL, writes_to=NULL, deleted_at=?
		WHERE catalog_name_fold=?`, int64(pubID), int64(pubID), name.Fold())
	if err != nil {
		return fmt.Errorf("soft-deleting %s: %w", name, err)
	}
	return nil
}

// HardDelete removes name's live spec (and cascades its controller job)
// once all dependents have observed the deletion (I5, §4.10).
func (s *LiveSpecStore) HardDelete(ctx context.Context, name models.Name) error {
	var tx, err = s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning hard delete of %s: %w", name, err)
	}
	defer tx.Rollback()

	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM live_specs WHERE catalog_name_fold=?`, name.Fold()).Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return fmt.Errorf("looking up %s for hard delete: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM controller_jobs WHERE live_spec_id=?`, id); err != nil {
		return fmt.Errorf("deleting controller job of %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM live_specs WHERE id=?`, id); err != nil {
		return fmt.Errorf("deleting live spec %s: %w", name, err)
	}
	return tx.Commit()
}

// ListDependents returns the names of live specs that read from name
// (§4.2).
func (s *LiveSpecStore) ListDependents(ctx context.Context, name models.Name) ([]models.Name, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT catalog_name, reads_from FROM live_specs WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("listing dependents of %s: %w", name, err)
	}
	defer rows.Close()

	var out []models.Name
	for rows.Next() {
		var n string
		var readsFrom sql.NullString
		if err := rows.Scan(&n, &readsFrom); err != nil {
			return nil, err
		}
		if !readsFrom.Valid {
			continue
		}
		var reads []models.Name
		_ = json.Unmarshal([]byte(readsFrom.String), &reads)
		for _, r := range reads {
			if r.Fold() == name.Fold() {
				out = append(out, models.Name(n))
				break
			}
		}
	}
	return out, rows.Err()
}

// Get fetches a single live spec by name outside of any transaction.
func (s *LiveSpecStore) Get(ctx context.Context, name models.Name) (models.LiveSpec, bool, error) {
	var cat, err = s.Resolve(ctx, []models.Name{name})
	if err != nil {
		return models.LiveSpec{}, false, err
	}
	var spec, ok = cat.Get(name)
	return spec, ok, nil
}

// DB exposes the underlying *sql.DB for callers (e.g. the publication
// pipeline) that need to open their own transactions spanning multiple
// stores.
func (s *LiveSpecStore) DB() *sql.DB { return s.db }
