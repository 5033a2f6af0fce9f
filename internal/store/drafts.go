package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/estuary/flow-controller/internal/ids"
	"github.com/estuary/flow-controller/internal/models"
)

// DraftStore implements the C3 draft store contract of §4.3.
type DraftStore struct {
	db   *sql.DB
	live *LiveSpecStore
}

// NewDraftStore returns a DraftStore backed by db, consulting live for
// deletion-of-nonexistent-spec validation.
func NewDraftStore(db *sql.DB, live *LiveSpecStore) *DraftStore {
	return &DraftStore{db: db, live: live}
}

// Upsert inserts or replaces the drafted entry for name within draftID.
// isTouch marks the entry as a no-op republish, whose only purpose is
// to advance the name's last_pub_id for its dependents (§3).
func (s *DraftStore) Upsert(ctx context.Context, draftID string, name models.Name, typ models.CatalogType, model models.RawJSON, expectPubID *ids.ID, isTouch bool) error {
	var expect interface{}
	if expectPubID != nil {
		expect = int64(*expectPubID)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO draft_specs(draft_id, catalog_name, spec_type, spec, expect_pub_id, is_touch)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(draft_id, catalog_name) DO UPDATE SET
			spec_type=excluded.spec_type, spec=excluded.spec, expect_pub_id=excluded.expect_pub_id, is_touch=excluded.is_touch`,
		draftID, string(name), string(typ), nullableJSON(model), expect, isTouch)
	if err != nil {
		return fmt.Errorf("upserting draft spec %s: %w", name, err)
	}
	return nil
}

// Delete removes the draft's entries entirely, called after a
// successful publish consumes it (§3 DraftSpec lifecycle).
func (s *DraftStore) Delete(ctx context.Context, draftID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM draft_specs WHERE draft_id=?`, draftID)
	if err != nil {
		return fmt.Errorf("deleting draft %s: %w", draftID, err)
	}
	return nil
}

// Load reads draftID's entries, partitioned by type, validating that
// every deletion (null model) references an existing live spec — a
// draft error, not a build failure (§4.3, boundary behavior in §8).
func (s *DraftStore) Load(ctx context.Context, draftID string) (models.Draft, error) {
	var out = models.Draft{DraftID: draftID}

	rows, err := s.db.QueryContext(ctx, `
		SELECT catalog_name, spec_type, spec, expect_pub_id, is_touch
		FROM draft_specs WHERE draft_id=?`, draftID)
	if err != nil {
		return out, fmt.Errorf("loading draft %s: %w", draftID, err)
	}
	defer rows.Close()

	var entries []models.DraftSpec
	for rows.Next() {
		var name, typ string
		var model sql.NullString
		var expect sql.NullInt64
		var isTouch bool
		if err := rows.Scan(&name, &typ, &model, &expect, &isTouch); err != nil {
			return out, fmt.Errorf("scanning draft spec: %w", err)
		}
		var entry = models.DraftSpec{DraftID: draftID, Name: models.Name(name), Type: models.CatalogType(typ), IsTouch: isTouch}
		if model.Valid {
			entry.Model = models.RawJSON(model.String)
		}
		if expect.Valid {
			var id = ids.ID(expect.Int64)
			entry.ExpectPubID = &id
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return out, err
	}

	for _, e := range entries {
		if e.IsDeletion() {
			if _, exists, err := s.live.Get(ctx, e.Name); err != nil {
				return out, err
			} else if !exists {
				out.Errors = append(out.Errors, models.DraftError{
					Name:  e.Name,
					Error: "deletion of non-existent spec",
				})
				continue
			}
		}
		switch e.Type {
		case models.CatalogTypeCapture:
			out.Captures = append(out.Captures, e)
		case models.CatalogTypeCollection:
			out.Collections = append(out.Collections, e)
		case models.CatalogTypeMaterialization:
			out.Materializations = append(out.Materializations, e)
		case models.CatalogTypeTest:
			out.Tests = append(out.Tests, e)
		}
	}
	return out, nil
}
