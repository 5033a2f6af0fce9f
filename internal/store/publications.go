package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/estuary/flow-controller/internal/ids"
	"github.com/estuary/flow-controller/internal/models"
)

// PublicationStore reads back the publications table a PublicationRecord
// was written to by the publish pipeline's commit, so a controller can
// translate a last_pub_id advance it observes on its own live spec into
// a HistoryEntry (§3, §4.8).
type PublicationStore struct {
	db *sql.DB
}

// NewPublicationStore returns a PublicationStore backed by db.
func NewPublicationStore(db *sql.DB) *PublicationStore { return &PublicationStore{db: db} }

// Insert records a completed publication attempt. The publish pipeline
// itself only writes publication_specs rows inside its commit
// transaction; this table is the full per-publication record the
// catalog API surface would otherwise expose, and here backs controller
// history lookups.
func (s *PublicationStore) Insert(ctx context.Context, rec models.PublicationRecord) error {
	errorsJSON, err := json.Marshal(rec.Errors)
	if err != nil {
		return fmt.Errorf("marshaling publication errors: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO publications(id, user_id, draft_id, detail, auto_evolve, background, data_plane, result, errors, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			result=excluded.result, errors=excluded.errors, completed_at=excluded.completed_at`,
		int64(rec.ID), rec.UserID, rec.DraftID, rec.Detail, rec.AutoEvolve, rec.Background, rec.DataPlane,
		string(rec.Result), string(errorsJSON), rec.CreatedAt.Unix(), rec.CompletedAt.Unix())
	if err != nil {
		return fmt.Errorf("inserting publication %s: %w", rec.ID, err)
	}
	return nil
}

// Get fetches one publication record by id.
func (s *PublicationStore) Get(ctx context.Context, id ids.ID) (models.PublicationRecord, bool, error) {
	var rec models.PublicationRecord
	var errorsJSON string
	var created, completed int64
	var result string
	var row = s.db.QueryRowContext(ctx, `
		SELECT id, user_id, draft_id, detail, auto_evolve, background, data_plane, result, errors, created_at, completed_at
		FROM publications WHERE id=?`, int64(id))
	switch err := row.Scan(&rec.ID, &rec.UserID, &rec.DraftID, &rec.Detail, &rec.AutoEvolve, &rec.Background,
		&rec.DataPlane, &result, &errorsJSON, &created, &completed); err {
	case nil:
		rec.Result = models.PublicationResult(result)
		rec.CreatedAt = time.Unix(created, 0).UTC()
		rec.CompletedAt = time.Unix(completed, 0).UTC()
		_ = json.Unmarshal([]byte(errorsJSON), &rec.Errors)
		return rec, true, nil
	case sql.ErrNoRows:
		return rec, false, nil
	default:
		return rec, false, fmt.Errorf("reading publication %s: %w", id, err)
	}
}
