package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/estuary/flow-controller/internal/ids"
	"github.com/estuary/flow-controller/internal/models"
)

// AlertStore persists alert_history rows, implementing the
// upsert-on-unresolved policy supplemented from original_source/ (see
// SPEC_FULL.md §8.1): only one unresolved row may exist per
// (spec, type) at a time.
type AlertStore struct {
	db    *sql.DB
	clock ids.Clock
}

// NewAlertStore returns an AlertStore backed by db.
func NewAlertStore(db *sql.DB, clock ids.Clock) *AlertStore {
	return &AlertStore{db: db, clock: clock}
}

// Fire records an occurrence of alertType against spec. If an
// unresolved row already exists it is updated in place (last_ts, count,
// fired, error); otherwise a new row is inserted. Both paths write the
// caller's fired flag, so the caller's policy (e.g. three consecutive
// failures, §4.9) decides whether the alert is fired.
func (s *AlertStore) Fire(ctx context.Context, tx *sql.Tx, spec models.Name, alertType models.AlertType, fired bool, errMsg *string) error {
	var now = s.clock.Now()
	var exec = s.execer(tx)

	var id int64
	var count int
	var row = exec.QueryRowContext(ctx, `
		SELECT id, count FROM alert_history
		WHERE spec_name=? AND alert_type=? AND resolved_ts IS NULL`, string(spec), string(alertType))
	switch err := row.Scan(&id, &count); err {
	case nil:
		_, err = exec.ExecContext(ctx, `
			UPDATE alert_history SET last_ts=?, count=?, fired=?, error=? WHERE id=?`,
			now.Unix(), count+1, fired, errMsg, id)
		if err != nil {
			return fmt.Errorf("updating alert for %s: %w", spec, err)
		}
	case sql.ErrNoRows:
		_, err = exec.ExecContext(ctx, `
			INSERT INTO alert_history(spec_name, alert_type, first_ts, last_ts, count, fired, error)
			VALUES (?, ?, ?, ?, 1, ?, ?)`, string(spec), string(alertType), now.Unix(), now.Unix(), fired, errMsg)
		if err != nil {
			return fmt.Errorf("inserting alert for %s: %w", spec, err)
		}
	default:
		return fmt.Errorf("looking up alert for %s: %w", spec, err)
	}
	return nil
}

// Clear resolves the currently unresolved alert of alertType for spec,
// if any (§4.9: "a subsequent success clears it").
func (s *AlertStore) Clear(ctx context.Context, tx *sql.Tx, spec models.Name, alertType models.AlertType) error {
	var exec = s.execer(tx)
	_, err := exec.ExecContext(ctx, `
		UPDATE alert_history SET resolved_ts=? WHERE spec_name=? AND alert_type=? AND resolved_ts IS NULL`,
		s.clock.Now().Unix(), string(spec), string(alertType))
	if err != nil {
		return fmt.Errorf("clearing alert for %s: %w", spec, err)
	}
	return nil
}

// Active returns the currently unresolved alert of alertType for spec,
// if any.
func (s *AlertStore) Active(ctx context.Context, spec models.Name, alertType models.AlertType) (models.AlertState, bool, error) {
	var a models.AlertState
	var firstTS, lastTS int64
	var errMsg sql.NullString
	var row = s.db.QueryRowContext(ctx, `
		SELECT id, spec_name, alert_type, first_ts, last_ts, count, fired, error
		FROM alert_history WHERE spec_name=? AND alert_type=? AND resolved_ts IS NULL`, string(spec), string(alertType))
	switch err := row.Scan(&a.ID, &a.Spec, &a.Type, &firstTS, &lastTS, &a.Count, &a.Fired, &errMsg); err {
	case nil:
		a.FirstTS = time.Unix(firstTS, 0).UTC()
		a.LastTS = time.Unix(lastTS, 0).UTC()
		if errMsg.Valid {
			a.Error = &errMsg.String
		}
		return a, true, nil
	case sql.ErrNoRows:
		return a, false, nil
	default:
		return a, false, fmt.Errorf("reading active alert for %s: %w", spec, err)
	}
}

// execer abstracts over *sql.DB and *sql.Tx so alert writes can join
// the same transaction as the controller status update (§5
// shared-resource policy: "alert state is updated under the same
// transaction as the controller status").
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *AlertStore) execer(tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return s.db
}
