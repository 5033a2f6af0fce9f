package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/estuary/flow-controller/internal/ids"
	"github.com/estuary/flow-controller/internal/models"
)

// ControllerJobStore persists the per-name scheduler queue of §4.7 on
// top of controller_jobs, emulating SKIP LOCKED with a leased_until
// claim column since SQLite has no native row-skip-locking.
type ControllerJobStore struct {
	db    *sql.DB
	clock ids.Clock
}

// NewControllerJobStore returns a ControllerJobStore backed by db.
func NewControllerJobStore(db *sql.DB, clock ids.Clock) *ControllerJobStore {
	return &ControllerJobStore{db: db, clock: clock}
}

// Leased is one claimed controller job, ready for an executor to run.
type Leased struct {
	LiveSpecID        int64
	Name              models.Name
	Type              models.CatalogType
	ControllerVersion int64
	Status            models.RawJSON
	Failures          int
}

// leaseDuration bounds how long a claimed job may run before another
// worker is allowed to reclaim it (e.g. after a crash), matching the
// tick budget of §5.
const leaseDuration = 5 * time.Minute

// TryRunNext claims the controller job with the smallest
// controller_next_run <= now, among those not currently leased,
// breaking ties with LiveSpecID for determinism within a tick (jitter
// is mixed only into failure backoff delays, by scheduler.Backoff; no
// jitter is added at enqueue time). It returns ok=false if no job is due.
func (s *ControllerJobStore) TryRunNext(ctx context.Context) (job Leased, ok bool, err error) {
	var now = s.clock.Now()
	var tx, txErr = s.db.BeginTx(ctx, nil)
	if txErr != nil {
		return job, false, fmt.Errorf("beginning lease transaction: %w", txErr)
	}
	defer tx.Rollback()

	var row = tx.QueryRowContext(ctx, `
		SELECT cj.live_spec_id, ls.catalog_name, ls.spec_type, cj.controller_version, cj.status, cj.failures
		FROM controller_jobs cj JOIN live_specs ls ON ls.id = cj.live_spec_id
		WHERE cj.controller_next_run IS NOT NULL AND cj.controller_next_run <= ?
		  AND (cj.leased_until IS NULL OR cj.leased_until < ?)
		ORDER BY cj.controller_next_run ASC, cj.live_spec_id ASC
		LIMIT 1`, now.Unix(), now.Unix())

	var name, typ string
	var status sql.NullString
	if err := row.Scan(&job.LiveSpecID, &name, &typ, &job.ControllerVersion, &status, &job.Failures); err != nil {
		if err == sql.ErrNoRows {
			return job, false, nil
		}
		return job, false, fmt.Errorf("selecting next controller job: %w", err)
	}
	job.Name = models.Name(name)
	job.Type = models.CatalogType(typ)
	if status.Valid {
		job.Status = models.RawJSON(status.String)
	}

	var leasedUntil = now.Add(leaseDuration).Unix()
	if _, err := tx.ExecContext(ctx, `UPDATE controller_jobs SET leased_until=? WHERE live_spec_id=?`, leasedUntil, job.LiveSpecID); err != nil {
		return job, false, fmt.Errorf("leasing controller job %s: %w", job.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return job, false, fmt.Errorf("committing lease of %s: %w", job.Name, err)
	}
	return job, true, nil
}

// CountDue reports how many controller jobs are currently due (next_run
// in the past and not presently leased), for the scheduler's queue-depth
// gauge. It is a plain read with no locking, so the count is advisory.
func (s *ControllerJobStore) CountDue(ctx context.Context) (int, error) {
	var now = s.clock.Now()
	var n int
	var row = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM controller_jobs
		WHERE controller_next_run IS NOT NULL AND controller_next_run <= ?
		  AND (leased_until IS NULL OR leased_until < ?)`, now.Unix(), now.Unix())
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("counting due controller jobs: %w", err)
	}
	return n, nil
}

// Complete writes back an executor's result for liveSpecID, clearing
// the lease. nextRun is written as given, and nil means "no pending
// work" (I6); a non-nil execErr increments Failures and records
// last_error. The dispatcher substitutes a backoff time for nextRun only
// when the executor returned an error and no next run of its own.
func (s *ControllerJobStore) Complete(ctx context.Context, liveSpecID int64, version int64, status models.RawJSON, nextRun *time.Time, execErr error) error {
	var nextRunArg interface{}
	if nextRun != nil {
		nextRunArg = nextRun.Unix()
	}
	var lastErrorArg interface{}
	var failuresExpr = "failures"
	if execErr != nil {
		var msg = execErr.Error()
		lastErrorArg = msg
		failuresExpr = "failures + 1"
	} else {
		failuresExpr = "0"
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE controller_jobs SET
			controller_next_run=?, controller_version=controller_version+1, updated_at=?,
			status=?, failures=%s, last_error=?, leased_until=NULL
		WHERE live_spec_id=? AND controller_version=?`, failuresExpr),
		nextRunArg, s.clock.Now().Unix(), string(status), lastErrorArg, liveSpecID, version)
	if err != nil {
		return fmt.Errorf("completing controller job %d: %w", liveSpecID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("controller job %d: version %d is stale, another worker advanced it", liveSpecID, version)
	}
	return nil
}

// EnqueueNow sets controller_next_run=now for every name in names,
// implementing the "enqueue changed rows" and notify_dependents
// behaviors of §4.6 step 9 / §4.7(b).
func (s *ControllerJobStore) EnqueueNow(ctx context.Context, names []models.Name) error {
	return s.enqueueAt(ctx, names, s.clock.Now())
}

// EnqueueAt schedules names to run no earlier than at, used by
// executors returning a next_run hint (§4.7(c)).
func (s *ControllerJobStore) EnqueueAt(ctx context.Context, names []models.Name, at time.Time) error {
	return s.enqueueAt(ctx, names, at)
}

func (s *ControllerJobStore) enqueueAt(ctx context.Context, names []models.Name, at time.Time) error {
	for _, n := range names {
		_, err := s.db.ExecContext(ctx, `
			UPDATE controller_jobs SET controller_next_run = ?
			FROM live_specs
			WHERE controller_jobs.live_spec_id = live_specs.id
			  AND live_specs.catalog_name_fold = ?
			  AND (controller_jobs.controller_next_run IS NULL OR controller_jobs.controller_next_run > ?)`,
			at.Unix(), n.Fold(), at.Unix())
		if err != nil {
			return fmt.Errorf("enqueueing %s: %w", n, err)
		}
	}
	return nil
}
