// Package alerts implements the alert-firing/clearing rules shared by
// the auto-discover and activation subsystems (§4.9, §4.10, §6).
package alerts

import (
	"context"
	"database/sql"

	"github.com/estuary/flow-controller/internal/models"
	"github.com/estuary/flow-controller/internal/store"
)

// AutoDiscoverFailureThreshold is the number of consecutive
// discover/publish failures that raises an AutoDiscoverFailed alert
// (§4.9, §8): "three consecutive failures... raise an
// AutoDiscoverFailed alert".
const AutoDiscoverFailureThreshold = 3

// Rules evaluates and persists alert transitions under the same
// transaction as the controller status write, per §5's shared-resource
// policy.
type Rules struct {
	Alerts *store.AlertStore
}

// EvaluateAutoDiscoverFailure fires or maintains an AutoDiscoverFailed
// alert once count reaches AutoDiscoverFailureThreshold.
func (r *Rules) EvaluateAutoDiscoverFailure(ctx context.Context, tx *sql.Tx, spec models.Name, count int, lastErr string) error {
	if count < AutoDiscoverFailureThreshold {
		return nil
	}
	return r.Alerts.Fire(ctx, tx, spec, models.AlertAutoDiscoverFailed, true, &lastErr)
}

// ClearAutoDiscoverFailure resolves any firing AutoDiscoverFailed
// alert, called when a discover/publish cycle succeeds (§4.9).
func (r *Rules) ClearAutoDiscoverFailure(ctx context.Context, tx *sql.Tx, spec models.Name) error {
	return r.Alerts.Clear(ctx, tx, spec, models.AlertAutoDiscoverFailed)
}

// EvaluateShardFailure records a ShardFailed occurrence. Unlike
// auto-discover, a single shard failure event is itself alert-worthy
// context for the activation subsystem's reactivation policy (§4.10),
// though firing is left to operator-configured thresholds outside this
// engine's scope; here the occurrence is always recorded unfired so
// that downstream alerting policy can be layered on top without
// changing this engine's schema.
func (r *Rules) EvaluateShardFailure(ctx context.Context, tx *sql.Tx, spec models.Name, errMsg string) error {
	return r.Alerts.Fire(ctx, tx, spec, models.AlertShardFailed, false, &errMsg)
}

// ClearShardFailure resolves a firing ShardFailed alert once the task
// reactivates successfully.
func (r *Rules) ClearShardFailure(ctx context.Context, tx *sql.Tx, spec models.Name) error {
	return r.Alerts.Clear(ctx, tx, spec, models.AlertShardFailed)
}
