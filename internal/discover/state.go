package discover

import (
	"time"

	"github.com/estuary/flow-controller/internal/models"
)

// State is one of the auto-discover state machine's states (§4.9).
// Because a controller tick runs a whole cycle synchronously (resolve →
// discover → diff → publish), a single Tick call passes through several
// of these states; State is exposed for status reporting and testing,
// not as a stored field.
type State string

const (
	StateIdle        State = "Idle"
	StateDiscoverDue State = "DiscoverDue"
	StateDiscovering State = "Discovering"
	StateDiffing     State = "Diffing"
	StatePublishing  State = "Publishing"
	StateBackoffWait State = "BackoffWait"
	StateAlertFiring State = "AlertFiring"
)

// IsDue evaluates the entry condition of §4.9: "due = now >= next_at
// AND shard enabled AND model.autoDiscover.{addNewBindings|
// evolveIncompatibleCollections} set AND the capture is not itself
// disabled."
func IsDue(now time.Time, nextAt *time.Time, shardEnabled bool, cfg *struct {
	AddNewBindings                bool
	EvolveIncompatibleCollections bool
}, captureDisabled bool) bool {
	if captureDisabled || !shardEnabled || cfg == nil {
		return false
	}
	if !cfg.AddNewBindings && !cfg.EvolveIncompatibleCollections {
		return false
	}
	return nextAt == nil || !now.Before(*nextAt)
}

// CurrentState derives the reportable State from a capture's
// auto-discover status, for logging and tests.
func CurrentState(status *models.AutoDiscoverStatus, alertFired bool) State {
	if alertFired {
		return StateAlertFiring
	}
	if status == nil {
		return StateIdle
	}
	if status.Failure != nil && status.Failure.Count > 0 {
		return StateBackoffWait
	}
	return StateIdle
}
