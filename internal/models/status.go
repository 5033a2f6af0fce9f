package models

import (
	"time"

	"github.com/estuary/flow-controller/internal/ids"
)

// PublicationResult is the outcome recorded against a PublicationRecord
// and against each affected controller's publication history (§3, §7).
type PublicationResult string

const (
	ResultSuccess     PublicationResult = "success"
	ResultBuildFailed PublicationResult = "buildFailed"
	ResultLockFailed  PublicationResult = "lockFailed"
	ResultEmptyDraft  PublicationResult = "emptyDraft"
	ResultExpired     PublicationResult = "expired"
)

// PublicationRecord is the durable record of one publication attempt
// (§3).
type PublicationRecord struct {
	ID          ids.ID            `json:"id" db:"id"`
	UserID      string            `json:"userId" db:"user_id"`
	DraftID     string            `json:"draftId" db:"draft_id"`
	Detail      string            `json:"detail,omitempty" db:"detail"`
	AutoEvolve  bool              `json:"autoEvolve" db:"auto_evolve"`
	Background  bool              `json:"background" db:"background"`
	DataPlane   string            `json:"dataPlane" db:"data_plane"`
	Result      PublicationResult `json:"result" db:"result"`
	Errors      []PublicationErr  `json:"errors,omitempty" db:"errors"`
	CreatedAt   time.Time         `json:"createdAt" db:"created_at"`
	CompletedAt time.Time         `json:"completedAt" db:"completed_at"`
}

// PublicationErr is one structured error surfaced from a publication
// attempt, carrying a synthetic scope per §4.4/§4.5.
type PublicationErr struct {
	Scope string `json:"scope"`
	Error string `json:"error"`
}

// HistoryEntry is one entry in a capture/collection/materialization/test
// controller's bounded publication history deque (§3, I4).
type HistoryEntry struct {
	ID        ids.ID            `json:"id"`
	Created   time.Time         `json:"created"`
	Completed time.Time         `json:"completed"`
	Detail    string            `json:"detail,omitempty"`
	Result    PublicationResult `json:"result"`
	Errors    []PublicationErr  `json:"errors,omitempty"`
	Count     int               `json:"count,omitempty"`
}

// SameOutcome reports whether h and other represent the same
// (result, errors) pair, the criterion for collapsing consecutive
// touch-publication history entries under I4.
func (h HistoryEntry) SameOutcome(other HistoryEntry) bool {
	if h.Result != other.Result || len(h.Errors) != len(other.Errors) {
		return false
	}
	for i := range h.Errors {
		if h.Errors[i] != other.Errors[i] {
			return false
		}
	}
	return true
}

// PublicationHistory is the bounded deque of recent publications for a
// single controller, newest first.
type PublicationHistory struct {
	History          []HistoryEntry `json:"history,omitempty"`
	MaxObservedPubID ids.ID         `json:"maxObservedPubId"`
}

// MaxHistoryLen bounds the publication history deque (I4).
const MaxHistoryLen = 10

// Push appends entry to the history, collapsing into the most recent
// entry if it shares the same outcome and carries no errors (I4), and
// trims the deque to MaxHistoryLen.
func (h *PublicationHistory) Push(entry HistoryEntry) {
	if entry.ID > h.MaxObservedPubID {
		h.MaxObservedPubID = entry.ID
	}
	if len(h.History) > 0 {
		var head = &h.History[0]
		if head.SameOutcome(entry) && len(entry.Errors) == 0 {
			head.Completed = entry.Completed
			if head.Count == 0 {
				head.Count = 1
			}
			head.Count++
			return
		}
	}
	h.History = append([]HistoryEntry{entry}, h.History...)
	if len(h.History) > MaxHistoryLen {
		h.History = h.History[:MaxHistoryLen]
	}
}

// ShardStatus summarizes the data-plane reported health of a task's
// shards.
type ShardStatus string

const (
	ShardStatusOK      ShardStatus = "ok"
	ShardStatusPending ShardStatus = "pending"
	ShardStatusFailed  ShardStatus = "failed"
)

// ActivationStatus tracks the task activation state machine (§4.10).
type ActivationStatus struct {
	LastActivated      ids.ID       `json:"lastActivated,omitempty"`
	LastActivatedAt    *time.Time   `json:"lastActivatedAt,omitempty"`
	ShardStatus        ShardStatus  `json:"shardStatus,omitempty"`
	RecentFailureCount int          `json:"recentFailureCount,omitempty"`
	NextRetry          *time.Time   `json:"nextRetry,omitempty"`
}

// Outcome records one auto-discover cycle's result (§3).
type Outcome struct {
	Timestamp     time.Time          `json:"ts"`
	Added         []string           `json:"added,omitempty"`
	Modified      []string           `json:"modified,omitempty"`
	Removed       []string           `json:"removed,omitempty"`
	PublishResult *PublicationResult `json:"publishResult,omitempty"`
	Errors        []PublicationErr   `json:"errors,omitempty"`
}

// IsNoOp reports whether this Outcome represents an empty diff.
func (o Outcome) IsNoOp() bool {
	return len(o.Added) == 0 && len(o.Modified) == 0 && len(o.Removed) == 0
}

// AutoDiscoverFailure accumulates consecutive discover/publish failures
// for a capture (§4.9).
type AutoDiscoverFailure struct {
	Count       int       `json:"count"`
	FirstTS     time.Time `json:"firstTs"`
	LastOutcome Outcome   `json:"lastOutcome"`
}

// AutoDiscoverStatus is the auto-discover state carried in a capture
// controller's status (§3, §4.9).
type AutoDiscoverStatus struct {
	NextAt      *time.Time           `json:"nextAt,omitempty"`
	LastSuccess *Outcome             `json:"lastSuccess,omitempty"`
	Failure     *AutoDiscoverFailure `json:"failure,omitempty"`
	// BindingPaths records, per binding target (Name.Fold()), the
	// connector-assigned resource path most recently observed for it at
	// discover time, so the next cycle can match a discovered binding
	// back to the capture binding it corresponds to (§4.9). A binding
	// added outside of discover (hand-authored) has no entry here until
	// its first discover cycle observes it.
	BindingPaths map[string][]string `json:"bindingPaths,omitempty"`
}

// CaptureStatus is the full status document of a capture controller
// (§3).
type CaptureStatus struct {
	Publications PublicationHistory  `json:"publications"`
	Activation   ActivationStatus    `json:"activation"`
	AutoDiscover *AutoDiscoverStatus `json:"autoDiscover,omitempty"`
}

// CollectionStatus is the status document of a collection/derivation
// controller.
type CollectionStatus struct {
	Publications PublicationHistory `json:"publications"`
	Activation   ActivationStatus   `json:"activation"`
}

// MaterializationStatus is the status document of a materialization
// controller.
type MaterializationStatus struct {
	Publications PublicationHistory `json:"publications"`
	Activation   ActivationStatus   `json:"activation"`
	// BindingGenerations records, per source collection (Name.Fold()),
	// the generation id this materialization last observed, so a
	// collection reset (a generation change) can be detected and the
	// materialization republished (§4.8).
	BindingGenerations map[string]ids.ID `json:"bindingGenerations,omitempty"`
}

// TestStatus is the status document of a test controller.
type TestStatus struct {
	Publications PublicationHistory `json:"publications"`
	Passing      bool               `json:"passing"`
}

// ControllerJob is the per-LiveSpec scheduler row (§3).
type ControllerJob struct {
	LiveSpecID       int64      `db:"live_spec_id"`
	ControllerNextRun *time.Time `db:"controller_next_run"`
	ControllerVersion int64      `db:"controller_version"`
	UpdatedAt         time.Time  `db:"updated_at"`
	Status            RawJSON    `db:"status"`
	Failures          int        `db:"failures"`
	LastError         *string    `db:"last_error"`
	LeasedUntil       *time.Time `db:"leased_until"`
}

// AlertType discriminates the kinds of alert the engine fires.
type AlertType string

const (
	AlertAutoDiscoverFailed AlertType = "AutoDiscoverFailed"
	AlertShardFailed        AlertType = "ShardFailed"
)

// AlertState is a firing or resolved alert (§3).
type AlertState struct {
	ID         int64      `db:"id"`
	Spec       Name       `db:"spec_name"`
	Type       AlertType  `db:"alert_type"`
	FirstTS    time.Time  `db:"first_ts"`
	LastTS     time.Time  `db:"last_ts"`
	Count      int        `db:"count"`
	Fired      bool       `db:"fired"`
	Error      *string    `db:"error"`
	ResolvedTS *time.Time `db:"resolved_ts"`
}
