// Package errs defines the error taxonomy shared by the publication
// pipeline and the controller executors (§7).
package errs

import (
	"fmt"
	"time"
)

// BuildError is a deterministic validation or schema failure discovered
// by the builder. It is a user error, not a controller fault.
type BuildError struct {
	Scope string
	Err   string
}

func (e *BuildError) Error() string { return fmt.Sprintf("%s: %s", e.Scope, e.Err) }

// NewBuildError constructs a BuildError at scope with a formatted message.
func NewBuildError(scope, format string, args ...interface{}) *BuildError {
	return &BuildError{Scope: scope, Err: fmt.Sprintf(format, args...)}
}

// LockFailure reports an expect_pub_id mismatch detected during commit.
type LockFailure struct {
	Name       string
	Expected   string
	Actual     string
}

func (e *LockFailure) Error() string {
	return fmt.Sprintf("%s: expected last publication id %s but found %s", e.Name, e.Expected, e.Actual)
}

// AuthorizationDenied reports a missing capability for a scope.
type AuthorizationDenied struct {
	Scope      string
	Capability string
}

func (e *AuthorizationDenied) Error() string {
	return fmt.Sprintf("%s: missing %s capability", e.Scope, e.Capability)
}

// DiscoverFailed wraps a connector discovery error. It is recorded
// against a capture's auto-discover status; it is not a controller
// fatal error.
type DiscoverFailed struct {
	Image string
	Err   error
}

func (e *DiscoverFailed) Error() string {
	return fmt.Sprintf("discover of %s failed: %v", e.Image, e.Err)
}
func (e *DiscoverFailed) Unwrap() error { return e.Err }

// ActivationFailed wraps a data-plane activation RPC error. The
// controller schedules NextRetry and surfaces this as its error.
type ActivationFailed struct {
	Name      string
	Err       error
	NextRetry time.Time
}

func (e *ActivationFailed) Error() string {
	return fmt.Sprintf("activating %s failed, retrying at %s: %v", e.Name, e.NextRetry.Format(time.RFC3339), e.Err)
}
func (e *ActivationFailed) Unwrap() error { return e.Err }

// ShardFailed reports a shard runtime failure observed from the
// external shard_failures table.
type ShardFailed struct {
	Name   string
	ShardID string
}

func (e *ShardFailed) Error() string {
	return fmt.Sprintf("shard %s of %s reported failure", e.ShardID, e.Name)
}

// TransientStoreError wraps a retryable storage error (DB outage or a
// serialization conflict that exhausted its retry budget).
type TransientStoreError struct {
	Err error
}

func (e *TransientStoreError) Error() string { return fmt.Sprintf("transient store error: %v", e.Err) }
func (e *TransientStoreError) Unwrap() error { return e.Err }
