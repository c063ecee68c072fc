// Package kernelerr defines the typed error taxonomy returned by the memory
// kernel and its components. Callers use errors.As to recover the concrete
// type and Retryable() to decide whether to back off and retry.
package kernelerr

import "fmt"

// Kind identifies one of the taxonomy's error categories.
type Kind string

const (
	KindInvalidArgument    Kind = "invalid_argument"
	KindPolicyViolation    Kind = "policy_violation"
	KindLowConfidence      Kind = "low_confidence"
	KindConflict           Kind = "conflict"
	KindNotFound           Kind = "not_found"
	KindStorageUnavailable Kind = "storage_unavailable"
	KindDimensionMismatch  Kind = "dimension_mismatch"
	KindGovernance         Kind = "governance"
	KindDeadlineExceeded   Kind = "deadline_exceeded"
)

// InvalidArgument reports a caller-supplied value that fails validation:
// a malformed layer name, an out-of-range confidence, an empty project id.
type InvalidArgument struct {
	Field string
	Msg   string
}

func (e *InvalidArgument) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Field, e.Msg)
}

// Retryable reports whether the caller should retry without changing input.
func (e *InvalidArgument) Retryable() bool { return false }

// PolicyViolation reports that the Safety Filter blocked a write outright.
type PolicyViolation struct {
	Rule   string
	Reason string
}

func (e *PolicyViolation) Error() string {
	return fmt.Sprintf("policy violation (%s): %s", e.Rule, e.Reason)
}

func (e *PolicyViolation) Retryable() bool { return false }

// LowConfidence reports that a write's confidence fell below the pending
// threshold, the minimum for staging it for review: the write is rejected
// and nothing is stored.
type LowConfidence struct {
	Confidence float64
	Threshold  float64
}

func (e *LowConfidence) Error() string {
	return fmt.Sprintf("confidence %.2f below threshold %.2f, write rejected", e.Confidence, e.Threshold)
}

func (e *LowConfidence) Retryable() bool { return false }

// ConflictError reports an optimistic-lock miss: a status transition on the
// row ExistingID found it no longer in the expected status, typically
// because a concurrent writer moved it first. RuleName names the operation.
type ConflictError struct {
	ExistingID string
	RuleName   string
	Similarity float64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicts with %s under rule %q (similarity %.3f)", e.ExistingID, e.RuleName, e.Similarity)
}

// Retryable is true: retrying the whole call against fresh state may succeed.
func (e *ConflictError) Retryable() bool { return true }

// NotFound reports that a referenced entity does not exist.
type NotFound struct {
	Entity string
	ID     string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFound) Retryable() bool { return false }

// StorageUnavailable reports a transient failure reaching the vector or
// metadata store; the caller may retry with backoff.
type StorageUnavailable struct {
	Backend string
	Cause   error
}

func (e *StorageUnavailable) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Backend, e.Cause)
}

func (e *StorageUnavailable) Unwrap() error { return e.Cause }

func (e *StorageUnavailable) Retryable() bool { return true }

// DimensionMismatch reports that an embedding's dimension does not match the
// collection's configured dimension.
type DimensionMismatch struct {
	Got  int
	Want int
}

func (e *DimensionMismatch) Error() string {
	return fmt.Sprintf("embedding dimension %d does not match collection dimension %d", e.Got, e.Want)
}

func (e *DimensionMismatch) Retryable() bool { return false }

// Governance reports a violation of the identity-schema approval rules: a
// duplicate approver, or an L0 change attempted outside a governed proposal.
// Approving a non-pending change or losing a lock race is a ConflictError.
type Governance struct {
	ChangeID string
	Reason   string
}

func (e *Governance) Error() string {
	return fmt.Sprintf("governance violation on change %s: %s", e.ChangeID, e.Reason)
}

func (e *Governance) Retryable() bool { return false }

// DeadlineExceeded reports that a context deadline elapsed before an
// operation completed.
type DeadlineExceeded struct {
	Op string
}

func (e *DeadlineExceeded) Error() string {
	return fmt.Sprintf("%s: deadline exceeded", e.Op)
}

func (e *DeadlineExceeded) Retryable() bool { return true }
