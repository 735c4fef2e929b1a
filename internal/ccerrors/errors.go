// Package ccerrors defines the structured error kinds shared by every
// concurrency-control protocol: a conflict that should cause a retry or
// abort, a cascading abort propagated across the serialization graph,
// exhaustion of a fixed-capacity data structure, and allocator exhaustion.
package ccerrors

import (
	stderrors "errors"

	"github.com/agilira/go-errors"
)

// Error codes for concurrency-engine operations.
const (
	// Conflict errors
	ErrCodeWriteConflict  errors.ErrorCode = "CCENGINE_WRITE_CONFLICT"
	ErrCodeReadConflict   errors.ErrorCode = "CCENGINE_READ_CONFLICT"
	ErrCodeValidationFail errors.ErrorCode = "CCENGINE_VALIDATION_FAILED"
	ErrCodeLockTimeout    errors.ErrorCode = "CCENGINE_LOCK_TIMEOUT"

	// Deadlock/abort errors
	ErrCodeDeadlockDie     errors.ErrorCode = "CCENGINE_DEADLOCK_DIE"
	ErrCodeCascadingAbort  errors.ErrorCode = "CCENGINE_CASCADING_ABORT"
	ErrCodeCycleDetected   errors.ErrorCode = "CCENGINE_CYCLE_DETECTED"
	ErrCodeAlreadyAborted  errors.ErrorCode = "CCENGINE_ALREADY_ABORTED"

	// Capacity errors
	ErrCodeCapacityExceeded errors.ErrorCode = "CCENGINE_CAPACITY_EXCEEDED"
	ErrCodeAllocatorOOM     errors.ErrorCode = "CCENGINE_ALLOCATOR_OOM"

	// Internal errors
	ErrCodeInternal errors.ErrorCode = "CCENGINE_INTERNAL_ERROR"
)

const (
	msgWriteConflict   = "write-write conflict on row"
	msgReadConflict    = "read-write conflict on row"
	msgValidationFail  = "commit validation failed"
	msgLockTimeout     = "lock wait exceeded deadline"
	msgDeadlockDie     = "transaction aborted to avoid deadlock (wait-die)"
	msgCascadingAbort  = "transaction aborted due to an aborted dependency"
	msgCycleDetected   = "serialization graph cycle detected"
	msgAlreadyAborted  = "transaction already aborted"
	msgCapacityExceed  = "fixed-capacity structure exhausted"
	msgAllocatorOOM    = "chunk allocator arena exhausted"
	msgInternal        = "internal concurrency engine error"
)

// NewWriteConflict reports that txnID lost a write-write race on row rowID
// to loser/winner bookkeeping at the row registry layer.
func NewWriteConflict(txnID, rowID uint64) error {
	return errors.NewWithContext(ErrCodeWriteConflict, msgWriteConflict, map[string]interface{}{
		"txn_id": txnID,
		"row_id": rowID,
	}).AsRetryable()
}

// NewReadConflict reports that a read of rowID by txnID observed a version
// that validation later proved unserializable.
func NewReadConflict(txnID, rowID uint64) error {
	return errors.NewWithContext(ErrCodeReadConflict, msgReadConflict, map[string]interface{}{
		"txn_id": txnID,
		"row_id": rowID,
	}).AsRetryable()
}

// NewValidationFailed reports an MVOCC/TicToc commit-time validation
// failure with the offending row.
func NewValidationFailed(txnID, rowID uint64, reason string) error {
	return errors.NewWithContext(ErrCodeValidationFail, msgValidationFail, map[string]interface{}{
		"txn_id": txnID,
		"row_id": rowID,
		"reason": reason,
	}).AsRetryable()
}

// NewLockTimeout reports that txnID's lock wait on rowID exceeded its
// deadline without the lock manager resolving it via wait-die.
func NewLockTimeout(txnID, rowID uint64) error {
	return errors.NewWithContext(ErrCodeLockTimeout, msgLockTimeout, map[string]interface{}{
		"txn_id": txnID,
		"row_id": rowID,
	}).AsRetryable()
}

// NewDeadlockDie reports that txnID, being younger than the lock holder,
// was chosen to die under wait-die deadlock avoidance.
func NewDeadlockDie(txnID, holderID uint64) error {
	return errors.NewWithContext(ErrCodeDeadlockDie, msgDeadlockDie, map[string]interface{}{
		"txn_id":    txnID,
		"holder_id": holderID,
	}).AsRetryable()
}

// NewCascadingAbort reports that txnID was aborted because causeID, a
// transaction it has an edge to in the serialization graph, already
// aborted.
func NewCascadingAbort(txnID, causeID uint64) error {
	return errors.NewWithContext(ErrCodeCascadingAbort, msgCascadingAbort, map[string]interface{}{
		"txn_id":  txnID,
		"cause_id": causeID,
	}).AsRetryable()
}

// NewCycleDetected reports that an operation by txnID closed a cycle in
// the serialization graph; path lists the row(s) involved.
func NewCycleDetected(txnID uint64, path []uint64) error {
	return errors.NewWithContext(ErrCodeCycleDetected, msgCycleDetected, map[string]interface{}{
		"txn_id": txnID,
		"path":   path,
	}).AsRetryable()
}

// NewAlreadyAborted reports a double-abort or an operation attempted
// against an already-terminated transaction.
func NewAlreadyAborted(txnID uint64) error {
	return errors.NewWithField(ErrCodeAlreadyAborted, msgAlreadyAborted, "txn_id", txnID)
}

// NewCapacityExceeded wraps cause (typically ds.ErrCapacityExceeded) with
// the structure name that overflowed.
func NewCapacityExceeded(structure string, cause error) error {
	return errors.Wrap(cause, ErrCodeCapacityExceeded, msgCapacityExceed).
		WithContext("structure", structure)
}

// NewAllocatorOOM reports that an Arena could not carve a new chunk.
func NewAllocatorOOM(arena string) error {
	return errors.NewWithField(ErrCodeAllocatorOOM, msgAllocatorOOM, "arena", arena)
}

// NewInternal wraps an unexpected internal error with the operation that
// surfaced it.
func NewInternal(operation string, cause error) error {
	if cause != nil {
		return errors.Wrap(cause, ErrCodeInternal, msgInternal).
			WithContext("operation", operation).
			WithSeverity("critical")
	}
	return errors.NewWithField(ErrCodeInternal, msgInternal, "operation", operation).
		WithSeverity("critical")
}

// IsConflict reports whether err is any of the conflict-family errors that
// a caller should retry the transaction for.
func IsConflict(err error) bool {
	return errors.HasCode(err, ErrCodeWriteConflict) ||
		errors.HasCode(err, ErrCodeReadConflict) ||
		errors.HasCode(err, ErrCodeValidationFail)
}

// IsAbort reports whether err is any of the abort-family errors (deadlock
// death, cascading abort, or cycle detection).
func IsAbort(err error) bool {
	return errors.HasCode(err, ErrCodeDeadlockDie) ||
		errors.HasCode(err, ErrCodeCascadingAbort) ||
		errors.HasCode(err, ErrCodeCycleDetected)
}

// IsRetryable reports whether err carries the retryable flag.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var retryable errors.Retryable
	if stderrors.As(err, &retryable) {
		return retryable.IsRetryable()
	}
	return false
}

// Code extracts the ErrorCode from err, or "" if err does not carry one.
func Code(err error) errors.ErrorCode {
	if err == nil {
		return ""
	}
	var coder errors.ErrorCoder
	if stderrors.As(err, &coder) {
		return coder.ErrorCode()
	}
	return ""
}
