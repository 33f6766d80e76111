package flow

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes repository errors.
type ErrorCode string

const (
	// ErrCodeNotFound indicates the referenced flow, record, or
	// snapshot does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeConflict indicates a concurrency or ordering violation
	// that is an error rather than a normal outcome: branching past the
	// parent's cursor, or a record cursor out of order. Plain version
	// mismatches on append are reported as PersistResult.Conflict, not
	// as an error.
	ErrCodeConflict ErrorCode = "CONFLICT"

	// ErrCodeStorage indicates a backend failure: unreachable database,
	// constraint violation, corrupt row. Fatal to the operation; the
	// store never retries.
	ErrCodeStorage ErrorCode = "STORAGE"

	// ErrCodeNotImplemented indicates an operation a given backend
	// intentionally does not support (e.g. blob storage on the null
	// store). Distinguishable from ErrCodeStorage so callers can
	// feature-detect.
	ErrCodeNotImplemented ErrorCode = "NOT_IMPLEMENTED"
)

// Error is the error type returned by repositories and stores.
type Error struct {
	Code    ErrorCode
	Message string

	// FlowID identifies the affected flow when known.
	FlowID string

	// Err is the wrapped cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.FlowID != "" {
		return fmt.Sprintf("%s: %s (flow=%s)", e.Code, e.Message, e.FlowID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound builds a NOT_FOUND error for the given entity description.
func NotFound(flowID, what string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: what + " not found", FlowID: flowID}
}

// Conflict builds a CONFLICT error.
func Conflict(flowID, msg string) *Error {
	return &Error{Code: ErrCodeConflict, Message: msg, FlowID: flowID}
}

// StorageError wraps a backend failure.
func StorageError(op string, err error) *Error {
	return &Error{Code: ErrCodeStorage, Message: op, Err: err}
}

// NotImplemented marks an operation a backend does not support.
func NotImplemented(op string) *Error {
	return &Error{Code: ErrCodeNotImplemented, Message: op + " not supported by this backend"}
}

// IsNotFound reports whether err is a NOT_FOUND error, unwrapping as
// needed.
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsConflict reports whether err is a CONFLICT error.
func IsConflict(err error) bool {
	return hasCode(err, ErrCodeConflict)
}

// IsStorage reports whether err is a STORAGE error.
func IsStorage(err error) bool {
	return hasCode(err, ErrCodeStorage)
}

// IsNotImplemented reports whether err is a NOT_IMPLEMENTED error.
func IsNotImplemented(err error) bool {
	return hasCode(err, ErrCodeNotImplemented)
}

func hasCode(err error, code ErrorCode) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}
