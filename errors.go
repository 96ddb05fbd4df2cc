package poolx

import (
	"errors"
	"fmt"
)

// Common pool errors
var (
	ErrPoolClosed           = errors.New("poolx: pool is shutting down")
	ErrPoolExhausted        = errors.New("poolx: pool exhausted and waiting queue is full")
	ErrAcquireTimeout       = errors.New("poolx: acquire timed out waiting for a connection")
	ErrConnectionFailed     = errors.New("poolx: connection failed")
	ErrValidationFailed     = errors.New("poolx: connection validation failed")
	ErrInvalidConfig        = errors.New("poolx: invalid configuration")
	ErrConnectionNotTracked = errors.New("poolx: connection is not tracked by this pool")
	ErrNoActiveTransaction  = errors.New("poolx: no active transaction on connection")
)

// PoolError represents a pool-specific error with additional context
type PoolError struct {
	Op      string
	ConnID  string
	Message string
	Err     error
	Code    string // Error code for better categorization
}

// Error implements the error interface
func (e *PoolError) Error() string {
	if e == nil {
		return "poolx: nil error"
	}

	baseMsg := fmt.Sprintf("poolx %s error", e.Op)
	if e.ConnID != "" {
		baseMsg = fmt.Sprintf("%s for connection %s", baseMsg, e.ConnID)
	}
	baseMsg = fmt.Sprintf("%s: %s", baseMsg, e.Message)

	if e.Err != nil {
		// Use Error() instead of %v to avoid recursion through wrapped PoolErrors
		return fmt.Sprintf("%s: %s", baseMsg, e.Err.Error())
	}
	return baseMsg
}

// Unwrap returns the underlying error
func (e *PoolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewPoolError creates a new pool error with validation
func NewPoolError(op, connID, message string, err error) *PoolError {
	if op == "" {
		op = "unknown"
	}
	if message == "" {
		message = "unknown error"
	}

	return &PoolError{
		Op:      op,
		ConnID:  connID,
		Message: message,
		Err:     err,
		Code:    "POOL_ERROR",
	}
}

// NewPoolErrorWithCode creates a new pool error with a specific error code
func NewPoolErrorWithCode(op, connID, message, code string, err error) *PoolError {
	e := NewPoolError(op, connID, message, err)
	if code != "" {
		e.Code = code
	}
	return e
}

// QueryError is returned by ExecuteQuery after all retry attempts are
// exhausted. Attempts counts every attempt made, including the first.
type QueryError struct {
	Query    string
	Attempts int
	Err      error
}

// Error implements the error interface
func (e *QueryError) Error() string {
	if e == nil {
		return "poolx: nil query error"
	}
	return fmt.Sprintf("poolx: query failed after %d attempts: %s", e.Attempts, e.Err.Error())
}

// Unwrap returns the last backend error
func (e *QueryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TransactionError is returned by WithTransaction when the callback or the
// commit fails. RollbackErr carries a subsequent rollback failure without
// ever replacing the original error.
type TransactionError struct {
	Err         error
	RollbackErr error
}

// Error implements the error interface
func (e *TransactionError) Error() string {
	if e == nil {
		return "poolx: nil transaction error"
	}
	if e.RollbackErr != nil {
		return fmt.Sprintf("poolx: transaction failed: %s (rollback also failed: %s)", e.Err.Error(), e.RollbackErr.Error())
	}
	return fmt.Sprintf("poolx: transaction failed: %s", e.Err.Error())
}

// Unwrap returns the original transaction error
func (e *TransactionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// isErrorType is a helper function that checks if an error matches a specific error type
func isErrorType(err error, target error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, target)
}

// IsPoolClosed checks if the error is a pool shutdown rejection
func IsPoolClosed(err error) bool {
	return isErrorType(err, ErrPoolClosed)
}

// IsPoolExhausted checks if the error is a pool exhaustion error
func IsPoolExhausted(err error) bool {
	return isErrorType(err, ErrPoolExhausted)
}

// IsAcquireTimeout checks if the error is an acquisition timeout error
func IsAcquireTimeout(err error) bool {
	return isErrorType(err, ErrAcquireTimeout)
}

// IsConnectionFailed checks if the error is a connection failure error
func IsConnectionFailed(err error) bool {
	return isErrorType(err, ErrConnectionFailed)
}

// IsValidationFailed checks if the error is a validation failure error
func IsValidationFailed(err error) bool {
	return isErrorType(err, ErrValidationFailed)
}

// IsInvalidConfig checks if the error is an invalid configuration error
func IsInvalidConfig(err error) bool {
	return isErrorType(err, ErrInvalidConfig)
}
