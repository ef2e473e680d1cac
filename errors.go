package usufruct

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("usufruct: not found")
	ErrAlreadyExists = errors.New("usufruct: already exists")
	ErrInvalidInput  = errors.New("usufruct: invalid input")
	ErrUnauthorized  = errors.New("usufruct: caller is not owner or approved operator")

	// Rights errors
	ErrZeroAddress         = errors.New("usufruct: zero address")
	ErrInsufficientBalance = errors.New("usufruct: insufficient unencumbered balance")
	ErrInconsistentState   = errors.New("usufruct: ledger state is inconsistent")

	// Custody errors
	ErrAmountOverflow = errors.New("usufruct: amount overflow")
	ErrLengthMismatch = errors.New("usufruct: class and amount slices differ in length")
	ErrClassExists    = errors.New("usufruct: token class already registered")
	ErrClassNotFound  = errors.New("usufruct: token class not found")

	// Journal errors
	ErrJournalFull   = errors.New("usufruct: journal buffer full")
	ErrJournalClosed = errors.New("usufruct: journal is stopped")

	// Store errors
	ErrStoreNotReady     = errors.New("usufruct: store not ready")
	ErrStoreClosed       = errors.New("usufruct: store is closed")
	ErrTransactionFailed = errors.New("usufruct: transaction failed")
	ErrMigrationFailed   = errors.New("usufruct: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("usufruct: validation failed for %s: %s", e.Field, e.Message)
}

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "usufruct: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("usufruct: %d errors occurred", len(e.Errors))
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first error or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error {
	return e.Errors
}

// IsInvalidArgument returns true if the error reports malformed or
// forbidden input (zero addresses, mismatched batch slices, bad filters).
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrZeroAddress) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrLengthMismatch)
}

// IsInsufficientBalance returns true if the error reports that an owner's
// unencumbered balance cannot cover the requested amount.
func IsInsufficientBalance(err error) bool {
	return errors.Is(err, ErrInsufficientBalance)
}

// IsInconsistency returns true if the error reports internal ledger state
// that violates the accounting invariants. Operations that surface it have
// made no changes; the condition will not clear on retry.
func IsInconsistency(err error) bool {
	return errors.Is(err, ErrInconsistentState)
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrClassNotFound)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrJournalFull) ||
		errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, ErrTransactionFailed)
}
