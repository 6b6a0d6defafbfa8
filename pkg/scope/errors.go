package scope

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the domain taxonomy. Handlers map these to HTTP
// status codes; services return them wrapped with context.
var (
	// ErrPermissionDenied marks a caller scope violation on a write or
	// tenant stamp.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound marks a read/update/delete target that is nonexistent
	// or outside the caller's scope. The two cases are deliberately
	// indistinguishable so existence never leaks across tenants.
	ErrNotFound = errors.New("not found")

	// ErrInvalidOperation marks an operation that is well-formed but
	// forbidden by a business rule, such as deleting your own account.
	ErrInvalidOperation = errors.New("invalid operation")
)

// ValidationError describes malformed input on a single field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// RecordingFailure wraps a storage error from the audit recorder. By
// contract it must never be propagated as the failure of the business
// operation that triggered the recording.
type RecordingFailure struct {
	Err error
}

func (e *RecordingFailure) Error() string {
	return fmt.Sprintf("audit recording failed: %v", e.Err)
}

func (e *RecordingFailure) Unwrap() error {
	return e.Err
}

// IsRecordingFailure reports whether err is a RecordingFailure.
func IsRecordingFailure(err error) bool {
	var rf *RecordingFailure
	return errors.As(err, &rf)
}

// MaintenanceError aggregates per-item failures from a retention pass.
// A pass continues past individual failures and reports them together.
type MaintenanceError struct {
	Pass  string
	Items []error
}

func (e *MaintenanceError) Error() string {
	msgs := make([]string, 0, len(e.Items))
	for _, item := range e.Items {
		msgs = append(msgs, item.Error())
	}
	return fmt.Sprintf("%s pass: %d failures: %s", e.Pass, len(e.Items), strings.Join(msgs, "; "))
}
