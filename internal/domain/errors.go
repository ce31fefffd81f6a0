package domain

import (
	"errors"
	"fmt"
)

var ErrRecordNotFound = errors.New("record not found")
var ErrInsufficientBalance = errors.New("insufficient balance")
var ErrDuplicateBusinessKey = errors.New("business key already in use")
var ErrVersionConflict = errors.New("stale version: record was modified concurrently")

// ValidationError reports malformed input. It is returned before any state
// has been touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// BusinessRuleError reports a rejected operation such as an insufficient
// balance. The aggregate stays in its prior state.
type BusinessRuleError struct {
	Reason string
	Err    error
}

func (e *BusinessRuleError) Error() string {
	return e.Reason
}

func (e *BusinessRuleError) Unwrap() error {
	return e.Err
}

// StateConflictError reports an illegal state-machine transition. It always
// surfaces; transitions are never silently ignored.
type StateConflictError struct {
	Entity string
	From   string
	To     string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%s: cannot transition from %s to %s", e.Entity, e.From, e.To)
}

// RemoteCallError wraps a failed call against an external capability
// (account service, persistence, event sink).
type RemoteCallError struct {
	Operation string
	Err       error
}

func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("remote call %s failed: %v", e.Operation, e.Err)
}

func (e *RemoteCallError) Unwrap() error {
	return e.Err
}

// CompensationError reports a compensating action that itself failed. The
// unwind continues past it; the error is collected into the report.
type CompensationError struct {
	StepName string
	Err      error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation of step %s failed: %v", e.StepName, e.Err)
}

func (e *CompensationError) Unwrap() error {
	return e.Err
}
