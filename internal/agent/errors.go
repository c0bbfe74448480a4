package agent

import (
	"errors"
	"fmt"
)

// ErrorCategory names the failure classes carried in AGENT_ERROR payloads.
type ErrorCategory string

const (
	// CategoryConfiguration covers invalid weights, thresholds, unknown
	// message types, and duplicate registrations. Fatal at startup.
	CategoryConfiguration ErrorCategory = "configuration_error"

	// CategoryHandler covers exceptions inside an agent handler.
	CategoryHandler ErrorCategory = "handler_error"

	// CategoryCollaborator covers backend, git, and state-store failures
	// inside the techlead pipeline.
	CategoryCollaborator ErrorCategory = "collaborator_failure"

	// CategoryCollector covers metric computation or persistence failures
	// in the monitor worker. Logged, never fatal.
	CategoryCollector ErrorCategory = "monitor_collector_error"
)

// CategorizedError attaches an error category for AGENT_ERROR reporting.
type CategorizedError struct {
	Category ErrorCategory
	Err      error
}

func (e *CategorizedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// Categorize wraps err with a category. A nil err returns nil.
func Categorize(category ErrorCategory, err error) error {
	if err == nil {
		return nil
	}
	return &CategorizedError{Category: category, Err: err}
}

// CategoryOf extracts the category from an error chain, defaulting to
// handler_error for plain errors.
func CategoryOf(err error) ErrorCategory {
	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return CategoryHandler
}

// fatalError marks an error that must propagate to the Send caller even
// when the agent is otherwise non-fatal, e.g. a PR referencing a task
// the project has never seen.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// MarkFatal wraps err so dispatch re-raises it after reporting. A nil
// err returns nil.
func MarkFatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err carries the fatal marker.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}
