package mux

import "fmt"

// NotFoundError reports an unknown session or pane id.
type NotFoundError struct {
	Kind string // "session" or "pane"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ValidationError reports a parameter outside its documented constraints.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// ResourceLimitError reports a quota hit.
type ResourceLimitError struct {
	Resource string
	Limit    int
}

func (e *ResourceLimitError) Error() string {
	return fmt.Sprintf("resource limit exceeded: %s (limit: %d)", e.Resource, e.Limit)
}

// InvalidStateError reports an operation not permitted in the current state,
// e.g. writing to a detached pane.
type InvalidStateError struct {
	Reason string
}

func (e *InvalidStateError) Error() string { return e.Reason }
