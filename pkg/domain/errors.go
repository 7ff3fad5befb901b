package domain

import "fmt"

// ErrNotFound is returned when an experiment does not exist in the store.
type ErrNotFound struct {
	Name string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("experiment %s not found", e.Name)
}

// ValidationError reports an experiment that violates its structural
// invariants.
type ValidationError struct {
	Experiment string
	Reason     string
}

func (e ValidationError) Error() string {
	if e.Experiment == "" {
		return fmt.Sprintf("invalid experiment: %s", e.Reason)
	}
	return fmt.Sprintf("invalid experiment %s: %s", e.Experiment, e.Reason)
}

// QueryError reports malformed query criteria. Queries are rejected, never
// clamped.
type QueryError struct {
	Field  string
	Reason string
}

func (e *QueryError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid query: %s", e.Reason)
	}
	return fmt.Sprintf("invalid query %s: %s", e.Field, e.Reason)
}
