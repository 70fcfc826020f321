package study

import (
	"errors"
	"fmt"
)

// Domain errors for parameter loading and schedule expansion.
var (
	// ErrCyclicDependency indicates the contemporaneous dependency graph
	// contains a cycle and no evaluation order exists.
	ErrCyclicDependency = errors.New("study: cyclic contemporaneous dependency")

	// ErrEmptyDesign indicates a study design that schedules zero days.
	ErrEmptyDesign = errors.New("study: design schedules zero days")
)

// SchemaError reports a structural problem in a parameter document or
// study design. Field names the offending entry.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("study: invalid parameters: %s: %s", e.Field, e.Reason)
}

// UnreachableVariableError reports a variable that can never receive a
// value: not constant, no distribution, and no inbound dependency.
type UnreachableVariableError struct {
	Name string
}

func (e *UnreachableVariableError) Error() string {
	return fmt.Sprintf("study: variable %q has no distribution and no inbound dependencies", e.Name)
}

// UnknownTreatmentError reports a design period naming an exposure the
// parameters do not define.
type UnknownTreatmentError struct {
	Treatment string
}

func (e *UnknownTreatmentError) Error() string {
	return fmt.Sprintf("study: design references unknown treatment %q", e.Treatment)
}
