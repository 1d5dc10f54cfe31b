// Package statemachine implements the pure transition functions for Account,
// Order, Authorization, Challenge and Certificate (spec §4.4). Transitions
// are modeled as tagged-enum switches over exhaustive tables (spec §9:
// "tagged enums with exhaustive transition tables, not polymorphism"), not
// as methods scattered across the entities themselves.
package statemachine

import "fmt"

// ErrInvalidTransition reports an attempted transition the table forbids.
type ErrInvalidTransition struct {
	Entity string
	From   string
	To     string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("%s: invalid transition %s -> %s", e.Entity, e.From, e.To)
}
