// Package aidamerr defines the small error taxonomy shared by every
// component that needs to distinguish "reject this call" from "nothing to
// report this time". Components outside this package should
// construct these types directly and inspect them with errors.As/errors.Is
// rather than matching on string content.
package aidamerr

import "fmt"

// ValidationError means the caller's input violates a contract the callee
// enforces unconditionally: a migration touching an undeclared table, a
// write statement that isn't INSERT/UPDATE/DELETE, a tool path outside the
// tool root. Surfaced to the caller; never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Reason)
}

// NewValidationError builds a ValidationError with a formatted reason.
func NewValidationError(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError means a referenced session, tool, or state row does not
// exist. Callers typically translate this into an explicit {"error": "..."}
// envelope rather than propagating it as a hard failure.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NewNotFoundError builds a NotFoundError for the given resource/id pair.
func NewNotFoundError(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// TimeoutError means a bounded wait (poll loop, subprocess, PTY idle wait)
// exceeded its budget. Never raised as a hard failure; callers degrade to a
// `{"status": "timeout"}` envelope and let the caller retry.
type TimeoutError struct {
	Operation string
	Budget    string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Operation, e.Budget)
}

// NewTimeoutError builds a TimeoutError describing which bounded wait expired.
func NewTimeoutError(operation, budget string) error {
	return &TimeoutError{Operation: operation, Budget: budget}
}

// BudgetExhaustedError means an agent's cumulative usage cost has exceeded
// its session budget. The agent is marked over_budget and further
// invocations of it no-op rather than erroring loudly.
type BudgetExhaustedError struct {
	AgentName string
	SpentUSD  float64
	BudgetUSD float64
}

func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("agent %q over budget: spent %.4f of %.4f USD", e.AgentName, e.SpentUSD, e.BudgetUSD)
}

// NewBudgetExhaustedError builds a BudgetExhaustedError for the given agent.
func NewBudgetExhaustedError(agentName string, spent, budget float64) error {
	return &BudgetExhaustedError{AgentName: agentName, SpentUSD: spent, BudgetUSD: budget}
}
