/*
errors.go - Error taxonomy for the optimization engine

PURPOSE:
  Every failure a caller can observe is an *Error carrying a stable Kind.
  Pure model code (scoring, cost/risk, dispatch) returns these errors; the
  orchestrator is the only place that decides whether an error is fatal for
  the run and writes the final run status.

ERROR KINDS:
  configuration          No resolvable cost model, ambiguous cost models,
                         engine disabled. Run fails; not retried.
  invalid_input          Health/cost values outside documented domains.
                         Run fails; upstream data must be fixed.
  solver_timeout         Exact solver exceeded its budget. NOT fatal: the
                         orchestrator falls back to the greedy heuristic and
                         records a warning on the completed run.
  infeasible_assignment  A task has no eligible worker/day. NOT fatal: the
                         task is listed in the plan's Unassigned set.
  cross_tenant_data      Inputs from more than one tenant were assembled into
                         one run. Always fatal, always logged as a defect.
  canceled               Caller cancelled the context. Run fails with reason.

USAGE:
  if errors.Is(err, optimization.ErrEngineDisabled) { ... }
  if optimization.KindOf(err) == optimization.KindInvalidInput { ... }

SEE ALSO:
  - orchestrator.go: fatal vs recoverable policy
  - api/handlers.go: kind -> HTTP status mapping
*/
package optimization

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrEngineDisabled is returned when the feature gate refuses execution.
	ErrEngineDisabled = errors.New("optimization engine disabled")

	// ErrCostModelNotFound is returned when no asset, site or tenant cost model resolves.
	ErrCostModelNotFound = errors.New("cost model not found")

	// ErrAmbiguousCostModel is returned when more than one active cost model
	// covers the same scope on the same day.
	ErrAmbiguousCostModel = errors.New("ambiguous cost model")

	// ErrInvalidInput is returned for values outside documented domains.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSolverTimeout is returned by the exact solver when its deadline passes.
	ErrSolverTimeout = errors.New("solver timeout")

	// ErrInfeasibleAssignment marks a task no eligible worker can take.
	ErrInfeasibleAssignment = errors.New("infeasible assignment")

	// ErrCrossTenantData is an invariant violation: a run saw another tenant's data.
	ErrCrossTenantData = errors.New("cross-tenant data")

	// ErrRunNotFound is returned by run lookups.
	ErrRunNotFound = errors.New("run not found")

	// ErrRecommendationNotFound is returned by recommendation lookups.
	ErrRecommendationNotFound = errors.New("recommendation not found")

	// ErrIllegalTransition is returned for run or recommendation status changes
	// the lifecycle does not allow.
	ErrIllegalTransition = errors.New("illegal status transition")
)

// =============================================================================
// STRUCTURED ERROR
// =============================================================================

type ErrorKind string

const (
	KindConfiguration        ErrorKind = "configuration"
	KindInvalidInput         ErrorKind = "invalid_input"
	KindSolverTimeout        ErrorKind = "solver_timeout"
	KindInfeasibleAssignment ErrorKind = "infeasible_assignment"
	KindCrossTenantData      ErrorKind = "cross_tenant_data"
	KindCanceled             ErrorKind = "canceled"
	KindInternal             ErrorKind = "internal"
)

// Error is the caller-visible error. Code is a finer-grained stable
// identifier within a Kind (e.g. "engine_disabled", "cost_model_not_found").
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// ConfigurationError reports a missing or contradictory configuration.
func ConfigurationError(code, msg string, err error) *Error {
	return &Error{Kind: KindConfiguration, Code: code, Message: msg, Err: err}
}

// InvalidInputError reports a value outside its documented domain.
func InvalidInputError(field, msg string) *Error {
	return &Error{Kind: KindInvalidInput, Code: field, Message: msg, Err: ErrInvalidInput}
}

// SolverTimeoutError reports that the exact solver ran out of time.
func SolverTimeoutError(msg string) *Error {
	return &Error{Kind: KindSolverTimeout, Code: "solver_timeout", Message: msg, Err: ErrSolverTimeout}
}

// InfeasibleAssignmentError explains why one task could not be placed.
func InfeasibleAssignmentError(taskID, reason string) *Error {
	return &Error{
		Kind:    KindInfeasibleAssignment,
		Code:    reason,
		Message: fmt.Sprintf("task %s: %s", taskID, reason),
		Err:     ErrInfeasibleAssignment,
	}
}

// CrossTenantDataError reports a record whose tenant differs from the run's.
func CrossTenantDataError(runTenant, recordTenant TenantID, record string) *Error {
	return &Error{
		Kind:    KindCrossTenantData,
		Code:    "cross_tenant_data",
		Message: fmt.Sprintf("run for tenant %s received %s owned by tenant %s", runTenant, record, recordTenant),
		Err:     ErrCrossTenantData,
	}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf classifies any error. Context errors map to KindCanceled; anything
// unrecognised is KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, ErrEngineDisabled), errors.Is(err, ErrCostModelNotFound), errors.Is(err, ErrAmbiguousCostModel):
		return KindConfiguration
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrCrossTenantData):
		return KindCrossTenantData
	}
	return KindInternal
}

// IsFatal reports whether an error must fail the run. Solver timeouts and
// infeasible assignments are absorbed by the dispatcher.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindSolverTimeout, KindInfeasibleAssignment:
		return false
	}
	return true
}

// AsError converts any error into the caller-visible *Error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	kind := KindOf(err)
	code := ""
	if kind == KindCanceled {
		code = "canceled"
	}
	return &Error{Kind: kind, Code: code, Message: err.Error(), Err: err}
}
