package model

import "fmt"

// Kind classifies an error into the taxonomy the Orchestrator uses to decide
// whether to retry, replan, or fail a Job outright.
type Kind string

const (
	KindSpecInvalid        Kind = "spec_invalid"
	KindPlanInvalid        Kind = "plan_invalid"
	KindRateLimited        Kind = "rate_limited"
	KindTransient          Kind = "transient"
	KindTimeout            Kind = "timeout"
	KindAuthFailed         Kind = "auth_failed"
	KindInvalidRequest     Kind = "invalid_request"
	KindBudgetExceeded     Kind = "budget_exceeded"
	KindNotAllowed         Kind = "not_allowed"
	KindSandboxUnavailable Kind = "sandbox_unavailable"
	KindStepTimeout        Kind = "step_timeout"
	KindExitNonZero        Kind = "exit_non_zero"
	KindNotARepo           Kind = "not_a_repo"
	KindWorktreeFailed     Kind = "worktree_creation_failed"
	KindMergeConflict      Kind = "merge_conflict"
	KindTestsFailed        Kind = "tests_failed"
	KindAcceptanceUnmet    Kind = "acceptance_unmet"
	KindCanceled           Kind = "canceled_by_user"
	KindJobNotFound        Kind = "job_not_found"
	KindBadConfig          Kind = "bad_config"
)

// Error is Chakravarti's uniform wrapped-error type: every failure that
// crosses a component boundary carries a Kind so callers can errors.As into
// it instead of string-matching messages.
type Error struct {
	Kind    Kind
	Op      string // component/operation that produced the error, e.g. "planner.plan"
	Message string
	Err     error // underlying cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, &Error{Kind: KindX}) to match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == "" {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error with the given kind, operation, and message.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap constructs an *Error that carries an underlying cause.
func Wrap(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: cause}
}

// IsKind reports whether err (or any error in its chain) is a *Error of kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}

// Retryable reports whether the orchestrator should retry the attempt that
// produced err without replanning, per the error-propagation policy.
func Retryable(err error) bool {
	switch {
	case IsKind(err, KindRateLimited), IsKind(err, KindTransient), IsKind(err, KindTimeout):
		return true
	default:
		return false
	}
}

// Replannable reports whether err should trigger a replan rather than a bare
// retry of the same plan.
func Replannable(err error) bool {
	switch {
	case IsKind(err, KindTestsFailed), IsKind(err, KindAcceptanceUnmet), IsKind(err, KindMergeConflict):
		return true
	default:
		return false
	}
}

// Terminal reports whether err should fail the Job outright with no further
// retry or replan.
func Terminal(err error) bool {
	switch {
	case IsKind(err, KindAuthFailed), IsKind(err, KindBadConfig), IsKind(err, KindSpecInvalid),
		IsKind(err, KindBudgetExceeded), IsKind(err, KindCanceled), IsKind(err, KindNotAllowed):
		return true
	default:
		return false
	}
}
