// Package temporalengine implements the Orchestrator's Job lifecycle state
// machine (spec §4.8) as a Temporal workflow: JobWorkflow drives a Job
// through Planning, per-batch step execution, Verification, and merge or
// discard, retrying or replanning failed attempts per policy and emitting a
// durable JobEvent at every transition.
package temporalengine

import (
	"time"

	"github.com/antigravity-dev/chakravarti/internal/model"
)

// JobWorkflowRequest is JobWorkflow's input: the Job this workflow run
// drives to a terminal state.
type JobWorkflowRequest struct {
	JobID             string
	Spec              model.Spec
	Config            model.JobConfig
	IntegrationBranch string
}

// JobWorkflowResult is JobWorkflow's return value once the Job reaches a
// terminal RunState.
type JobWorkflowResult struct {
	FinalPhase model.JobPhase
	Metrics    model.Metrics
	Error      string
}

// PlanInput/ReplanInput feed the PlanActivity/ReplanActivity.
type PlanInput struct {
	Spec model.Spec
}

type ReplanInput struct {
	Spec            model.Spec
	Failed          model.Plan
	FailureSummary  string
	Optimize        model.RoutingPreference
	AttemptNumber   int
	PlannerOverride string
}

// CreateWorktreeInput feeds CreateWorktreeActivity.
type CreateWorktreeInput struct {
	JobID             string
	AttemptNumber     int
	IntegrationBranch string
}

// ExecuteStepInput feeds ExecuteStepActivity: a single Step dispatched
// inside Worktree, with routing context pulled from JobConfig and the
// in-flight attempt/budget state (spec §4.5's routing_context).
type ExecuteStepInput struct {
	JobID     string
	AttemptID string
	Worktree  model.Worktree
	Step      model.Step
	Optimize  model.RoutingPreference

	AttemptNumber      int
	ExecutorOverride   string
	HasBudget          bool
	BudgetRemainingUSD float64
}

// ExecuteStepResult is what a step produced: a human-readable summary of
// the command it ran and that command's stdout, and the model that served it
// (for Metrics attribution). ChangeSummary is not passed to the acceptance
// checker; VerifyActivity gives the checker the test run's evidence instead.
type ExecuteStepResult struct {
	StepID        string
	ChangeSummary string
	ModelID       string
	Failed        bool
	FailureReason string
}

// VerifyInput feeds VerifyActivity: the worktree and plan to verify. Each
// Step in Plan carries its own TestCommands (spec §4's per-step field);
// VerifyActivity runs the union of them against Worktree before checking
// per-step acceptance criteria.
type VerifyInput struct {
	JobID         string
	AttemptID     string
	Worktree      model.Worktree
	Plan          model.Plan
	Optimize      model.RoutingPreference
	AttemptNumber int
}

// VerifyResult is the Attempt-level outcome of verification: the aggregate
// pass/fail plus per-step Verdicts for replan feedback.
type VerifyResult struct {
	Passed   bool
	Verdicts map[string]model.Verdict
	Summary  string
}

// MergeInput feeds MergeActivity.
type MergeInput struct {
	IntegrationBranch string
	Worktree          model.Worktree
}

// CheckBudgetInput feeds CheckBudgetActivity, run before each attempt after
// the first to enforce JobConfig.BudgetUSD (spec §9): once a Job's
// accumulated cost reaches its budget, KindBudgetExceeded is terminal.
type CheckBudgetInput struct {
	JobID     string
	BudgetUSD float64
}

// EscalateInput feeds EscalateActivity when all attempts are exhausted.
type EscalateInput struct {
	JobID        string
	Failures     []string
	AttemptCount int
}

const (
	defaultStepTimeout    = 10 * time.Minute
	defaultPlanTimeout    = 5 * time.Minute
	defaultVerifyTimeout  = 10 * time.Minute
	defaultMergeTimeout   = 2 * time.Minute
	defaultRecordTimeout  = 30 * time.Second
	defaultReplanAfter    = 1
)
