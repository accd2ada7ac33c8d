package temporalengine

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.temporal.io/sdk/activity"

	"github.com/antigravity-dev/chakravarti/internal/journal"
	"github.com/antigravity-dev/chakravarti/internal/llm"
	"github.com/antigravity-dev/chakravarti/internal/metricsstore"
	"github.com/antigravity-dev/chakravarti/internal/model"
	"github.com/antigravity-dev/chakravarti/internal/planner"
	"github.com/antigravity-dev/chakravarti/internal/sandbox"
	"github.com/antigravity-dev/chakravarti/internal/verifier"
	"github.com/antigravity-dev/chakravarti/internal/worktree"
)

// StepRunner is the narrow slice of internal/sandbox.Sandbox an activity
// needs to dispatch a model-proposed command into a worktree.
type StepRunner interface {
	Run(ctx context.Context, worktreePath string, argv []string) (stdout string, stderr string, exitCode int, err error)
}

// Activities holds every dependency JobWorkflow's activities call into: the
// Planner, Model Router, Verifier, Sandbox, Worktree Manager, Metrics
// Store, and Journal built in cmd/chakravartid's bootstrap.
type Activities struct {
	Planner   *planner.Planner
	Router    *llm.Router
	Verifier  *verifier.Verifier
	Runner    StepRunner
	AllowList *sandbox.AllowList
	Worktrees *worktree.Manager
	Metrics   *metricsstore.Store
	Recorder  *metricsstore.Recorder
	Journal   *journal.Journal
	Pricing   map[string]llm.ModelInfo

	// PostMergeChecks are read-only commands run against the integration
	// branch's new head after a successful merge (SPEC_FULL.md §12's
	// DoD-style post-merge checks) — observability only, never gating.
	PostMergeChecks []string
}

// PlanActivity compiles input.Spec into a Plan.
func (a *Activities) PlanActivity(ctx context.Context, input PlanInput) (model.Plan, error) {
	return a.Planner.Plan(input.Spec)
}

// ReplanActivity asks the Planner to repair a failed Plan given feedback.
func (a *Activities) ReplanActivity(ctx context.Context, input ReplanInput) (model.Plan, error) {
	return a.Planner.Replan(ctx, input.Spec, input.Failed, input.FailureSummary, llm.RoutingContext{
		Optimize:        input.Optimize,
		AttemptNumber:   input.AttemptNumber,
		PlannerOverride: input.PlannerOverride,
	})
}

// CreateWorktreeActivity creates a fresh per-attempt worktree rooted at
// input.IntegrationBranch's current head.
func (a *Activities) CreateWorktreeActivity(ctx context.Context, input CreateWorktreeInput) (model.Worktree, error) {
	return a.Worktrees.Create(input.JobID, input.AttemptNumber, input.IntegrationBranch)
}

// ExecuteStepActivity asks the Model Router to propose a command for a
// Step, resolves it against the Sandbox AllowList, and runs it inside the
// Step's worktree. The model's reply is treated as a single shell command
// line (argv split on whitespace) — the proposed tool action spec §4.8
// describes the Router/Provider/Sandbox pipeline producing.
func (a *Activities) ExecuteStepActivity(ctx context.Context, input ExecuteStepInput) (ExecuteStepResult, error) {
	logger := activity.GetLogger(ctx)

	if a.Recorder != nil {
		var span trace.Span
		ctx, span = a.Recorder.StartStep(ctx, input.JobID, input.Step.ID, input.AttemptID)
		defer span.End()
	}

	system := "You are an autonomous coding agent. Given a step description, " +
		"reply with exactly one shell command (from the allowed command set) to run " +
		"against the mounted worktree to make progress on the step. Reply with the " +
		"command line only, no explanation."
	user := fmt.Sprintf("Step %s: %s", input.Step.ID, input.Step.Description)

	resp, modelID, err := a.Router.CompleteRequest(ctx, llm.RoutingContext{
		StepKind:             model.StepKindExecutor,
		Optimize:             input.Optimize,
		AttemptNumber:        input.AttemptNumber,
		ExecutorOverride:     input.ExecutorOverride,
		EstimatedInputTokens: llm.EstimateTokens(system) + llm.EstimateTokens(user),
		ReservedOutputTokens: 2048,
		HasBudget:            input.HasBudget,
		BudgetRemainingUSD:   input.BudgetRemainingUSD,
	}, llm.Request{
		System:    system,
		Prompt:    user,
		MaxTokens: 2048,
	})
	if err != nil {
		return ExecuteStepResult{StepID: input.Step.ID, Failed: true, FailureReason: err.Error()}, nil
	}

	a.recordUsage(ctx, input.JobID, input.Step.ID, input.AttemptID, modelID, resp.Usage)

	argv := strings.Fields(strings.TrimSpace(resp.Content))
	if len(argv) == 0 {
		return ExecuteStepResult{StepID: input.Step.ID, ModelID: modelID, Failed: true,
			FailureReason: "model proposed an empty command"}, nil
	}

	resolved, err := a.AllowList.Resolve(argv[0], sandbox.Vars{Worktree: input.Worktree.Path, StepID: input.Step.ID})
	if err != nil {
		return ExecuteStepResult{StepID: input.Step.ID, ModelID: modelID, Failed: true,
			FailureReason: err.Error()}, nil
	}
	// argv[0] is the allow-listed command's canonical invocation; any
	// additional words the model proposed beyond the matched command name
	// are discarded, since only the AllowList's own templated args are
	// trusted to reach exec.Command.
	stdout, stderr, exitCode, err := a.Runner.Run(ctx, input.Worktree.Path, resolved)
	if err != nil {
		return ExecuteStepResult{StepID: input.Step.ID, ModelID: modelID, Failed: true,
			FailureReason: err.Error()}, nil
	}

	var shellForm string
	if len(resolved) > 0 {
		shellForm = sandbox.BuildShellCommand(resolved[0], resolved[1:]...)
	}
	logger.Info("step command completed", "step", input.Step.ID, "command", shellForm, "exit_code", exitCode)

	if exitCode != 0 {
		return ExecuteStepResult{
			StepID:        input.Step.ID,
			ModelID:       modelID,
			Failed:        true,
			FailureReason: fmt.Sprintf("command %s exited %d: %s", shellForm, exitCode, stderr),
		}, nil
	}

	return ExecuteStepResult{
		StepID:        input.Step.ID,
		ModelID:       modelID,
		ChangeSummary: fmt.Sprintf("ran %s\nstdout:\n%s", shellForm, stdout),
	}, nil
}

func (a *Activities) recordUsage(ctx context.Context, jobID, stepID, attemptID, modelID string, usage llm.Usage) {
	if a.Metrics == nil {
		return
	}
	pricing := a.Pricing[modelID]
	cost := llm.CalculateCost(usage, pricing.InputPriceMtok, pricing.OutputPriceMtok)
	if err := a.Metrics.RecordStepUsage(jobID, stepID, attemptID, modelID, int64(usage.InputTokens), int64(usage.OutputTokens), cost); err != nil {
		activity.GetLogger(ctx).Warn("failed to record step usage", "error", err)
	}
	if a.Recorder != nil {
		a.Recorder.RecordUsage(ctx, modelID, int64(usage.InputTokens), int64(usage.OutputTokens), cost)
	}
}

// VerifyActivity runs every Step's test commands plus per-step acceptance
// checks against input.Worktree, aggregating into one VerifyResult.
func (a *Activities) VerifyActivity(ctx context.Context, input VerifyInput) (VerifyResult, error) {
	verdicts := make(map[string]model.Verdict, len(input.Plan.Steps))

	var testCommands [][]string
	for _, step := range input.Plan.Steps {
		testCommands = append(testCommands, step.TestCommands...)
	}

	testVerdict, err := a.Verifier.RunTests(ctx, input.Worktree.Path, testCommands)
	if err != nil {
		return VerifyResult{}, err
	}
	if testVerdict.Status != model.VerdictPass {
		return VerifyResult{Passed: false, Verdicts: verdicts, Summary: testVerdict.Evidence}, nil
	}

	var failures []string
	for _, step := range input.Plan.Steps {
		verdict, err := a.Verifier.CheckAcceptance(ctx, step, testVerdict.Evidence, llm.RoutingContext{
			Optimize:      input.Optimize,
			AttemptNumber: input.AttemptNumber,
		})
		if err != nil {
			return VerifyResult{}, err
		}
		verdicts[step.ID] = verdict
		if verdict.Status == model.VerdictFail {
			failures = append(failures, fmt.Sprintf("%s: %s", step.ID, verdict.Evidence))
		}
	}

	if len(failures) > 0 {
		return VerifyResult{Passed: false, Verdicts: verdicts, Summary: strings.Join(failures, "; ")}, nil
	}
	return VerifyResult{Passed: true, Verdicts: verdicts, Summary: "tests and acceptance checks passed"}, nil
}

// MergeActivity merges input.Worktree's branch into the integration branch.
func (a *Activities) MergeActivity(ctx context.Context, input MergeInput) (string, error) {
	return a.Worktrees.MergeInto(input.IntegrationBranch, input.Worktree)
}

// PostMergeChecksActivity runs a.PostMergeChecks against the integration
// branch's new head after a successful merge. A nil/empty PostMergeChecks
// list is a no-op, not an error.
func (a *Activities) PostMergeChecksActivity(ctx context.Context, mergeCommit string) (worktree.DoDResult, error) {
	if len(a.PostMergeChecks) == 0 {
		return worktree.DoDResult{Passed: true}, nil
	}
	result, err := a.Worktrees.RunPostMergeChecks(a.PostMergeChecks)
	if err != nil {
		return worktree.DoDResult{}, err
	}
	if !result.Passed {
		activity.GetLogger(ctx).Warn("post-merge checks failed", "merge_commit", mergeCommit, "failures", strings.Join(result.Failures, "; "))
	}
	return *result, nil
}

// DiscardWorktreeActivity discards a worktree whose attempt did not merge.
func (a *Activities) DiscardWorktreeActivity(ctx context.Context, wt model.Worktree) error {
	return a.Worktrees.Discard(wt)
}

// RecordEventActivity durably records event and publishes it to live
// subscribers of event.JobID.
func (a *Activities) RecordEventActivity(ctx context.Context, event model.JobEvent) error {
	return a.Journal.Record(event)
}

// JobMetricsActivity returns the accumulated token usage and cost for jobID,
// for attaching to JobWorkflowResult once the Job reaches a terminal phase.
func (a *Activities) JobMetricsActivity(ctx context.Context, jobID string) (model.Metrics, error) {
	if a.Metrics == nil {
		return model.Metrics{JobID: jobID}, nil
	}
	return a.Metrics.JobMetrics(jobID)
}

// CheckBudgetActivity reports whether jobID has already spent input.BudgetUSD,
// per JobConfig.BudgetUSD (spec §9's budget cap). A non-positive BudgetUSD or
// a nil Metrics store means no cap is configured.
func (a *Activities) CheckBudgetActivity(ctx context.Context, input CheckBudgetInput) (bool, error) {
	if a.Metrics == nil || input.BudgetUSD <= 0 {
		return false, nil
	}
	return a.Metrics.BudgetExceeded(input.JobID, input.BudgetUSD)
}

// EscalateActivity records a terminal, unresolved failure for human
// follow-up once all attempts are exhausted.
func (a *Activities) EscalateActivity(ctx context.Context, input EscalateInput) error {
	activity.GetLogger(ctx).Error("job escalated after exhausting attempts",
		"job_id", input.JobID, "attempts", input.AttemptCount, "failures", strings.Join(input.Failures, "; "))
	return nil
}
