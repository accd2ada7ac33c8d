package temporalengine

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/antigravity-dev/chakravarti/internal/model"
	"github.com/antigravity-dev/chakravarti/internal/worktree"
)

// JobWorkflow drives a Job through the Orchestrator's state machine (spec
// §4.8): Planning, per-batch step execution inside a fresh per-attempt
// Worktree, Verification, and merge-or-discard, retrying or replanning
// failed attempts per policy until the Job reaches a terminal phase.
func JobWorkflow(ctx workflow.Context, req JobWorkflowRequest) (JobWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	var a *Activities

	state := &model.RunState{Phase: model.JobCreated}
	canceled := false

	workflow.SetQueryHandler(ctx, "status", func() (model.RunState, error) {
		return *state, nil
	})

	recordOpts := workflow.ActivityOptions{
		StartToCloseTimeout: defaultRecordTimeout,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	}
	record := func(event model.JobEvent) {
		event.JobID = req.JobID
		event.Timestamp = workflow.Now(ctx)
		recordCtx := workflow.WithActivityOptions(ctx, recordOpts)
		if err := workflow.ExecuteActivity(recordCtx, a.RecordEventActivity, event).Get(ctx, nil); err != nil {
			logger.Warn("failed to record job event", "kind", event.Kind, "error", err)
		}
	}

	record(model.JobEvent{Kind: model.EventJobCreated})
	state.Phase = model.JobPlanning

	cancelCh := workflow.GetSignalChannel(ctx, "cancel")
	workflow.Go(ctx, func(gctx workflow.Context) {
		cancelCh.Receive(gctx, nil)
		canceled = true
	})

	planOpts := workflow.ActivityOptions{
		StartToCloseTimeout: defaultPlanTimeout,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
	}
	planCtx := workflow.WithActivityOptions(ctx, planOpts)

	var plan model.Plan
	if err := workflow.ExecuteActivity(planCtx, a.PlanActivity, PlanInput{Spec: req.Spec}).Get(ctx, &plan); err != nil {
		return failJob(ctx, a, record, state, req.JobID, fmt.Sprintf("initial planning failed: %v", err))
	}
	record(model.JobEvent{Kind: model.EventPlanCreated, Detail: map[string]any{"revision": plan.Revision}})

	maxAttempts := req.Config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	replanAfter := req.Config.ReplanAfter
	if replanAfter <= 0 {
		replanAfter = defaultReplanAfter
	}

	var allFailures []string

	for attemptNumber := 1; attemptNumber <= maxAttempts; attemptNumber++ {
		if canceled {
			return cancelJob(ctx, a, record, state, req.JobID)
		}

		if attemptNumber > 1 && req.Config.BudgetUSD > 0 {
			budgetOpts := workflow.ActivityOptions{StartToCloseTimeout: defaultRecordTimeout}
			budgetCtx := workflow.WithActivityOptions(ctx, budgetOpts)
			var exceeded bool
			if err := workflow.ExecuteActivity(budgetCtx, a.CheckBudgetActivity, CheckBudgetInput{
				JobID: req.JobID, BudgetUSD: req.Config.BudgetUSD,
			}).Get(ctx, &exceeded); err != nil {
				logger.Warn("budget check failed, proceeding with attempt", "error", err)
			} else if exceeded {
				allFailures = append(allFailures, fmt.Sprintf("attempt %d: budget of $%.2f exceeded", attemptNumber, req.Config.BudgetUSD))
				return failJob(ctx, a, record, state, req.JobID, strings.Join(allFailures, "; "))
			}
		}

		state.Phase = model.JobAttemptRunning
		state.AttemptCount = attemptNumber
		attemptID := fmt.Sprintf("%s-attempt-%d", req.JobID, attemptNumber)
		record(model.JobEvent{Kind: model.EventBatchStarted, AttemptID: attemptID, Detail: map[string]any{"attempt": attemptNumber}})

		wtOpts := workflow.ActivityOptions{StartToCloseTimeout: defaultMergeTimeout}
		wtCtx := workflow.WithActivityOptions(ctx, wtOpts)
		var wt model.Worktree
		if err := workflow.ExecuteActivity(wtCtx, a.CreateWorktreeActivity, CreateWorktreeInput{
			JobID: req.JobID, AttemptNumber: attemptNumber, IntegrationBranch: req.IntegrationBranch,
		}).Get(ctx, &wt); err != nil {
			return failJob(ctx, a, record, state, req.JobID, fmt.Sprintf("worktree creation failed: %v", err))
		}

		var attemptDeadline time.Time
		if req.Config.PerAttemptTimeout > 0 {
			attemptDeadline = workflow.Now(ctx).Add(req.Config.PerAttemptTimeout)
		}

		var budgetRemaining float64
		hasBudget := req.Config.BudgetUSD > 0
		if hasBudget {
			budgetRemaining = req.Config.BudgetUSD - jobMetrics(ctx, a, req.JobID).CostUSD
		}

		failureKind, stepErr, stepOutcomes := runBatches(ctx, a, req, plan, wt, attemptID, attemptNumber, state,
			attemptDeadline, hasBudget, budgetRemaining, record)
		if canceled {
			discardWorktree(ctx, a, wt)
			return cancelJob(ctx, a, record, state, req.JobID)
		}

		if stepErr == nil {
			state.Phase = model.JobVerifying
			verifyOpts := workflow.ActivityOptions{StartToCloseTimeout: defaultVerifyTimeout}
			verifyCtx := workflow.WithActivityOptions(ctx, verifyOpts)
			var result VerifyResult
			err := workflow.ExecuteActivity(verifyCtx, a.VerifyActivity, VerifyInput{
				JobID: req.JobID, AttemptID: attemptID, Worktree: wt, Plan: plan,
				Optimize: req.Config.Optimize, AttemptNumber: attemptNumber,
			}).Get(ctx, &result)
			record(model.JobEvent{Kind: model.EventVerificationDone, AttemptID: attemptID,
				Detail: map[string]any{"passed": result.Passed, "summary": result.Summary}})

			if err == nil && result.Passed {
				wt.State = model.WorktreeVerified

				mergeOpts := workflow.ActivityOptions{StartToCloseTimeout: defaultMergeTimeout}
				mergeCtx := workflow.WithActivityOptions(ctx, mergeOpts)
				var head string
				if err := workflow.ExecuteActivity(mergeCtx, a.MergeActivity, MergeInput{
					IntegrationBranch: req.IntegrationBranch, Worktree: wt,
				}).Get(ctx, &head); err != nil {
					failureKind = model.KindMergeConflict
					stepErr = err
				} else {
					wt.State = model.WorktreeMerged
					record(model.JobEvent{Kind: model.EventAttemptSucceeded, AttemptID: attemptID,
						Detail: map[string]any{"merge_commit": head, "step_outcomes": stepOutcomes}})

					postMergeOpts := workflow.ActivityOptions{StartToCloseTimeout: defaultVerifyTimeout}
					postMergeCtx := workflow.WithActivityOptions(ctx, postMergeOpts)
					var dod worktree.DoDResult
					if err := workflow.ExecuteActivity(postMergeCtx, a.PostMergeChecksActivity, head).Get(ctx, &dod); err != nil {
						logger.Warn("post-merge checks activity failed", "error", err)
					} else if !dod.Passed {
						record(model.JobEvent{Kind: model.EventVerificationDone, AttemptID: attemptID,
							Detail: map[string]any{"post_merge_passed": false, "failures": dod.Failures}})
					}

					state.Phase = model.JobAttemptSucceeded
					discardWorktree(ctx, a, wt)
					state.Phase = model.JobSucceeded
					record(model.JobEvent{Kind: model.EventJobSucceeded})
					return JobWorkflowResult{FinalPhase: model.JobSucceeded, Metrics: jobMetrics(ctx, a, req.JobID)}, nil
				}
			} else if err != nil {
				failureKind = model.KindTestsFailed
				stepErr = err
			} else {
				failureKind = model.KindTestsFailed
				stepErr = fmt.Errorf("verification failed: %s", result.Summary)
			}
		}

		discardWorktree(ctx, a, wt)
		allFailures = append(allFailures, fmt.Sprintf("attempt %d: %v", attemptNumber, stepErr))
		record(model.JobEvent{Kind: model.EventAttemptFailed, AttemptID: attemptID,
			Detail: map[string]any{"error": stepErr.Error(), "kind": failureKind, "step_outcomes": stepOutcomes}})

		// Policy decisions are keyed off the failureKind each branch above
		// set explicitly, not off stepErr's dynamic type: Temporal wraps
		// every activity error, so a *model.Error's Kind does not reliably
		// survive the activity boundary.
		policyErr := model.New(failureKind, "orchestrator", stepErr.Error())
		if model.Terminal(policyErr) {
			return failJob(ctx, a, record, state, req.JobID, strings.Join(allFailures, "; "))
		}
		if attemptNumber == maxAttempts {
			break
		}
		if !model.Retryable(policyErr) && !model.Replannable(policyErr) {
			return failJob(ctx, a, record, state, req.JobID, strings.Join(allFailures, "; "))
		}

		state.Phase = model.JobPlanning
		if attemptNumber >= replanAfter {
			replanOpts := workflow.ActivityOptions{
				StartToCloseTimeout: defaultPlanTimeout,
				RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
			}
			replanCtx := workflow.WithActivityOptions(ctx, replanOpts)
			var replanned model.Plan
			if err := workflow.ExecuteActivity(replanCtx, a.ReplanActivity, ReplanInput{
				Spec: req.Spec, Failed: plan, FailureSummary: strings.Join(allFailures, "; "),
				Optimize: req.Config.Optimize, AttemptNumber: attemptNumber, PlannerOverride: req.Config.PlannerOverride,
			}).Get(ctx, &replanned); err != nil {
				return failJob(ctx, a, record, state, req.JobID, fmt.Sprintf("replanning failed: %v", err))
			}
			plan = replanned
			record(model.JobEvent{Kind: model.EventReplanned, Detail: map[string]any{"revision": plan.Revision}})
		}
	}

	escalateOpts := workflow.ActivityOptions{StartToCloseTimeout: defaultRecordTimeout}
	escalateCtx := workflow.WithActivityOptions(ctx, escalateOpts)
	_ = workflow.ExecuteActivity(escalateCtx, a.EscalateActivity, EscalateInput{
		JobID: req.JobID, Failures: allFailures, AttemptCount: maxAttempts,
	}).Get(ctx, nil)

	return failJob(ctx, a, record, state, req.JobID, strings.Join(allFailures, "; "))
}

// jobMetrics fetches the accumulated Metrics for jobID via JobMetricsActivity,
// logging and returning a zero-value Metrics if the query fails — a metrics
// lookup failure must never prevent a Job from reaching its terminal phase.
func jobMetrics(ctx workflow.Context, a *Activities, jobID string) model.Metrics {
	opts := workflow.ActivityOptions{StartToCloseTimeout: defaultRecordTimeout}
	metricsCtx := workflow.WithActivityOptions(ctx, opts)
	var metrics model.Metrics
	if err := workflow.ExecuteActivity(metricsCtx, a.JobMetricsActivity, jobID).Get(ctx, &metrics); err != nil {
		workflow.GetLogger(ctx).Warn("failed to fetch job metrics", "error", err)
		return model.Metrics{JobID: jobID}
	}
	return metrics
}

// runBatches dispatches plan's Batches in dependency order, running every
// Batch's Steps concurrently (bounded by Config.MaxParallelSteps). It
// returns the first failure's Kind and error, if any, plus the per-step
// disposition of every step in plan (spec §3's Attempt.step_outcomes): steps
// that finished are Completed or Failed, steps never reached because a
// dependency failed are Skipped{cause=dependency_failed} per spec §4.8 step
// 3c, and steps never reached for any other reason (batch dispatch aborted
// before they were scheduled) are left out of the map entirely.
//
// deadline, if non-zero, is re-checked at the start of every Batch (the
// stale-attempt janitor's reconciliation point): once exceeded, every step
// that hasn't yet been dispatched is marked Skipped{cause=attempt_timeout}
// and dispatch aborts with KindStepTimeout, without needing a separate
// cross-workflow scheduler to poll for it. attemptNumber, hasBudget, and
// budgetRemaining feed each Step's routing context (spec §4.5) so the Model
// Router can escalate tiers on a retried attempt and demote on a tight
// budget.
func runBatches(ctx workflow.Context, a *Activities, req JobWorkflowRequest, plan model.Plan,
	wt model.Worktree, attemptID string, attemptNumber int, state *model.RunState, deadline time.Time,
	hasBudget bool, budgetRemaining float64, record func(model.JobEvent)) (model.Kind, error, map[string]model.StepOutcome) {

	stepOpts := workflow.ActivityOptions{
		StartToCloseTimeout: defaultStepTimeout,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
	if req.Config.StepTimeout > 0 {
		stepOpts.StartToCloseTimeout = req.Config.StepTimeout
	}
	stepCtx := workflow.WithActivityOptions(ctx, stepOpts)

	maxParallel := req.Config.MaxParallelSteps
	if maxParallel <= 0 {
		maxParallel = 1
	}

	outcomes := make(map[string]model.StepOutcome, len(plan.Steps))

	for _, batch := range plan.Batches {
		if !deadline.IsZero() && workflow.Now(ctx).After(deadline) {
			skipRemaining(plan, attemptID, outcomes, record)
			return model.KindStepTimeout, fmt.Errorf("attempt exceeded per-attempt timeout before batch %d", batch.Index), outcomes
		}

		state.CurrentBatch = batch.Index
		record(model.JobEvent{Kind: model.EventBatchStarted, AttemptID: attemptID, BatchIndex: batch.Index})

		for offset := 0; offset < len(batch.StepIDs); offset += maxParallel {
			end := offset + maxParallel
			if end > len(batch.StepIDs) {
				end = len(batch.StepIDs)
			}
			group := batch.StepIDs[offset:end]

			futures := make(map[string]workflow.Future, len(group))
			for _, stepID := range group {
				step, ok := plan.StepByID(stepID)
				if !ok {
					continue
				}
				record(model.JobEvent{Kind: model.EventStepStarted, AttemptID: attemptID, StepID: step.ID})
				futures[step.ID] = workflow.ExecuteActivity(stepCtx, a.ExecuteStepActivity, ExecuteStepInput{
					JobID: req.JobID, AttemptID: attemptID, Worktree: wt, Step: step, Optimize: req.Config.Optimize,
					AttemptNumber: attemptNumber, ExecutorOverride: req.Config.ExecutorOverride,
					HasBudget: hasBudget, BudgetRemainingUSD: budgetRemaining,
				})
			}

			for _, stepID := range group {
				fut, ok := futures[stepID]
				if !ok {
					continue
				}
				var result ExecuteStepResult
				if err := fut.Get(ctx, &result); err != nil {
					record(model.JobEvent{Kind: model.EventStepFailed, AttemptID: attemptID, StepID: stepID,
						Detail: map[string]any{"error": err.Error()}})
					outcomes[stepID] = model.StepOutcome{StepID: stepID, Status: model.StepOutcomeFailed}
					skipDescendants(plan, stepID, attemptID, outcomes, record)
					return model.KindTransient, err, outcomes
				}
				if result.Failed {
					record(model.JobEvent{Kind: model.EventStepFailed, AttemptID: attemptID, StepID: stepID,
						Detail: map[string]any{"reason": result.FailureReason}})
					outcomes[stepID] = model.StepOutcome{StepID: stepID, Status: model.StepOutcomeFailed}
					skipDescendants(plan, stepID, attemptID, outcomes, record)
					return model.KindExitNonZero, fmt.Errorf("step %s failed: %s", stepID, result.FailureReason), outcomes
				}
				record(model.JobEvent{Kind: model.EventStepCompleted, AttemptID: attemptID, StepID: stepID,
					Detail: map[string]any{"model_id": result.ModelID}})
				outcomes[stepID] = model.StepOutcome{StepID: stepID, Status: model.StepOutcomeCompleted}
			}
		}
	}

	return "", nil, outcomes
}

// skipRemaining marks every step in plan that doesn't already have an
// outcome as Skipped{cause=attempt_timeout}, recording a JobEvent for each.
func skipRemaining(plan model.Plan, attemptID string, outcomes map[string]model.StepOutcome, record func(model.JobEvent)) {
	for _, step := range plan.Steps {
		if _, done := outcomes[step.ID]; done {
			continue
		}
		outcomes[step.ID] = model.StepOutcome{StepID: step.ID, Status: model.StepOutcomeSkipped, Cause: model.CauseAttemptTimeout}
		record(model.JobEvent{Kind: model.EventStepSkipped, AttemptID: attemptID, StepID: step.ID,
			Detail: map[string]any{"cause": model.CauseAttemptTimeout}})
	}
}

// skipDescendants walks plan's step graph from failedStepID and marks every
// step transitively depending on it — directly or through another skipped
// step — Skipped{cause=dependency_failed}, recording a JobEvent for each.
// Steps that already have an outcome (completed in an earlier batch) are
// left untouched.
func skipDescendants(plan model.Plan, failedStepID, attemptID string, outcomes map[string]model.StepOutcome, record func(model.JobEvent)) {
	children := make(map[string][]string, len(plan.Steps))
	for _, step := range plan.Steps {
		for _, dep := range step.DependsOn {
			children[dep] = append(children[dep], step.ID)
		}
	}

	queue := append([]string(nil), children[failedStepID]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, done := outcomes[id]; done {
			continue
		}
		outcomes[id] = model.StepOutcome{StepID: id, Status: model.StepOutcomeSkipped, Cause: model.CauseDependencyFailed}
		record(model.JobEvent{Kind: model.EventStepSkipped, AttemptID: attemptID, StepID: id,
			Detail: map[string]any{"cause": model.CauseDependencyFailed}})
		queue = append(queue, children[id]...)
	}
}

func discardWorktree(ctx workflow.Context, a *Activities, wt model.Worktree) {
	discardOpts := workflow.ActivityOptions{StartToCloseTimeout: defaultMergeTimeout}
	discardCtx := workflow.WithActivityOptions(ctx, discardOpts)
	_ = workflow.ExecuteActivity(discardCtx, a.DiscardWorktreeActivity, wt).Get(ctx, nil)
}

func failJob(ctx workflow.Context, a *Activities, record func(model.JobEvent), state *model.RunState, jobID, reason string) (JobWorkflowResult, error) {
	state.Phase = model.JobFailed
	record(model.JobEvent{Kind: model.EventJobFailed, Detail: map[string]any{"reason": reason}})
	return JobWorkflowResult{FinalPhase: model.JobFailed, Error: reason, Metrics: jobMetrics(ctx, a, jobID)}, nil
}

func cancelJob(ctx workflow.Context, a *Activities, record func(model.JobEvent), state *model.RunState, jobID string) (JobWorkflowResult, error) {
	state.Phase = model.JobCanceled
	record(model.JobEvent{Kind: model.EventJobCanceled})
	return JobWorkflowResult{FinalPhase: model.JobCanceled, Metrics: jobMetrics(ctx, a, jobID)}, nil
}
