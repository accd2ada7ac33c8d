package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/antigravity-dev/chakravarti/internal/llm"
	"github.com/antigravity-dev/chakravarti/internal/model"
)

// ModelRouter is the narrow slice of internal/llm.Router the Planner needs:
// a single completion call, which Replan uses to ask for a revised step list
// after a failed Attempt. Plan does not call it.
type ModelRouter interface {
	Complete(ctx context.Context, rc llm.RoutingContext, systemPrompt, userPrompt string) (string, error)
}

// Planner compiles Specs into Plans and repairs them after a failed Attempt.
type Planner struct {
	router ModelRouter
}

// New constructs a Planner backed by router.
func New(router ModelRouter) *Planner {
	return &Planner{router: router}
}

// Plan validates spec's step graph and compiles it into an executable Plan
// with zero-indexed, dependency-respecting batches. It returns
// model.KindPlanInvalid if the graph has a cycle or a dangling dependency.
func (p *Planner) Plan(spec model.Spec) (model.Plan, error) {
	if err := model.ValidateSpec(spec); err != nil {
		return model.Plan{}, err
	}
	if len(spec.Steps) == 0 {
		return model.Plan{}, model.New(model.KindSpecInvalid, "planner.Plan", "spec has no steps")
	}

	g, err := buildDepGraph(spec.Steps)
	if err != nil {
		return model.Plan{}, model.Wrap(model.KindPlanInvalid, "planner.Plan", "invalid step graph", err)
	}

	if cycle := g.detectCycle(); cycle != nil {
		return model.Plan{}, model.New(model.KindPlanInvalid, "planner.Plan",
			fmt.Sprintf("dependency cycle: %v", cycle))
	}

	waves := g.batches()

	steps := make([]model.Step, 0, len(spec.Steps))
	batches := make([]model.Batch, 0, len(waves))
	for i, wave := range waves {
		batches = append(batches, model.Batch{Index: i, StepIDs: wave})
		for _, id := range wave {
			specStep := g.nodes[id]
			steps = append(steps, model.Step{
				ID:           specStep.ID,
				Description:  specStep.Description,
				DependsOn:    g.DependsOnIDs(id),
				Acceptance:   specStep.Acceptance,
				TestCommands: specStep.TestCommands,
				BatchIndex:   i,
			})
		}
	}

	return model.Plan{
		SpecID:    spec.ID,
		Steps:     steps,
		Batches:   batches,
		Revision:  1,
		CreatedAt: time.Now(),
	}, nil
}

// replanResponse is the schema the model is asked to reply with when
// resolving a failed attempt: the complete revised step list, which replaces
// the failed plan's steps as a whole, plus free-form notes.
type replanResponse struct {
	Steps []model.SpecStep `json:"steps"`
	Notes string           `json:"notes"`
}

// Replan asks the Model Router to propose a revised set of steps given the
// original spec, the failed plan, and a summary of why the attempt failed,
// then re-validates and re-batches the result exactly as Plan does. rc
// carries the routing context (attempt number, planner override, budget)
// the Router's selection policy (spec §4.5) needs; Replan sets rc.StepKind
// to StepKindPlanner itself regardless of what the caller passed in.
func (p *Planner) Replan(ctx context.Context, spec model.Spec, failed model.Plan, failureSummary string, rc llm.RoutingContext) (model.Plan, error) {
	if p.router == nil {
		return model.Plan{}, model.New(model.KindPlanInvalid, "planner.Replan", "no model router configured")
	}
	rc.StepKind = model.StepKindPlanner
	if rc.Optimize == "" {
		rc.Optimize = model.OptimizeBalance
	}

	prevJSON, err := json.Marshal(failed)
	if err != nil {
		return model.Plan{}, model.Wrap(model.KindPlanInvalid, "planner.Replan", "failed to marshal prior plan", err)
	}

	system := "You are a planning assistant for an autonomous coding system. " +
		"Given a goal, a prior plan, and why it failed, reply with corrected JSON " +
		`of the form {"steps":[{"id":"...","description":"...","depends_on":["..."],` +
		`"acceptance":"...","test_commands":[["..."]]}],"notes":"..."}. ` +
		"test_commands is an optional list of argv-style command lines to run inside " +
		"the sandboxed worktree to verify the step; omit it if the step needs no tests."
	user := fmt.Sprintf("Goal: %s\nPrior plan: %s\nFailure summary: %s", spec.Goal, string(prevJSON), failureSummary)

	reply, err := p.router.Complete(ctx, rc, system, user)
	if err != nil {
		return model.Plan{}, err
	}

	var parsed replanResponse
	if err := json.Unmarshal([]byte(reply), &parsed); err != nil {
		return model.Plan{}, model.Wrap(model.KindPlanInvalid, "planner.Replan", "model reply was not valid plan JSON", err)
	}
	if len(parsed.Steps) == 0 {
		return model.Plan{}, model.New(model.KindPlanInvalid, "planner.Replan", "model proposed zero steps")
	}

	revised := spec
	revised.Steps = parsed.Steps

	plan, err := p.Plan(revised)
	if err != nil {
		return model.Plan{}, err
	}
	plan.Revision = failed.Revision + 1
	return plan, nil
}
