package llm

import (
	"context"
	"sort"

	"github.com/antigravity-dev/chakravarti/internal/model"
	"github.com/antigravity-dev/chakravarti/internal/retry"
)

// Router selects a Provider and model per a Job's routing preference, and
// retries rate-limited or transient failures with tier escalation before
// surfacing an error to the Orchestrator.
type Router struct {
	providers []Provider
	limiter   *RateLimiter
	policy    retry.Policy
}

// NewRouter constructs a Router over the given Providers.
func NewRouter(providers []Provider, limiter *RateLimiter) *Router {
	return &Router{
		providers: providers,
		limiter:   limiter,
		policy:    retry.DefaultPolicy(),
	}
}

// RoutingContext is spec §4.5's routing_context: everything the selection
// policy's five-rule precedence chain needs beyond the raw model catalog.
type RoutingContext struct {
	StepKind      model.StepKind
	Optimize      model.RoutingPreference
	AttemptNumber int

	// ExecutorOverride, if non-empty, pins selection to that exact model id
	// (rule 1) when StepKind is StepKindExecutor; PlannerOverride does the
	// same for every other StepKind, acceptance checks included.
	PlannerOverride  string
	ExecutorOverride string

	// EstimatedInputTokens/ReservedOutputTokens size rule 2's context-window
	// fit check. Zero EstimatedInputTokens disables the fit check (the
	// caller didn't estimate), not reject every model.
	EstimatedInputTokens int
	ReservedOutputTokens int

	// HasBudget/BudgetRemainingUSD feed rule 5's demotion: the router
	// estimates each candidate's cost from EstimatedInputTokens/
	// ReservedOutputTokens and its own pricing, and demotes one tier when
	// that estimate would push spend past BudgetRemainingUSD, giving up
	// with KindBudgetExceeded once no candidate fits.
	HasBudget          bool
	BudgetRemainingUSD float64
}

func (rc RoutingContext) override() string {
	switch rc.StepKind {
	case model.StepKindExecutor:
		return rc.ExecutorOverride
	default:
		return rc.PlannerOverride
	}
}

// candidate pairs a Provider with one of its routable models.
type candidate struct {
	provider Provider
	m        ModelInfo
}

func (c candidate) fitsContext(rc RoutingContext) bool {
	if c.m.ContextWindow <= 0 || rc.EstimatedInputTokens <= 0 {
		return true
	}
	return rc.EstimatedInputTokens+rc.ReservedOutputTokens <= c.m.ContextWindow
}

func (c candidate) estimatedCost(rc RoutingContext) float64 {
	inTok := float64(rc.EstimatedInputTokens)
	outTok := float64(rc.ReservedOutputTokens)
	return (inTok/1_000_000)*c.m.InputPriceMtok + (outTok/1_000_000)*c.m.OutputPriceMtok
}

// allCandidates flattens every Provider's catalog into one slice.
func (r *Router) allCandidates() []candidate {
	var all []candidate
	for _, p := range r.providers {
		for _, m := range p.Models() {
			all = append(all, candidate{provider: p, m: m})
		}
	}
	return all
}

// rankByPreference sorts candidates per pref: "cost" sorts by combined price
// ascending (ties broken by output_per_1k per rule 2), "time" sorts by
// expected latency ascending (rule 3), "balanced" sorts by tier then by the
// cost*latency tradeoff (rule 4's default-tier behavior).
func rankByPreference(all []candidate, pref model.RoutingPreference) []candidate {
	ranked := make([]candidate, len(all))
	copy(ranked, all)

	less := func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		switch pref {
		case model.OptimizeCost:
			aSum, bSum := a.m.InputPriceMtok+a.m.OutputPriceMtok, b.m.InputPriceMtok+b.m.OutputPriceMtok
			if aSum != bSum {
				return aSum < bSum
			}
			return a.m.OutputPriceMtok < b.m.OutputPriceMtok
		case model.OptimizeTime:
			return a.m.ExpectedLatency < b.m.ExpectedLatency
		default: // balanced
			if a.m.Tier != b.m.Tier {
				return a.m.Tier < b.m.Tier
			}
			aScore := (a.m.InputPriceMtok + a.m.OutputPriceMtok) * float64(a.m.ExpectedLatency)
			bScore := (b.m.InputPriceMtok + b.m.OutputPriceMtok) * float64(b.m.ExpectedLatency)
			return aScore < bScore
		}
	}
	sort.SliceStable(ranked, less)
	return ranked
}

// selectCandidate runs spec §4.5's five-rule precedence chain, first match
// wins:
//  1. an explicit PlannerOverride/ExecutorOverride for rc.StepKind,
//  2. optimize=cost: cheapest model whose context window fits, ties broken
//     by output_per_1k,
//  3. optimize=time: fastest-tier model,
//  4. optimize=balanced (the default): the step kind's default tier,
//     escalated one tier once rc.AttemptNumber >= 2,
//  5. budget enforcement: demote one tier if the top pick would push
//     estimated spend past rc.BudgetRemainingUSD; KindBudgetExceeded if no
//     affordable model remains.
func (r *Router) selectCandidate(rc RoutingContext) (candidate, error) {
	all := r.allCandidates()
	if len(all) == 0 {
		return candidate{}, model.New(model.KindBadConfig, "llm.Router.selectCandidate", "no providers configured")
	}

	// Rule 1: explicit override for the step role.
	if id := rc.override(); id != "" {
		for _, c := range all {
			if c.m.ID == id {
				return c, nil
			}
		}
	}

	var fitting []candidate
	for _, c := range all {
		if c.fitsContext(rc) {
			fitting = append(fitting, c)
		}
	}
	if len(fitting) == 0 {
		fitting = all
	}

	ranked := rankByPreference(fitting, rc.Optimize)

	// Rule 4: balanced preference escalates one tier on a retry attempt.
	if rc.Optimize == model.OptimizeBalance && rc.AttemptNumber >= 2 && len(ranked) > 1 {
		baseTier := ranked[0].m.Tier
		for _, c := range ranked {
			if c.m.Tier > baseTier {
				ranked = append([]candidate{c}, ranked...)
				break
			}
		}
	}

	// Rule 5: budget-driven demotion. Walk ranked from the top, skipping
	// candidates whose estimated cost would exhaust the remaining budget,
	// until one fits or none do.
	if rc.HasBudget {
		for _, c := range ranked {
			if rc.BudgetRemainingUSD-c.estimatedCost(rc) >= 0 {
				return c, nil
			}
		}
		return candidate{}, model.New(model.KindBudgetExceeded, "llm.Router.selectCandidate",
			"no candidate model fits the remaining budget")
	}

	return ranked[0], nil
}

// CompleteRequest runs req against the candidate rc's five-rule precedence
// chain selects, escalating to the next-ranked candidate on a retryable
// failure per the retry policy, and returning the raw Response plus which
// model actually served it (for Metrics attribution).
func (r *Router) CompleteRequest(ctx context.Context, rc RoutingContext, req Request) (Response, string, error) {
	first, err := r.selectCandidate(rc)
	if err != nil {
		return Response{}, "", err
	}

	all := r.allCandidates()
	ranked := rankByPreference(all, rc.Optimize)
	ordered := append([]candidate{first}, ranked...)

	seen := make(map[string]bool, len(ordered))
	var lastErr error
	attempt := 0
	for _, c := range ordered {
		key := c.provider.Name() + "/" + c.m.ID
		if seen[key] {
			continue
		}
		seen[key] = true

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx, c.provider.Name()); err != nil {
				lastErr = err
				continue
			}
		}

		withModel := req
		withModel.ModelID = c.m.ID
		resp, err := c.provider.Complete(ctx, withModel)
		if err == nil {
			return resp, c.m.ID, nil
		}

		lastErr = err
		if !model.Retryable(err) {
			return Response{}, "", err
		}

		_, _, shouldRetry := r.policy.Next(attempt, string(rc.Optimize))
		attempt++
		if !shouldRetry {
			break
		}
	}

	return Response{}, "", lastErr
}

// Complete implements planner.ModelRouter/verifier.AcceptanceChecker: a
// simplified text-in, text-out completion over CompleteRequest's candidate
// selection.
func (r *Router) Complete(ctx context.Context, rc RoutingContext, systemPrompt, userPrompt string) (string, error) {
	resp, _, err := r.CompleteRequest(ctx, rc, Request{System: systemPrompt, Prompt: userPrompt, MaxTokens: 4096})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
