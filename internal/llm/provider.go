// Package llm implements the Model Router: a provider-agnostic completion
// contract, three concrete Providers (Anthropic, OpenAI, Bedrock), and the
// selection policy that picks among them per a Job's routing preference.
package llm

import (
	"context"
	"time"

	"github.com/antigravity-dev/chakravarti/internal/model"
)

// Request is the generic completion request every Provider accepts.
type Request struct {
	ModelID     string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response is the generic completion response every Provider returns.
type Response struct {
	Content      string
	Usage        Usage
	FinishReason string
}

// ModelInfo describes one routable model in a Provider's catalog: its id,
// per-million-token pricing, a coarse expected-latency hint used by the
// "time" routing preference, the context window size rule 2 fits
// input+reserved output against, and the catalog tier rule 4 walks.
type ModelInfo struct {
	ID              string
	InputPriceMtok  float64
	OutputPriceMtok float64
	ExpectedLatency time.Duration

	// ContextWindow is the model's maximum input+output token capacity.
	// Zero means unknown/unbounded: the router never excludes a model on
	// context-window grounds when ContextWindow is unset, since older
	// config files predate this field.
	ContextWindow int

	// Tier orders a provider's catalog from cheapest/fastest (0) to most
	// capable, for the balanced ranking and rule 4's one-tier escalation on
	// retry; rule 3 ranks by ExpectedLatency instead. It is taken from the
	// catalog entry's configured tier.
	Tier int
}

// Provider is a single upstream model backend. internal/llm/anthropic.go,
// openai.go, and bedrock.go each implement it.
type Provider interface {
	Name() string
	Models() []ModelInfo
	Complete(ctx context.Context, req Request) (Response, error)
}

// rateLimited wraps a Provider error kind the Router's retry policy
// recognizes as KindRateLimited, the same sentinel-mapping convention the
// adapter implementations below follow.
func rateLimited(op string, cause error) error {
	return model.Wrap(model.KindRateLimited, op, "provider rate limit exceeded", cause)
}

func transient(op string, cause error) error {
	return model.Wrap(model.KindTransient, op, "transient provider error", cause)
}

func authFailed(op, message string) error {
	return model.New(model.KindAuthFailed, op, message)
}
