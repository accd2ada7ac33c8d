package llm

import (
	"context"
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/antigravity-dev/chakravarti/internal/model"
)

// MessagesClient captures the subset of the Anthropic SDK client the adapter
// needs, so tests can substitute a fake in place of *sdk.MessageService.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicProvider implements Provider on top of Claude's Messages API.
type AnthropicProvider struct {
	msg    MessagesClient
	models []ModelInfo
}

// NewAnthropicProvider builds a Provider from a MessagesClient and the
// catalog of Claude models it is allowed to route to.
func NewAnthropicProvider(msg MessagesClient, models []ModelInfo) (*AnthropicProvider, error) {
	if msg == nil {
		return nil, errors.New("llm: anthropic messages client is required")
	}
	if len(models) == 0 {
		return nil, errors.New("llm: anthropic provider needs at least one model in its catalog")
	}
	return &AnthropicProvider{msg: msg, models: models}, nil
}

// NewAnthropicProviderFromAPIKey constructs a provider using the default
// Anthropic HTTP client, reading apiKey from the caller (sourced from
// ANTHROPIC_API_KEY by the config loader).
func NewAnthropicProviderFromAPIKey(apiKey string, models []ModelInfo) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, authFailed("llm.anthropic", "ANTHROPIC_API_KEY is not set")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicProvider(&client.Messages, models)
}

func (p *AnthropicProvider) Name() string          { return "anthropic" }
func (p *AnthropicProvider) Models() []ModelInfo    { return p.models }

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Model:     sdk.Model(req.ModelID),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	msg, err := p.msg.New(ctx, params)
	if err != nil {
		if isRateLimited(err) {
			return Response{}, rateLimited("llm.anthropic.Complete", err)
		}
		return Response{}, transient("llm.anthropic.Complete", err)
	}

	return translateAnthropicResponse(msg), nil
}

func translateAnthropicResponse(msg *sdk.Message) Response {
	var content string
	for _, block := range msg.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return Response{
		Content: content,
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
		FinishReason: string(msg.StopReason),
	}
}

// isRateLimited reports whether err indicates the Anthropic API rejected the
// request for exceeding a rate limit (HTTP 429).
func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

var _ Provider = (*AnthropicProvider)(nil)

// anthropicErrKind maps a *Error taxonomy kind back for callers that need to
// distinguish auth failures (401/403) from generic transient errors.
func anthropicErrKind(err error) model.Kind {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return model.KindAuthFailed
		case 429:
			return model.KindRateLimited
		}
	}
	return model.KindTransient
}
