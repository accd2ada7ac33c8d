package llm

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ChatClient captures the subset of the OpenAI SDK client the adapter needs,
// mirroring AnthropicProvider's MessagesClient seam for fakeability in tests.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIProvider implements Provider on top of the Chat Completions API.
type OpenAIProvider struct {
	chat   ChatClient
	models []ModelInfo
}

// NewOpenAIProvider builds a Provider from a ChatClient and its model catalog.
func NewOpenAIProvider(chat ChatClient, models []ModelInfo) (*OpenAIProvider, error) {
	if chat == nil {
		return nil, errors.New("llm: openai chat client is required")
	}
	if len(models) == 0 {
		return nil, errors.New("llm: openai provider needs at least one model in its catalog")
	}
	return &OpenAIProvider{chat: chat, models: models}, nil
}

// NewOpenAIProviderFromAPIKey constructs a provider using the default OpenAI
// HTTP client, reading apiKey from the caller (sourced from OPENAI_API_KEY by
// the config loader).
func NewOpenAIProviderFromAPIKey(apiKey string, models []ModelInfo) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, authFailed("llm.openai", "OPENAI_API_KEY is not set")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return NewOpenAIProvider(client.Chat.Completions, models)
}

func (p *OpenAIProvider) Name() string       { return "openai" }
func (p *OpenAIProvider) Models() []ModelInfo { return p.models }

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (Response, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    req.ModelID,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	resp, err := p.chat.New(ctx, params)
	if err != nil {
		if isOpenAIRateLimited(err) {
			return Response{}, rateLimited("llm.openai.Complete", err)
		}
		return Response{}, transient("llm.openai.Complete", err)
	}

	return translateOpenAIResponse(resp), nil
}

func translateOpenAIResponse(resp *openai.ChatCompletion) Response {
	var content, finishReason string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		finishReason = string(resp.Choices[0].FinishReason)
	}

	return Response{
		Content: content,
		Usage: Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
		FinishReason: finishReason,
	}
}

func isOpenAIRateLimited(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

var _ Provider = (*OpenAIProvider)(nil)
