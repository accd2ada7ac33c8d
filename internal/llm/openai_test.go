package llm

import (
	"context"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/chakravarti/internal/model"
)

type fakeChatClient struct {
	resp *openai.ChatCompletion
	err  error
}

func (f *fakeChatClient) New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	return f.resp, f.err
}

func TestNewOpenAIProviderRequiresClient(t *testing.T) {
	_, err := NewOpenAIProvider(nil, []ModelInfo{{ID: "gpt-4o"}})
	require.Error(t, err)
}

func TestNewOpenAIProviderRequiresModels(t *testing.T) {
	_, err := NewOpenAIProvider(&fakeChatClient{}, nil)
	require.Error(t, err)
}

func TestNewOpenAIProviderFromAPIKeyRequiresKey(t *testing.T) {
	_, err := NewOpenAIProviderFromAPIKey("", []ModelInfo{{ID: "gpt-4o"}})
	require.Error(t, err)
	require.True(t, model.IsKind(err, model.KindAuthFailed))
}
