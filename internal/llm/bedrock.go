package llm

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client the
// adapter needs, satisfied by *bedrockruntime.Client so tests can substitute
// a fake.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockProvider implements Provider on top of Bedrock's Converse API,
// routing requests to Claude-on-Bedrock model IDs.
type BedrockProvider struct {
	runtime RuntimeClient
	models  []ModelInfo
}

// NewBedrockProvider builds a Provider from a RuntimeClient and its model catalog.
func NewBedrockProvider(runtime RuntimeClient, models []ModelInfo) (*BedrockProvider, error) {
	if runtime == nil {
		return nil, errors.New("llm: bedrock runtime client is required")
	}
	if len(models) == 0 {
		return nil, errors.New("llm: bedrock provider needs at least one model in its catalog")
	}
	return &BedrockProvider{runtime: runtime, models: models}, nil
}

func (p *BedrockProvider) Name() string        { return "bedrock" }
func (p *BedrockProvider) Models() []ModelInfo  { return p.models }

func (p *BedrockProvider) Complete(ctx context.Context, req Request) (Response, error) {
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(req.ModelID),
		Messages: []brtypes.Message{
			{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: req.Prompt}},
			},
		},
	}
	if req.System != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.System}}
	}
	if req.MaxTokens > 0 || req.Temperature > 0 {
		cfg := &brtypes.InferenceConfiguration{}
		if req.MaxTokens > 0 {
			mt := int32(req.MaxTokens)
			cfg.MaxTokens = &mt
		}
		if req.Temperature > 0 {
			t := float32(req.Temperature)
			cfg.Temperature = &t
		}
		input.InferenceConfig = cfg
	}

	out, err := p.runtime.Converse(ctx, input)
	if err != nil {
		if isBedrockRateLimited(err) {
			return Response{}, rateLimited("llm.bedrock.Complete", err)
		}
		return Response{}, transient("llm.bedrock.Complete", err)
	}

	return translateBedrockResponse(out), nil
}

func translateBedrockResponse(out *bedrockruntime.ConverseOutput) Response {
	var content string
	if msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
				content += tb.Value
			}
		}
	}

	resp := Response{Content: content, FinishReason: string(out.StopReason)}
	if out.Usage != nil {
		resp.Usage = Usage{
			InputTokens:  int(ptrValue(out.Usage.InputTokens)),
			OutputTokens: int(ptrValue(out.Usage.OutputTokens)),
		}
	}
	return resp
}

func ptrValue(v *int32) int32 {
	if v == nil {
		return 0
	}
	return *v
}

// isBedrockRateLimited reports whether err represents a provider rate
// limiting condition: either a ThrottlingException API error or a bare
// HTTP 429 response.
func isBedrockRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429 {
		return true
	}
	return false
}

var _ Provider = (*BedrockProvider)(nil)
