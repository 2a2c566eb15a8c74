package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

func init() {
	RegisterFactory("bedrock", func(config map[string]any) (Provider, error) {
		region := ""
		if r, ok := config["region"].(string); ok {
			region = r
		}
		if region == "" {
			region = os.Getenv("AWS_REGION")
		}
		if region == "" {
			region = "us-east-1"
		}

		return NewBedrockProvider(region)
	})
}

// BedrockProvider implements Provider for AWS Bedrock using the Converse API.
// Credentials come from the default AWS chain.
type BedrockProvider struct {
	runtime *bedrockruntime.Client
	control *bedrock.Client
	region  string
}

// NewBedrockProvider creates a new Bedrock provider for the given region.
func NewBedrockProvider(region string) (*BedrockProvider, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &BedrockProvider{
		runtime: bedrockruntime.NewFromConfig(cfg),
		control: bedrock.NewFromConfig(cfg),
		region:  region,
	}, nil
}

// Name returns the provider name
func (p *BedrockProvider) Name() string {
	return "bedrock"
}

// CreateCompletion performs one Converse call.
func (p *BedrockProvider) CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if req.Model == "" {
		return nil, NewProviderError("bedrock", ErrorCodeInvalidRequest, "model id is required", nil)
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(req.Model),
	}

	for _, m := range req.Messages {
		if m.Role == "system" {
			input.System = append(input.System, &brtypes.SystemContentBlockMemberText{Value: m.Content})
			continue
		}

		role := brtypes.ConversationRoleUser
		if m.Role == "assistant" {
			role = brtypes.ConversationRoleAssistant
		}
		input.Messages = append(input.Messages, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
		})
	}

	inferenceCfg := &brtypes.InferenceConfiguration{}
	if req.Temperature != 0 {
		inferenceCfg.Temperature = aws.Float32(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		inferenceCfg.MaxTokens = aws.Int32(int32(req.MaxTokens))
	}
	input.InferenceConfig = inferenceCfg

	// Converse has no JSON response-format hint; the system prompt already
	// demands JSON-only output and the parser treats the text as untrusted.

	out, err := p.runtime.Converse(ctx, input)
	if err != nil {
		return nil, p.wrapError(err)
	}

	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return nil, NewProviderError("bedrock", ErrorCodeUnknown, "no message in response", nil)
	}

	var content string
	for _, block := range msg.Value.Content {
		if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
			content += text.Value
		}
	}

	finishReason := strings.ToLower(string(out.StopReason))
	if finishReason == "end_turn" {
		finishReason = "stop"
	}

	var usage Usage
	if out.Usage != nil {
		usage.PromptTokens = int(aws.ToInt32(out.Usage.InputTokens))
		usage.CompletionTokens = int(aws.ToInt32(out.Usage.OutputTokens))
		usage.TotalTokens = int(aws.ToInt32(out.Usage.TotalTokens))
	}

	return &CompletionResponse{
		Content:      content,
		FinishReason: finishReason,
		Usage:        usage,
	}, nil
}

// ListModels returns the foundation model ids available in the region.
// Used to seed the candidate list for probing.
func (p *BedrockProvider) ListModels(ctx context.Context) ([]string, error) {
	out, err := p.control.ListFoundationModels(ctx, &bedrock.ListFoundationModelsInput{})
	if err != nil {
		return nil, p.wrapError(err)
	}

	ids := make([]string, 0, len(out.ModelSummaries))
	for _, summary := range out.ModelSummaries {
		ids = append(ids, aws.ToString(summary.ModelId))
	}
	return ids, nil
}

// wrapError converts AWS SDK errors to ProviderError.
func (p *BedrockProvider) wrapError(err error) error {
	code := ErrorCodeUnknown

	var throttle *brtypes.ThrottlingException
	var denied *brtypes.AccessDeniedException
	var notFound *brtypes.ResourceNotFoundException
	var invalid *brtypes.ValidationException
	var unavailable *brtypes.ServiceUnavailableException
	var modelTimeout *brtypes.ModelTimeoutException

	switch {
	case errors.As(err, &throttle):
		code = ErrorCodeRateLimit
	case errors.As(err, &denied):
		code = ErrorCodeAuthentication
	case errors.As(err, &notFound):
		code = ErrorCodeModelNotFound
	case errors.As(err, &invalid):
		code = ErrorCodeInvalidRequest
	case errors.As(err, &unavailable):
		code = ErrorCodeServerError
	case errors.As(err, &modelTimeout):
		code = ErrorCodeTimeout
	default:
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "throttl") || strings.Contains(msg, "too many requests"):
			code = ErrorCodeRateLimit
		case strings.Contains(msg, "quota"):
			code = ErrorCodeQuotaExceeded
		case strings.Contains(msg, "access denied") || strings.Contains(msg, "credential"):
			code = ErrorCodeAuthentication
		case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline") || strings.Contains(msg, "no such host") || strings.Contains(msg, "connection"):
			code = ErrorCodeTimeout
		}
	}

	return &ProviderError{
		Provider:      "bedrock",
		Code:          code,
		Message:       err.Error(),
		IsRetryable:   isRetryableError(code),
		OriginalError: err,
	}
}
