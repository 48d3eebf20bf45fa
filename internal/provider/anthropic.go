package provider

import (
	"fmt"
	"time"

	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicGenerator calls Claude's Messages API.
//
// Grounded on pkg/connector/provider_anthropic.go's AnthropicProvider.Generate
// and pkg/connector/messages.go's ToAnthropicMessages.
type AnthropicGenerator struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
}

// NewAnthropicGenerator constructs an AnthropicGenerator. apiKey must be
// non-empty. timeout bounds every Generate call (§5); a non-positive
// timeout disables the bound.
func NewAnthropicGenerator(apiKey, baseURL, model string, timeout time.Duration) (*AnthropicGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic generation requires an api key")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicGenerator{client: anthropic.NewClient(opts...), model: model, timeout: timeout}, nil
}

func (a *AnthropicGenerator) Model() string { return a.model }

func (a *AnthropicGenerator) Generate(ctx context.Context, params GenerateParams) (*GenerateResult, error) {
	var system []anthropic.TextBlockParam
	var messages []anthropic.MessageParam
	for _, m := range params.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if len(system) > 0 {
		req.System = system
	}
	if params.Temperature > 0 {
		req.Temperature = anthropic.Float(params.Temperature)
	}

	callCtx, cancel := externalCallTimeout(ctx, a.timeout)
	defer cancel()
	resp, err := a.client.Messages.New(callCtx, req)
	if err != nil {
		return nil, classifyExternalErr(callCtx, err, "anthropic message generation")
	}

	var text string
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += tb.Text
		}
	}

	return &GenerateResult{
		Text: text,
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
			TotalTokens:  int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}

var _ Generator = (*AnthropicGenerator)(nil)
