package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/commubrain/core/internal/vecmath"
)

// OpenAIEmbedder calls the OpenAI embeddings endpoint.
//
// Grounded on pkg/memory/embedding/openai.go's embedBatch/embedQuery
// closures, generalized into a struct-typed Embedder implementation.
type OpenAIEmbedder struct {
	client    openai.Client
	model     string
	dimension int
	timeout   time.Duration
}

// NewOpenAIEmbedder constructs an OpenAIEmbedder. apiKey must be non-empty.
// timeout bounds every EmbedQuery/EmbedBatch call (§5); a non-positive
// timeout disables the bound.
func NewOpenAIEmbedder(apiKey, baseURL, model string, dimension int, timeout time.Duration) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai embeddings require an api key")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIEmbedder{
		client:    openai.NewClient(opts...),
		model:     model,
		dimension: dimension,
		timeout:   timeout,
	}, nil
}

func (o *OpenAIEmbedder) ID() string     { return "openai" }
func (o *OpenAIEmbedder) Model() string  { return o.model }
func (o *OpenAIEmbedder) Dimension() int { return o.dimension }

func (o *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	results, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

func (o *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(o.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	callCtx, cancel := externalCallTimeout(ctx, o.timeout)
	defer cancel()
	resp, err := o.client.Embeddings.New(callCtx, params)
	if err != nil {
		return nil, classifyExternalErr(callCtx, err, "openai embeddings call")
	}
	out := make([][]float32, 0, len(resp.Data))
	for _, entry := range resp.Data {
		vec := make([]float32, len(entry.Embedding))
		for i, v := range entry.Embedding {
			vec[i] = float32(v)
		}
		out = append(out, vecmath.Normalize(vec))
	}
	return out, nil
}

// OpenAIGenerator calls the OpenAI chat completions endpoint.
//
// Grounded on pkg/connector/provider_openai.go's generateChatCompletions.
type OpenAIGenerator struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIGenerator constructs an OpenAIGenerator. apiKey must be
// non-empty. timeout bounds every Generate call (§5); a non-positive
// timeout disables the bound.
func NewOpenAIGenerator(apiKey, baseURL, model string, timeout time.Duration) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai generation requires an api key")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIGenerator{client: openai.NewClient(opts...), model: model, timeout: timeout}, nil
}

func (o *OpenAIGenerator) Model() string { return o.model }

func (o *OpenAIGenerator) Generate(ctx context.Context, params GenerateParams) (*GenerateResult, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(params.Messages))
	for _, m := range params.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	req := openai.ChatCompletionNewParams{
		Model:    o.model,
		Messages: messages,
	}
	if params.MaxTokens > 0 {
		req.MaxCompletionTokens = openai.Int(int64(params.MaxTokens))
	}
	if params.Temperature > 0 {
		req.Temperature = openai.Float(params.Temperature)
	}

	callCtx, cancel := externalCallTimeout(ctx, o.timeout)
	defer cancel()
	resp, err := o.client.Chat.Completions.New(callCtx, req)
	if err != nil {
		return nil, classifyExternalErr(callCtx, err, "openai chat completion")
	}

	var content string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}
	return &GenerateResult{
		Text: content,
		Usage: Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}, nil
}

var (
	_ Embedder  = (*OpenAIEmbedder)(nil)
	_ Generator = (*OpenAIGenerator)(nil)
)
