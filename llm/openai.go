// ABOUTME: OpenAI Chat Completions provider adapter built on the official openai-go SDK.
// ABOUTME: Supports custom base URLs for OpenAI-compatible providers (OpenRouter, Cerebras, gateways).
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIAdapter implements ProviderAdapter over /v1/chat/completions.
type OpenAIAdapter struct {
	client       openai.Client
	defaultModel string
}

// OpenAIOption is a functional option for configuring an OpenAIAdapter.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	baseURL      string
	defaultModel string
}

// WithOpenAIBaseURL points the adapter at an OpenAI-compatible endpoint.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) { c.baseURL = url }
}

// WithOpenAIDefaultModel sets the model used when a request names none.
func WithOpenAIDefaultModel(model string) OpenAIOption {
	return func(c *openAIConfig) { c.defaultModel = model }
}

// NewOpenAIAdapter creates an adapter with the given API key and options.
func NewOpenAIAdapter(apiKey string, opts ...OpenAIOption) *OpenAIAdapter {
	cfg := openAIConfig{defaultModel: "gpt-5.2"}
	for _, opt := range opts {
		opt(&cfg)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	return &OpenAIAdapter{
		client:       openai.NewClient(reqOpts...),
		defaultModel: cfg.defaultModel,
	}
}

// Name returns the provider name for this adapter.
func (a *OpenAIAdapter) Name() string { return "openai" }

// Close releases resources held by the adapter.
func (a *OpenAIAdapter) Close() error { return nil }

// Complete sends a synchronous chat completion request.
func (a *OpenAIAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	params := a.buildParams(req)

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, translateOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{
			ClientError: ClientError{Message: "empty choices in completion response"},
			Provider:    "openai",
		}
	}

	return &Response{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
		Usage: Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

// buildParams translates a unified Request into ChatCompletionNewParams.
func (a *OpenAIAdapter) buildParams(req Request) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = a.defaultModel
	}
	params := openai.ChatCompletionNewParams{Model: model}

	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens != nil {
		params.MaxCompletionTokens = openai.Int(int64(*req.MaxTokens))
	}
	if req.ReasoningEffort != "" {
		params.ReasoningEffort = shared.ReasoningEffort(req.ReasoningEffort)
	}

	var messages []openai.ChatCompletionMessageParamUnion
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}
	params.Messages = messages

	return params
}

// translateOpenAIError maps SDK errors onto the client error hierarchy so
// transport retry can classify them.
func translateOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return newProviderError("openai", apiErr.StatusCode, fmt.Sprintf("openai request failed: %s", apiErr.Message), err)
	}
	// Network-level failures are worth retrying.
	return &ProviderError{
		ClientError: ClientError{Message: "openai request failed", Cause: err},
		Provider:    "openai",
		Retryable:   true,
	}
}

// Compile-time interface assertion.
var _ ProviderAdapter = (*OpenAIAdapter)(nil)
