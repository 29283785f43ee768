// ABOUTME: BoundClient: a client pre-configured with model id, system prompt, and sampling settings.
// ABOUTME: Exposes typed prompt methods: text, schema-checked JSON, and struct-typed output.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// BindOptions configure a BoundClient.
type BindOptions struct {
	Model           string
	System          string
	Temperature     *float64
	MaxTokens       *int
	ReasoningEffort string
	Provider        string
	CacheSalt       string
}

// BoundClient is a model client pre-configured with a model id, system
// prompt, and sampling settings, exposing typed prompt methods. Callers pass
// only the conversation; binding supplies the rest.
type BoundClient struct {
	client *Client
	opts   BindOptions
}

// Bind creates a BoundClient over this client.
func (c *Client) Bind(opts BindOptions) *BoundClient {
	return &BoundClient{client: c, opts: opts}
}

// buildRequest assembles the full request: bound system prompt first, then
// the caller's turns.
func (b *BoundClient) buildRequest(msgs []Message) Request {
	var all []Message
	if b.opts.System != "" {
		all = append(all, SystemMessage(b.opts.System))
	}
	all = append(all, msgs...)
	return Request{
		Model:           b.opts.Model,
		Messages:        all,
		Temperature:     b.opts.Temperature,
		MaxTokens:       b.opts.MaxTokens,
		ReasoningEffort: b.opts.ReasoningEffort,
		Provider:        b.opts.Provider,
		CacheSalt:       b.opts.CacheSalt,
	}
}

// PromptText sends the conversation and returns the reply text.
func (b *BoundClient) PromptText(ctx context.Context, msgs []Message) (string, error) {
	resp, err := b.client.Complete(ctx, b.buildRequest(msgs))
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// PromptJSON sends the conversation with a JSON-only instruction appended and
// parses the reply. schema is advisory context for the model; structural
// enforcement is the caller's concern.
func (b *BoundClient) PromptJSON(ctx context.Context, msgs []Message, schema json.RawMessage) (any, error) {
	withFormat := make([]Message, len(msgs), len(msgs)+1)
	copy(withFormat, msgs)
	instruction := "Reply with a single JSON value and nothing else."
	if len(schema) > 0 {
		instruction = fmt.Sprintf("Reply with a single JSON value matching this JSON schema, and nothing else:\n%s", schema)
	}
	withFormat = append(withFormat, UserMessage(instruction))

	text, err := b.PromptText(ctx, withFormat)
	if err != nil {
		return nil, err
	}
	var parsed any
	if err := json.Unmarshal([]byte(ExtractJSON(text)), &parsed); err != nil {
		return nil, &ClientError{Message: "reply is not valid JSON", Cause: err}
	}
	return parsed, nil
}

// PromptStruct derives a JSON schema from out's type, prompts for matching
// JSON, and unmarshals the reply into out.
func (b *BoundClient) PromptStruct(ctx context.Context, msgs []Message, out any) error {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(out)
	raw, err := json.Marshal(schema)
	if err != nil {
		return &ClientError{Message: "derive schema", Cause: err}
	}
	text, err := b.PromptText(ctx, append(append([]Message{}, msgs...), UserMessage(
		fmt.Sprintf("Reply with a single JSON object matching this JSON schema, and nothing else:\n%s", raw))))
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(ExtractJSON(text)), out); err != nil {
		return &ClientError{Message: "reply is not valid JSON for the requested type", Cause: err}
	}
	return nil
}

// ExtractJSON strips a markdown code fence from a reply when present, so
// fenced JSON parses cleanly.
func ExtractJSON(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
