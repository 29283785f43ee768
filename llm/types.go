// ABOUTME: Core data model for the model client: roles, messages, requests, responses, usage.
// ABOUTME: Messages are plain text turns; the batch engine needs no multimodal content parts.
package llm

// Role identifies who produced a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SystemMessage creates a system-role message.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

// UserMessage creates a user-role message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantMessage creates an assistant-role message.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

// Request is a provider-agnostic completion request.
type Request struct {
	Model           string
	Messages        []Message
	Temperature     *float64
	MaxTokens       *int
	ReasoningEffort string
	Provider        string
	// CacheSalt namespaces memoization; two identical requests with
	// different salts must not share a cache entry.
	CacheSalt string
}

// Usage reports token consumption for one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Add returns the element-wise sum of two usage records.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

// Response is a provider-agnostic completion result.
type Response struct {
	Text  string
	Model string
	Usage Usage
}
