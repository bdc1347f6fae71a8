// Package types holds the data shared between the cadforge pipeline stages.
package types

// MessageRole identifies the author of a chat message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"    // RoleSystem is a system instruction.
	RoleUser      MessageRole = "user"      // RoleUser is a user message.
	RoleAssistant MessageRole = "assistant" // RoleAssistant is a model response.
)

// Message is one chat message exchanged with a language model provider.
type Message struct {
	Role    MessageRole
	Content string
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) *Message {
	return &Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) *Message {
	return &Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) *Message {
	return &Message{Role: RoleAssistant, Content: content}
}

// ModelInfo describes the model behind a provider.
type ModelInfo struct {
	Metadata          map[string]interface{}
	Provider          string
	Name              string
	MaxTokens         int
	SupportsStreaming bool
}

// Turn is one exchange kept by a stateful generation session.
type Turn struct {
	Instruction string `json:"instruction"`
	Response    string `json:"response"`
}
