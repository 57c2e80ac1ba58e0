package types

// MessageRole identifies the author of a chat message sent to an LLM.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"    // RoleSystem carries instructions for the model.
	RoleUser      MessageRole = "user"      // RoleUser carries the prompt for the current decision.
	RoleAssistant MessageRole = "assistant" // RoleAssistant carries model output.
)

// Message is a single chat message exchanged with an LLM provider.
type Message struct {
	// Metadata holds optional additional information about the message.
	Metadata map[string]interface{}

	Role    MessageRole
	Content string
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) *Message {
	return &Message{Role: RoleSystem, Content: content, Metadata: make(map[string]interface{})}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) *Message {
	return &Message{Role: RoleUser, Content: content, Metadata: make(map[string]interface{})}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) *Message {
	return &Message{Role: RoleAssistant, Content: content, Metadata: make(map[string]interface{})}
}
