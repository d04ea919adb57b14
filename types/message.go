// Package types provides core types shared across the gateway.
// This package has ZERO dependencies on other chatrelay packages to avoid circular imports.
package types

// Role represents the role of a message participant.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation entry. Immutable once appended to a history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// CloneHistory returns an independent copy of h. A nil input yields an empty, non-nil slice.
func CloneHistory(h []Message) []Message {
	out := make([]Message, len(h))
	copy(out, h)
	return out
}
