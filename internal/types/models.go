// internal/types/models.go
package types

import (
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one immutable turn of a conversation.
type Message struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage stamps a message with the current time.
func NewMessage(role Role, text string) Message {
	return Message{Role: role, Text: text, CreatedAt: time.Now()}
}

// InboundEvent is a message received from a chat transport.
type InboundEvent struct {
	Source    string `json:"source"`
	UserID    UserID `json:"user_id"`
	ChatID    int64  `json:"chat_id,omitempty"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Text      string `json:"text"`
}

// SessionStats summarises the in-memory session table.
type SessionStats struct {
	Sessions int `json:"sessions"`
	Messages int `json:"messages"`
}
