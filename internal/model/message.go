package model

import (
	"time"
)

// Role represents the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn in a conversation. Rows are append-only; content is
// immutable once persisted. Creation order defines transcript order, with
// ties broken by id.
type Message struct {
	ID             string    `json:"id" gorm:"primaryKey;size:36"`
	ConversationID string    `json:"conversationId" gorm:"size:36;index:idx_messages_conversation"`
	UserID         string    `json:"userId" gorm:"size:36"`
	CompanionID    string    `json:"companionId" gorm:"size:36"`
	Content        string    `json:"content" gorm:"type:text"`
	IsFromUser     bool      `json:"isFromUser"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Role maps the author flag to a chat role.
func (m *Message) Role() Role {
	if m.IsFromUser {
		return RoleUser
	}
	return RoleAssistant
}

// MessageResponse is the wire shape the client consumes.
type MessageResponse struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	Role           Role      `json:"role"`
	Timestamp      time.Time `json:"timestamp"`
	ConversationID string    `json:"conversationId"`
}

// ToResponse converts a persisted message to the client wire shape.
func (m *Message) ToResponse() MessageResponse {
	return MessageResponse{
		ID:             m.ID,
		Content:        m.Content,
		Role:           m.Role(),
		Timestamp:      m.CreatedAt,
		ConversationID: m.ConversationID,
	}
}

// SendMessageRequest is the inbound relay request body, shared by the
// streaming and non-streaming endpoints.
type SendMessageRequest struct {
	Content        string `json:"content"`
	ConversationID string `json:"conversationId"`
	CompanionID    string `json:"companionId"`
	Model          string `json:"model,omitempty"`
}
