// Package model defines data structures for the companion chat API.
package model

import (
	"time"
)

// Conversation represents a persistent chat thread between a user and a
// companion persona. UpdatedAt is the recency marker used for list ordering
// and is bumped once per completed exchange, never per delta.
type Conversation struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	UserID      string    `json:"userId" gorm:"size:36;index:idx_conversations_user"`
	CompanionID string    `json:"companionId" gorm:"size:36"`
	Title       string    `json:"title" gorm:"size:256"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CreateConversationRequest is the request to create a new conversation.
type CreateConversationRequest struct {
	CompanionID string `json:"companionId"`
	Title       string `json:"title,omitempty"`
}

// ConversationResponse is a conversation together with its messages in
// creation order.
type ConversationResponse struct {
	Conversation
	Messages []MessageResponse `json:"messages"`
}
