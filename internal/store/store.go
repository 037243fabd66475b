// Package store provides durable persistence for conversations, companions
// and the append-only message transcript.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/emberchat/companion-api/internal/model"
)

// ErrNotFound is returned when a row does not exist or does not belong to
// the requesting user.
var ErrNotFound = errors.New("not found")

// Store is the persistence boundary for the chat API. Implementations must
// return messages in creation order, ties broken by id.
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *model.Conversation) error
	// GetConversation returns the conversation only if it belongs to userID.
	GetConversation(ctx context.Context, userID, conversationID string) (*model.Conversation, error)
	// GetConversationForCompanion additionally requires the conversation to
	// reference companionID.
	GetConversationForCompanion(ctx context.Context, userID, conversationID, companionID string) (*model.Conversation, error)
	// ListConversations returns the user's conversations, most recent first.
	ListConversations(ctx context.Context, userID string) ([]model.Conversation, error)
	DeleteConversation(ctx context.Context, userID, conversationID string) error
	// TouchConversation advances the recency marker. UpdatedAt never moves
	// backwards.
	TouchConversation(ctx context.Context, conversationID string, at time.Time) error

	// Transcript
	AppendMessage(ctx context.Context, msg *model.Message) error
	// ListMessages returns the full transcript in creation order.
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	// RecentMessages returns the most recent limit messages, oldest first.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)

	// Companions
	PutCompanion(ctx context.Context, companion *model.Companion) error
	GetCompanion(ctx context.Context, companionID string) (*model.Companion, error)
	ListCompanions(ctx context.Context) ([]model.Companion, error)
}
