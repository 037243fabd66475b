package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/emberchat/companion-api/internal/model"
)

// Memory is an in-memory Store used in tests and development mode.
type Memory struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	companions    map[string]*model.Companion
	messages      map[string][]memoryMessage // keyed by conversation id
	seq           uint64
}

// memoryMessage carries an insertion sequence to break created-at ties.
type memoryMessage struct {
	model.Message
	seq uint64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string]*model.Conversation),
		companions:    make(map[string]*model.Companion),
		messages:      make(map[string][]memoryMessage),
	}
}

// CreateConversation inserts a new conversation.
func (s *Memory) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *conv
	s.conversations[c.ID] = &c
	return nil
}

// GetConversation returns a conversation owned by userID.
func (s *Memory) GetConversation(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok || conv.UserID != userID {
		return nil, ErrNotFound
	}
	c := *conv
	return &c, nil
}

// GetConversationForCompanion returns a conversation owned by userID that
// references companionID.
func (s *Memory) GetConversationForCompanion(ctx context.Context, userID, conversationID, companionID string) (*model.Conversation, error) {
	conv, err := s.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.CompanionID != companionID {
		return nil, ErrNotFound
	}
	return conv, nil
}

// ListConversations returns the user's conversations, most recently updated
// first.
func (s *Memory) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var convs []model.Conversation
	for _, conv := range s.conversations {
		if conv.UserID == userID {
			convs = append(convs, *conv)
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs, nil
}

// DeleteConversation removes a conversation and its transcript.
func (s *Memory) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok || conv.UserID != userID {
		return ErrNotFound
	}
	delete(s.conversations, conversationID)
	delete(s.messages, conversationID)
	return nil
}

// TouchConversation advances updated_at without ever moving it backwards.
func (s *Memory) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	if at.After(conv.UpdatedAt) {
		conv.UpdatedAt = at
	}
	return nil
}

// AppendMessage appends one transcript row.
func (s *Memory) AppendMessage(ctx context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], memoryMessage{
		Message: *msg,
		seq:     s.seq,
	})
	return nil
}

func (s *Memory) orderedMessages(conversationID string) []model.Message {
	rows := append([]memoryMessage(nil), s.messages[conversationID]...)
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].seq < rows[j].seq
		}
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})
	msgs := make([]model.Message, len(rows))
	for i, row := range rows {
		msgs[i] = row.Message
	}
	return msgs
}

// ListMessages returns the full transcript in creation order.
func (s *Memory) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orderedMessages(conversationID), nil
}

// RecentMessages returns the most recent limit messages, oldest first.
func (s *Memory) RecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.orderedMessages(conversationID)
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// PutCompanion inserts or updates a companion persona.
func (s *Memory) PutCompanion(ctx context.Context, companion *model.Companion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *companion
	s.companions[c.ID] = &c
	return nil
}

// GetCompanion returns a companion by id.
func (s *Memory) GetCompanion(ctx context.Context, companionID string) (*model.Companion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	companion, ok := s.companions[companionID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *companion
	return &c, nil
}

// ListCompanions returns all companion personas.
func (s *Memory) ListCompanions(ctx context.Context) ([]model.Companion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var companions []model.Companion
	for _, companion := range s.companions {
		companions = append(companions, *companion)
	}
	sort.Slice(companions, func(i, j int) bool {
		return companions[i].Name < companions[j].Name
	})
	return companions, nil
}
