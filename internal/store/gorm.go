package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/emberchat/companion-api/internal/model"
)

// GormStore is the database-backed Store. It supports MySQL and SQLite; the
// pure-Go SQLite driver keeps the binary cgo-free.
type GormStore struct {
	db *gorm.DB
}

// OpenGorm opens a database connection and migrates the schema.
func OpenGorm(driver, dsn string) (*GormStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&model.Companion{}, &model.Conversation{}, &model.Message{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &GormStore{db: db}, nil
}

// CreateConversation inserts a new conversation row.
func (s *GormStore) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	return s.db.WithContext(ctx).Create(conv).Error
}

// GetConversation returns a conversation owned by userID.
func (s *GormStore) GetConversation(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", conversationID, userID).
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetConversationForCompanion returns a conversation owned by userID that
// references companionID.
func (s *GormStore) GetConversationForCompanion(ctx context.Context, userID, conversationID, companionID string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND companion_id = ?", conversationID, userID, companionID).
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversations returns the user's conversations, most recently updated
// first.
func (s *GormStore) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	var convs []model.Conversation
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&convs).Error
	return convs, err
}

// DeleteConversation removes a conversation and its transcript.
func (s *GormStore) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ? AND user_id = ?", conversationID, userID).Delete(&model.Conversation{}).Error
	})
}

// TouchConversation bumps updated_at. The guard keeps the marker
// monotonically non-decreasing under concurrent exchanges.
func (s *GormStore) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ? AND updated_at < ?", conversationID, at).
		UpdateColumn("updated_at", at).Error
}

// AppendMessage inserts one transcript row.
func (s *GormStore) AppendMessage(ctx context.Context, msg *model.Message) error {
	return s.db.WithContext(ctx).Create(msg).Error
}

// ListMessages returns the full transcript in creation order.
func (s *GormStore) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var msgs []model.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error
	return msgs, err
}

// RecentMessages returns the most recent limit messages, oldest first.
func (s *GormStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	var msgs []model.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	// Reverse into creation order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// PutCompanion inserts or updates a companion persona.
func (s *GormStore) PutCompanion(ctx context.Context, companion *model.Companion) error {
	return s.db.WithContext(ctx).Save(companion).Error
}

// GetCompanion returns a companion by id.
func (s *GormStore) GetCompanion(ctx context.Context, companionID string) (*model.Companion, error) {
	var companion model.Companion
	err := s.db.WithContext(ctx).Where("id = ?", companionID).First(&companion).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &companion, nil
}

// ListCompanions returns all companion personas.
func (s *GormStore) ListCompanions(ctx context.Context) ([]model.Companion, error) {
	var companions []model.Companion
	err := s.db.WithContext(ctx).Order("name ASC").Find(&companions).Error
	return companions, err
}
