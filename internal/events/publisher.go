package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/emberchat/companion-api/internal/model"
	"github.com/emberchat/companion-api/pkg/logger"
)

const (
	// StreamName is the name of the exchange audit stream.
	StreamName = "CHAT_EXCHANGES"

	// SubjectPrefix is the prefix for all exchange subjects.
	SubjectPrefix = "chat"
)

// Publisher publishes exchange lifecycle events. A nil *Publisher is valid
// and drops everything, so callers never need to branch on configuration.
type Publisher struct {
	client *Client
	logger *logger.Logger
}

// NewPublisher creates a publisher over an established NATS connection.
func NewPublisher(client *Client, log *logger.Logger) *Publisher {
	return &Publisher{client: client, logger: log}
}

// EnsureStream ensures the audit stream exists.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	if p == nil {
		return nil
	}
	js := p.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Relay exchange lifecycle events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// ExchangeSubject returns the subject for an exchange event.
func ExchangeSubject(userID, conversationID string, eventType model.ExchangeEventType) string {
	return fmt.Sprintf("%s.%s.%s.%s", SubjectPrefix, userID, conversationID, eventType)
}

// PublishExchange publishes one exchange lifecycle event. Publish failures
// are logged, never surfaced; the audit stream is not on the exchange's
// critical path.
func (p *Publisher) PublishExchange(ctx context.Context, event *model.ExchangeEvent) {
	if p == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal exchange event", zap.Error(err))
		return
	}

	subject := ExchangeSubject(event.UserID, event.ConversationID, event.Type)
	if _, err := p.client.JetStream().Publish(ctx, subject, data); err != nil {
		p.logger.Error("failed to publish exchange event",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}
