package model

import (
	"time"
)

// DeltaEvent is one incremental text fragment on the outbound stream,
// framed as `data: {"content":"..."}`.
type DeltaEvent struct {
	Content string `json:"content"`
}

// FinalEvent is the last data event of a successful stream, carrying the
// persisted assistant message id and the full accumulated text.
type FinalEvent struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

// StreamErrorEvent is emitted in-band before the stream closes on failure,
// so the client can tell "upstream failed" apart from "network dropped".
type StreamErrorEvent struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ExchangeEventType classifies exchange lifecycle audit events.
type ExchangeEventType string

const (
	ExchangeCompleted ExchangeEventType = "completed"
	ExchangeFailed    ExchangeEventType = "failed"
	ExchangeCanceled  ExchangeEventType = "canceled"
)

// ExchangeEvent records the outcome of one exchange. Published to the audit
// stream when NATS is configured.
type ExchangeEvent struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	UserID         string            `json:"user_id"`
	Type           ExchangeEventType `json:"type"`
	Reason         string            `json:"reason,omitempty"`
	Model          string            `json:"model,omitempty"`
	Deltas         int               `json:"deltas"`
	Chars          int               `json:"chars"`
	CreatedAt      time.Time         `json:"created_at"`
}
