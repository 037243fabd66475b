// Package llm provides completion provider clients normalized onto a single
// delta stream interface.
package llm

import (
	"context"
	"fmt"
	"io"
)

// ChatMessage represents one role-tagged turn sent upstream.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// CompletionResponse represents a full, non-streamed completion.
type CompletionResponse struct {
	Content string
	Model   string
}

// DeltaStream is a lazy, finite, non-restartable sequence of text deltas.
// Recv returns io.EOF once the stream is exhausted; a provider failure after
// at least one delta has been yielded is also reported as io.EOF, so partial
// text is kept rather than discarded.
type DeltaStream interface {
	Recv() (string, error)
	Close() error
}

// Client is the interface for completion providers.
type Client interface {
	// Complete sends a single-shot completion request.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Stream opens an incremental completion stream.
	Stream(ctx context.Context, req *CompletionRequest) (DeltaStream, error)

	// Name returns the provider name.
	Name() string

	// Models returns available model identifiers.
	Models() []string
}

// UpstreamError reports a provider that was unreachable, answered with a
// non-2xx status, or failed before producing any delta.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s upstream error (status %d): %s", e.Provider, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s upstream error: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// singleShotStream yields exactly one delta equal to the full completion
// text, then the end marker.
type singleShotStream struct {
	content string
	sent    bool
}

// SingleShot wraps a full completion as a one-delta stream, so the relay is
// written once against DeltaStream regardless of the provider response shape.
func SingleShot(content string) DeltaStream {
	return &singleShotStream{content: content}
}

func (s *singleShotStream) Recv() (string, error) {
	if s.sent {
		return "", io.EOF
	}
	s.sent = true
	return s.content, nil
}

func (s *singleShotStream) Close() error {
	return nil
}
