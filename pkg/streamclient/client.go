// Package streamclient consumes the relay's streaming endpoint: it opens the
// outbound request, decodes the SSE framing into typed events, and reduces
// them into an ordered display list.
package streamclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SendRequest is the body of a streaming chat request.
type SendRequest struct {
	Content        string `json:"content"`
	ConversationID string `json:"conversationId"`
	CompanionID    string `json:"companionId"`
	Model          string `json:"model,omitempty"`
}

// Delta is one incremental text fragment.
type Delta struct {
	Content string
}

// Final carries the persisted assistant message id and full text.
type Final struct {
	ID      string
	Content string
}

// StreamError is a failure the relay reported in-band.
type StreamError struct {
	Kind    string
	Message string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream error (%s): %s", e.Kind, e.Message)
}

// Client talks to the relay API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client for the given API base URL and bearer token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// Stream opens a streaming exchange. The returned stream must be closed.
func (c *Client) Stream(ctx context.Context, req *SendRequest) (*Stream, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/chat/messages/stream", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := resp.Status
		if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr); err == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return nil, &StreamError{Kind: "rejected", Message: msg}
	}

	return &Stream{
		body:   resp.Body,
		reader: bufio.NewReader(resp.Body),
	}, nil
}

// Stream decodes the relay's SSE framing.
type Stream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

// wireEvent is the union of every data payload the relay emits.
type wireEvent struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Done    bool   `json:"done"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Recv returns the next event: a Delta, a Final, or a *StreamError for an
// in-band failure. io.EOF marks the end of the stream.
func (s *Stream) Recv() (interface{}, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, io.EOF
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return nil, io.EOF
		}

		var ev wireEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			continue
		}

		switch {
		case ev.Error != "":
			return &StreamError{Kind: ev.Error, Message: ev.Message}, nil
		case ev.Done:
			return Final{ID: ev.ID, Content: ev.Content}, nil
		case ev.Content != "":
			return Delta{Content: ev.Content}, nil
		}
	}
}

// Close releases the underlying connection.
func (s *Stream) Close() error {
	return s.body.Close()
}
