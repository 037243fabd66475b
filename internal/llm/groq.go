package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultGroqBaseURL = "https://api.groq.com/openai/v1"

// GroqClient talks to a Groq (chat-completions compatible) endpoint over
// plain HTTP. It is the default provider; its SSE framing is parsed by hand
// because the relay's delta semantics depend on the exact line handling.
type GroqClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewGroqClient creates a new Groq client. baseURL may be empty.
func NewGroqClient(apiKey, baseURL string) (*GroqClient, error) {
	if apiKey == "" {
		return nil, errors.New("Groq API key is required")
	}
	if baseURL == "" {
		baseURL = defaultGroqBaseURL
	}
	return &GroqClient{
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{},
	}, nil
}

// Name returns the provider name.
func (c *GroqClient) Name() string {
	return "groq"
}

// Models returns available model identifiers.
func (c *GroqClient) Models() []string {
	ids := make([]string, len(GroqModels))
	for i, m := range GroqModels {
		ids[i] = m.ID
	}
	return ids
}

type groqChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type groqChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type groqChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *GroqClient) do(ctx context.Context, req *CompletionRequest, stream bool) (*http.Response, error) {
	body := groqChatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Stream:      stream,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if body.Temperature == 0 {
		body.Temperature = 0.7
	}
	if body.MaxTokens == 0 {
		body.MaxTokens = 4096
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Provider: c.Name(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &UpstreamError{
			Provider:   c.Name(),
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(bodyBytes)),
		}
	}

	return resp, nil
}

// Complete sends a single-shot completion request.
func (c *GroqClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	resp, err := c.do(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed groqChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &UpstreamError{Provider: c.Name(), Err: fmt.Errorf("malformed completion body: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return nil, &UpstreamError{Provider: c.Name(), Err: errors.New("completion response has no choices")}
	}

	model := parsed.Model
	if model == "" {
		model = req.Model
	}

	return &CompletionResponse{
		Content: parsed.Choices[0].Message.Content,
		Model:   model,
	}, nil
}

// Stream opens an incremental completion stream.
func (c *GroqClient) Stream(ctx context.Context, req *CompletionRequest) (DeltaStream, error) {
	resp, err := c.do(ctx, req, true)
	if err != nil {
		return nil, err
	}
	return &sseStream{
		provider: c.Name(),
		body:     resp.Body,
		reader:   bufio.NewReader(resp.Body),
	}, nil
}

// sseStream decodes `data: <json>` event lines into text deltas. Malformed
// lines and events without a usable delta are skipped; the stream ends on a
// literal `data: [DONE]` or on socket close.
type sseStream struct {
	provider string
	body     io.ReadCloser
	reader   *bufio.Reader
	yielded  int
	done     bool
}

func (s *sseStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.done = true
			if errors.Is(err, io.EOF) {
				// Socket close without [DONE] is a normal end.
				return "", io.EOF
			}
			if s.yielded > 0 {
				// Partial text is kept, not discarded.
				return "", io.EOF
			}
			return "", &UpstreamError{Provider: s.provider, Err: err}
		}

		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))
		if data == "[DONE]" {
			s.done = true
			return "", io.EOF
		}

		var chunk groqChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Provider framing is not assumed pristine.
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			// Role-only or empty delta.
			continue
		}

		s.yielded++
		return delta, nil
	}
}

func (s *sseStream) Close() error {
	s.done = true
	return s.body.Close()
}
