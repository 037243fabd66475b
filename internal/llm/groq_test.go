package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func sseHandler(lines ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n", line)
		}
	}
}

func collect(t *testing.T, stream DeltaStream) []string {
	t.Helper()
	var deltas []string
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return deltas
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		deltas = append(deltas, delta)
	}
}

func TestGroqStream(t *testing.T) {
	t.Run("deltas then done", func(t *testing.T) {
		srv := httptest.NewServer(sseHandler(
			`data: {"choices":[{"delta":{"content":"H"}}]}`,
			``,
			`data: {"choices":[{"delta":{"content":"i"}}]}`,
			``,
			`data: {"choices":[{"delta":{"content":"!"}}]}`,
			``,
			`data: [DONE]`,
		))
		defer srv.Close()

		c, err := NewGroqClient("test-key", srv.URL)
		if err != nil {
			t.Fatalf("client: %v", err)
		}
		stream, err := c.Stream(context.Background(), &CompletionRequest{Model: "m", Messages: []ChatMessage{{Role: "user", Content: "hi"}}})
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
		defer stream.Close()

		deltas := collect(t, stream)
		if len(deltas) != 3 {
			t.Fatalf("deltas = %v, want 3", deltas)
		}
		if got := deltas[0] + deltas[1] + deltas[2]; got != "Hi!" {
			t.Errorf("concatenated = %q, want %q", got, "Hi!")
		}
	})

	t.Run("malformed and empty events skipped", func(t *testing.T) {
		srv := httptest.NewServer(sseHandler(
			`data: not json at all`,
			`data: {"choices":[{"delta":{"role":"assistant"}}]}`,
			`: comment line`,
			`data: {"choices":[{"delta":{"content":"ok"}}]}`,
			`data: [DONE]`,
		))
		defer srv.Close()

		c, _ := NewGroqClient("test-key", srv.URL)
		stream, err := c.Stream(context.Background(), &CompletionRequest{Model: "m"})
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
		defer stream.Close()

		deltas := collect(t, stream)
		if len(deltas) != 1 || deltas[0] != "ok" {
			t.Errorf("deltas = %v, want [ok]", deltas)
		}
	})

	t.Run("socket close without done is a clean end", func(t *testing.T) {
		srv := httptest.NewServer(sseHandler(
			`data: {"choices":[{"delta":{"content":"partial"}}]}`,
		))
		defer srv.Close()

		c, _ := NewGroqClient("test-key", srv.URL)
		stream, err := c.Stream(context.Background(), &CompletionRequest{Model: "m"})
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
		defer stream.Close()

		deltas := collect(t, stream)
		if len(deltas) != 1 || deltas[0] != "partial" {
			t.Errorf("deltas = %v, want [partial]", deltas)
		}
	})

	t.Run("non-2xx surfaces upstream error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		c, _ := NewGroqClient("test-key", srv.URL)
		_, err := c.Stream(context.Background(), &CompletionRequest{Model: "m"})
		var ue *UpstreamError
		if !errors.As(err, &ue) {
			t.Fatalf("err = %v, want UpstreamError", err)
		}
		if ue.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("StatusCode = %d, want 503", ue.StatusCode)
		}
		if ue.Body != "overloaded" {
			t.Errorf("Body = %q, want %q", ue.Body, "overloaded")
		}
	})
}

func TestGroqComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		fmt.Fprint(w, `{"model":"m","choices":[{"message":{"content":"Hello there!"}}]}`)
	}))
	defer srv.Close()

	c, err := NewGroqClient("test-key", srv.URL)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	resp, err := c.Complete(context.Background(), &CompletionRequest{Model: "m", Messages: []ChatMessage{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Content != "Hello there!" {
		t.Errorf("Content = %q, want %q", resp.Content, "Hello there!")
	}
}

func TestSingleShot(t *testing.T) {
	stream := SingleShot("full text")
	delta, err := stream.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if delta != "full text" {
		t.Errorf("delta = %q, want %q", delta, "full text")
	}
	if _, err := stream.Recv(); !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestMissingAPIKey(t *testing.T) {
	if _, err := NewGroqClient("", ""); err == nil {
		t.Error("expected error for missing API key")
	}
}
