package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emberchat/companion-api/internal/llm"
	"github.com/emberchat/companion-api/internal/model"
	"github.com/emberchat/companion-api/internal/prompt"
	"github.com/emberchat/companion-api/internal/store"
	"github.com/emberchat/companion-api/pkg/logger"
)

// fakeStream yields scripted deltas, then ends with endErr (io.EOF for a
// clean end).
type fakeStream struct {
	deltas []string
	endErr error
	delay  time.Duration
	pos    int
}

func (s *fakeStream) Recv() (string, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.pos >= len(s.deltas) {
		if s.endErr != nil {
			return "", s.endErr
		}
		return "", io.EOF
	}
	delta := s.deltas[s.pos]
	s.pos++
	return delta, nil
}

func (s *fakeStream) Close() error { return nil }

// fakeClient scripts one provider. calls counts upstream requests.
type fakeClient struct {
	mu        sync.Mutex
	calls     int
	streamFn   func(ctx context.Context) (llm.DeltaStream, error)
	completeFn func() (*llm.CompletionResponse, error)
}

func (c *fakeClient) Name() string     { return "fake" }
func (c *fakeClient) Models() []string { return []string{"fake-model"} }

func (c *fakeClient) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.completeFn != nil {
		return c.completeFn()
	}
	return &llm.CompletionResponse{Content: "Hello there!", Model: req.Model}, nil
}

func (c *fakeClient) Stream(ctx context.Context, req *llm.CompletionRequest) (llm.DeltaStream, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.streamFn != nil {
		return c.streamFn(ctx)
	}
	return &fakeStream{deltas: []string{"Hello"}}, nil
}

func (c *fakeClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// recordingSink collects forwarded events. failAfter > 0 makes Delta fail
// once that many deltas have been forwarded, simulating a client disconnect.
type recordingSink struct {
	deltas    []string
	final     *model.Message
	failKind  Kind
	failMsg   string
	failAfter int
}

func (s *recordingSink) Delta(text string) error {
	if s.failAfter > 0 && len(s.deltas) >= s.failAfter {
		return errors.New("client gone")
	}
	s.deltas = append(s.deltas, text)
	return nil
}

func (s *recordingSink) Final(msg *model.Message) error {
	s.final = msg
	return nil
}

func (s *recordingSink) Fail(kind Kind, message string) error {
	s.failKind = kind
	s.failMsg = message
	return nil
}

// failingStore wraps a Store, failing AppendMessage after allowWrites
// successful writes.
type failingStore struct {
	store.Store
	mu          sync.Mutex
	allowWrites int
}

func (s *failingStore) AppendMessage(ctx context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.allowWrites <= 0 {
		return errors.New("disk full")
	}
	s.allowWrites--
	return s.Store.AppendMessage(ctx, msg)
}

func testFixture(t *testing.T, client llm.Client) (*Relay, store.Store) {
	t.Helper()
	log, err := logger.New("error")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	st := store.NewMemory()
	ctx := context.Background()
	if err := st.PutCompanion(ctx, &model.Companion{ID: "luna", Name: "Luna", Persona: "persona"}); err != nil {
		t.Fatalf("seed companion: %v", err)
	}
	now := time.Now()
	conv := &model.Conversation{
		ID: "c1", UserID: "alice", CompanionID: "luna",
		Title: "test", CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Hour),
	}
	if err := st.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("seed conversation: %v", err)
	}

	return New(st, prompt.NewAssembler(20, 6000), client, nil, log, "", time.Minute), st
}

func sendReq(content string) *model.SendMessageRequest {
	return &model.SendMessageRequest{
		Content:        content,
		ConversationID: "c1",
		CompanionID:    "luna",
	}
}

var alice = Identity{UserID: "alice", Tier: "free"}

func transcript(t *testing.T, st store.Store) []model.Message {
	t.Helper()
	msgs, err := st.ListMessages(context.Background(), "c1")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	return msgs
}

func TestExchangeSingleShot(t *testing.T) {
	client := &fakeClient{}
	r, st := testFixture(t, client)

	result, err := r.Exchange(context.Background(), alice, sendReq("hi"), false, NopSink{})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	msgs := transcript(t, st)
	if len(msgs) != 2 {
		t.Fatalf("transcript len = %d, want 2", len(msgs))
	}
	if !msgs[0].IsFromUser || msgs[0].Content != "hi" {
		t.Errorf("msgs[0] = %+v, want user hi", msgs[0])
	}
	if msgs[1].IsFromUser || msgs[1].Content != "Hello there!" {
		t.Errorf("msgs[1] = %+v, want assistant Hello there!", msgs[1])
	}
	if result.AssistantMessage.Content != "Hello there!" {
		t.Errorf("AssistantMessage.Content = %q", result.AssistantMessage.Content)
	}

	conv, err := st.GetConversation(context.Background(), "alice", "c1")
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if !conv.UpdatedAt.Equal(msgs[1].CreatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", conv.UpdatedAt, msgs[1].CreatedAt)
	}
}

func TestExchangeStreaming(t *testing.T) {
	client := &fakeClient{streamFn: func(ctx context.Context) (llm.DeltaStream, error) {
		return &fakeStream{deltas: []string{"H", "i", "!"}}, nil
	}}
	r, st := testFixture(t, client)

	sink := &recordingSink{}
	result, err := r.Exchange(context.Background(), alice, sendReq("hi"), true, sink)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	if len(sink.deltas) != 3 {
		t.Fatalf("forwarded deltas = %v, want 3", sink.deltas)
	}
	// Persisted content equals the concatenation of forwarded deltas.
	if got := strings.Join(sink.deltas, ""); got != result.AssistantMessage.Content {
		t.Errorf("concat = %q, persisted = %q", got, result.AssistantMessage.Content)
	}
	if result.AssistantMessage.Content != "Hi!" {
		t.Errorf("Content = %q, want %q", result.AssistantMessage.Content, "Hi!")
	}
	if sink.final == nil || sink.final.ID != result.AssistantMessage.ID {
		t.Errorf("final event = %+v, want persisted message", sink.final)
	}

	msgs := transcript(t, st)
	if len(msgs) != 2 {
		t.Fatalf("transcript len = %d, want 2", len(msgs))
	}
}

func TestExchangeUpstreamFailure(t *testing.T) {
	client := &fakeClient{streamFn: func(ctx context.Context) (llm.DeltaStream, error) {
		return nil, &llm.UpstreamError{Provider: "fake", StatusCode: 503, Body: "overloaded"}
	}}
	r, st := testFixture(t, client)

	sink := &recordingSink{}
	_, err := r.Exchange(context.Background(), alice, sendReq("hi"), true, sink)
	if KindOf(err) != KindUpstream {
		t.Fatalf("kind = %q, want %q", KindOf(err), KindUpstream)
	}
	if sink.failKind != KindUpstream {
		t.Errorf("sink failKind = %q, want in-band error event", sink.failKind)
	}

	// The user turn survives; no assistant row exists.
	msgs := transcript(t, st)
	if len(msgs) != 1 {
		t.Fatalf("transcript len = %d, want 1", len(msgs))
	}
	if !msgs[0].IsFromUser {
		t.Errorf("msgs[0] = %+v, want user row", msgs[0])
	}
}

func TestExchangeForeignConversation(t *testing.T) {
	client := &fakeClient{}
	r, st := testFixture(t, client)

	_, err := r.Exchange(context.Background(), Identity{UserID: "mallory"}, sendReq("hi"), false, NopSink{})
	if KindOf(err) != KindNotFound {
		t.Fatalf("kind = %q, want %q", KindOf(err), KindNotFound)
	}
	if client.callCount() != 0 {
		t.Errorf("upstream calls = %d, want 0", client.callCount())
	}
	if msgs := transcript(t, st); len(msgs) != 0 {
		t.Errorf("transcript len = %d, want 0", len(msgs))
	}
}

func TestExchangeValidation(t *testing.T) {
	client := &fakeClient{}
	r, st := testFixture(t, client)

	_, err := r.Exchange(context.Background(), alice, sendReq("   "), false, NopSink{})
	if KindOf(err) != KindValidation {
		t.Fatalf("kind = %q, want %q", KindOf(err), KindValidation)
	}
	if msgs := transcript(t, st); len(msgs) != 0 {
		t.Errorf("transcript len = %d, want 0", len(msgs))
	}
}

func TestExchangeEmptyCompletion(t *testing.T) {
	client := &fakeClient{streamFn: func(ctx context.Context) (llm.DeltaStream, error) {
		return &fakeStream{}, nil
	}}
	r, st := testFixture(t, client)

	_, err := r.Exchange(context.Background(), alice, sendReq("hi"), true, &recordingSink{})
	if KindOf(err) != KindEmptyCompletion {
		t.Fatalf("kind = %q, want %q", KindOf(err), KindEmptyCompletion)
	}
	// No empty assistant row is ever persisted.
	msgs := transcript(t, st)
	if len(msgs) != 1 || !msgs[0].IsFromUser {
		t.Errorf("transcript = %+v, want only the user row", msgs)
	}
}

func TestExchangeClientDisconnect(t *testing.T) {
	client := &fakeClient{streamFn: func(ctx context.Context) (llm.DeltaStream, error) {
		return &fakeStream{deltas: []string{"Hel", "lo", " never delivered"}}, nil
	}}
	r, st := testFixture(t, client)

	sink := &recordingSink{failAfter: 1}
	result, err := r.Exchange(context.Background(), alice, sendReq("hi"), true, sink)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if !result.Canceled {
		t.Error("Canceled = false, want true")
	}

	// The partial text including the delta that failed to forward is kept.
	msgs := transcript(t, st)
	if len(msgs) != 2 {
		t.Fatalf("transcript len = %d, want 2", len(msgs))
	}
	if msgs[1].Content != "Hello" {
		t.Errorf("assistant content = %q, want %q", msgs[1].Content, "Hello")
	}
	// No final event after cancellation.
	if sink.final != nil {
		t.Errorf("final = %+v, want nil", sink.final)
	}
}

func TestExchangePartialThenStreamError(t *testing.T) {
	client := &fakeClient{streamFn: func(ctx context.Context) (llm.DeltaStream, error) {
		return &fakeStream{deltas: []string{"Hel"}, endErr: errors.New("connection reset")}, nil
	}}
	r, st := testFixture(t, client)

	result, err := r.Exchange(context.Background(), alice, sendReq("hi"), true, &recordingSink{})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if result.AssistantMessage.Content != "Hel" {
		t.Errorf("Content = %q, want partial text kept", result.AssistantMessage.Content)
	}
	if msgs := transcript(t, st); len(msgs) != 2 {
		t.Errorf("transcript len = %d, want 2", len(msgs))
	}
}

func TestExchangeUserTurnPersistenceFailure(t *testing.T) {
	client := &fakeClient{}
	log, err := logger.New("error")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	base := store.NewMemory()
	ctx := context.Background()
	base.PutCompanion(ctx, &model.Companion{ID: "luna", Name: "Luna"})
	base.CreateConversation(ctx, &model.Conversation{ID: "c1", UserID: "alice", CompanionID: "luna"})
	st := &failingStore{Store: base}

	r := New(st, prompt.NewAssembler(20, 6000), client, nil, log, "", time.Minute)

	_, err = r.Exchange(ctx, alice, sendReq("hi"), false, NopSink{})
	if KindOf(err) != KindPersistence {
		t.Fatalf("kind = %q, want %q", KindOf(err), KindPersistence)
	}
	// Fail fast: the provider is never called.
	if client.callCount() != 0 {
		t.Errorf("upstream calls = %d, want 0", client.callCount())
	}
}

// hangingStream blocks until the upstream context is done.
type hangingStream struct {
	ctx context.Context
}

func (s *hangingStream) Recv() (string, error) {
	<-s.ctx.Done()
	return "", s.ctx.Err()
}

func (s *hangingStream) Close() error { return nil }

func TestExchangeUpstreamTimeout(t *testing.T) {
	client := &fakeClient{streamFn: func(ctx context.Context) (llm.DeltaStream, error) {
		return &hangingStream{ctx: ctx}, nil
	}}
	log, err := logger.New("error")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	st := store.NewMemory()
	ctx := context.Background()
	st.PutCompanion(ctx, &model.Companion{ID: "luna", Name: "Luna"})
	st.CreateConversation(ctx, &model.Conversation{ID: "c1", UserID: "alice", CompanionID: "luna"})

	r := New(st, prompt.NewAssembler(20, 6000), client, nil, log, "", 50*time.Millisecond)

	sink := &recordingSink{}
	_, err = r.Exchange(ctx, alice, sendReq("hi"), true, sink)
	if KindOf(err) != KindUpstream {
		t.Fatalf("kind = %q, want %q", KindOf(err), KindUpstream)
	}
	if sink.failKind != KindUpstream {
		t.Errorf("sink failKind = %q, want in-band error event", sink.failKind)
	}

	// A hung provider costs the ceiling, never more; the user turn survives.
	msgs, err := st.ListMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 1 || !msgs[0].IsFromUser {
		t.Errorf("transcript = %+v, want only the user row", msgs)
	}
}

func TestExchangeAssistantTurnPersistenceFailure(t *testing.T) {
	client := &fakeClient{streamFn: func(ctx context.Context) (llm.DeltaStream, error) {
		return &fakeStream{deltas: []string{"Hello"}}, nil
	}}
	log, err := logger.New("error")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	base := store.NewMemory()
	ctx := context.Background()
	base.PutCompanion(ctx, &model.Companion{ID: "luna", Name: "Luna"})
	base.CreateConversation(ctx, &model.Conversation{ID: "c1", UserID: "alice", CompanionID: "luna"})
	// The user-turn write succeeds; the assistant-turn write at finalize
	// does not.
	st := &failingStore{Store: base, allowWrites: 1}

	r := New(st, prompt.NewAssembler(20, 6000), client, nil, log, "", time.Minute)

	sink := &recordingSink{}
	_, err = r.Exchange(ctx, alice, sendReq("hi"), true, sink)
	if KindOf(err) != KindPersistence {
		t.Fatalf("kind = %q, want %q", KindOf(err), KindPersistence)
	}
	// The client saw the full text; the failure is surfaced in-band, not
	// hidden.
	if len(sink.deltas) != 1 || sink.deltas[0] != "Hello" {
		t.Errorf("forwarded deltas = %v, want [Hello]", sink.deltas)
	}
	if sink.failKind != KindPersistence {
		t.Errorf("sink failKind = %q, want %q", sink.failKind, KindPersistence)
	}
	if sink.final != nil {
		t.Errorf("final = %+v, want nil", sink.final)
	}

	msgs, err := base.ListMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 1 || !msgs[0].IsFromUser {
		t.Errorf("transcript = %+v, want only the user row", msgs)
	}
}

func TestExchangeModelSelection(t *testing.T) {
	tests := []struct {
		name         string
		reqModel     string
		defaultModel string
		tier         string
		want         string
	}{
		{name: "request model wins", reqModel: "explicit-model", defaultModel: "fallback-model", tier: "free", want: "explicit-model"},
		{name: "configured default next", defaultModel: "fallback-model", tier: "premium", want: "fallback-model"},
		{name: "free tier recommendation", tier: "free", want: "llama-3.1-8b-instant"},
		{name: "premium tier recommendation", tier: "premium", want: "llama-3.1-70b-versatile"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{}
			log, err := logger.New("error")
			if err != nil {
				t.Fatalf("logger: %v", err)
			}

			st := store.NewMemory()
			ctx := context.Background()
			st.PutCompanion(ctx, &model.Companion{ID: "luna", Name: "Luna"})
			st.CreateConversation(ctx, &model.Conversation{ID: "c1", UserID: "alice", CompanionID: "luna"})

			r := New(st, prompt.NewAssembler(20, 6000), client, nil, log, tt.defaultModel, time.Minute)

			req := sendReq("hi")
			req.Model = tt.reqModel
			result, err := r.Exchange(ctx, Identity{UserID: "alice", Tier: tt.tier}, req, false, NopSink{})
			if err != nil {
				t.Fatalf("exchange: %v", err)
			}
			if result.Model != tt.want {
				t.Errorf("Model = %q, want %q", result.Model, tt.want)
			}
		})
	}
}

func TestExchangeSerializedPerConversation(t *testing.T) {
	client := &fakeClient{streamFn: func(ctx context.Context) (llm.DeltaStream, error) {
		return &fakeStream{deltas: []string{"reply"}, delay: 10 * time.Millisecond}, nil
	}}
	r, st := testFixture(t, client)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Exchange(context.Background(), alice, sendReq("hi"), true, &recordingSink{}); err != nil {
				t.Errorf("exchange: %v", err)
			}
		}()
	}
	wg.Wait()

	// Serialized exchanges never interleave their rows.
	msgs := transcript(t, st)
	if len(msgs) != 4 {
		t.Fatalf("transcript len = %d, want 4", len(msgs))
	}
	for i, msg := range msgs {
		wantUser := i%2 == 0
		if msg.IsFromUser != wantUser {
			t.Errorf("msgs[%d].IsFromUser = %v, want %v", i, msg.IsFromUser, wantUser)
		}
	}
}
