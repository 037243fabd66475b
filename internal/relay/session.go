package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emberchat/companion-api/internal/events"
	"github.com/emberchat/companion-api/internal/llm"
	"github.com/emberchat/companion-api/internal/model"
	"github.com/emberchat/companion-api/internal/prompt"
	"github.com/emberchat/companion-api/internal/store"
	"github.com/emberchat/companion-api/pkg/logger"
	"github.com/emberchat/companion-api/pkg/metrics"
)

// Identity is the verified caller of an exchange. It is passed in
// explicitly so sessions are testable without a simulated request
// environment.
type Identity struct {
	UserID string
	Tier   string
}

// Sink is the outbound client transport for one exchange. Delta forwards one
// text fragment; Final reports the persisted assistant message; Fail reports
// a classified failure in-band before the transport closes.
type Sink interface {
	Delta(text string) error
	Final(msg *model.Message) error
	Fail(kind Kind, message string) error
}

// NopSink discards everything. Used by the non-streaming path and tests.
type NopSink struct{}

func (NopSink) Delta(string) error         { return nil }
func (NopSink) Final(*model.Message) error { return nil }
func (NopSink) Fail(Kind, string) error    { return nil }

// session states, in transition order.
type state string

const (
	stateIdle              state = "idle"
	stateUserTurnPersisted state = "user_turn_persisted"
	stateUpstreamRequested state = "upstream_requested"
	stateStreaming         state = "streaming"
	stateFinalizing        state = "finalizing"
	stateCompleted         state = "completed"
	stateFailed            state = "failed"
)

// Relay orchestrates exchanges: persist user turn, assemble prompt, open the
// upstream stream, tee deltas to the client and an accumulator, persist the
// assistant turn. It holds no state across exchanges beyond the
// per-conversation locks.
type Relay struct {
	store           store.Store
	assembler       *prompt.Assembler
	client          llm.Client
	publisher       *events.Publisher
	logger          *logger.Logger
	defaultModel    string
	upstreamTimeout time.Duration
	locks           *conversationLocks
}

// New creates a relay. publisher may be nil; an empty defaultModel defers to
// the tier-based recommendation.
func New(
	st store.Store,
	assembler *prompt.Assembler,
	client llm.Client,
	publisher *events.Publisher,
	log *logger.Logger,
	defaultModel string,
	upstreamTimeout time.Duration,
) *Relay {
	if upstreamTimeout <= 0 {
		upstreamTimeout = 120 * time.Second
	}
	return &Relay{
		store:           st,
		assembler:       assembler,
		client:          client,
		publisher:       publisher,
		logger:          log,
		defaultModel:    defaultModel,
		upstreamTimeout: upstreamTimeout,
		locks:           newConversationLocks(),
	}
}

// Result is the outcome of a successful exchange.
type Result struct {
	UserMessage      *model.Message
	AssistantMessage *model.Message
	Model            string
	Deltas           int
	Canceled         bool
}

// Exchange runs one full exchange. When streaming is false the upstream call
// is single-shot, normalized to the same one-delta stream, so both inbound
// modes share this code path.
//
// The user turn is persisted before any upstream call and survives every
// later failure. A client disconnect mid-stream cancels the upstream request
// and finalizes with whatever was accumulated. No assistant message with
// empty content is ever persisted.
func (r *Relay) Exchange(ctx context.Context, identity Identity, req *model.SendMessageRequest, streaming bool, sink Sink) (*Result, error) {
	s := &session{
		relay:    r,
		identity: identity,
		req:      req,
		sink:     sink,
		state:    stateIdle,
		started:  time.Now(),
	}
	return s.run(ctx, streaming)
}

type session struct {
	relay    *Relay
	identity Identity
	req      *model.SendMessageRequest
	sink     Sink
	state    state
	started  time.Time

	modelName string
	acc       strings.Builder
	deltas    int
	canceled  bool
}

func (s *session) run(ctx context.Context, streaming bool) (*Result, error) {
	r := s.relay

	if err := s.validate(); err != nil {
		return nil, err
	}

	// Serialize exchanges per conversation so concurrent submissions cannot
	// interleave their persisted rows.
	release := r.locks.acquire(s.req.ConversationID)
	defer release()

	conv, err := r.store.GetConversationForCompanion(ctx, s.identity.UserID, s.req.ConversationID, s.req.CompanionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindNotFound, "conversation not found", err)
		}
		return nil, newError(KindPersistence, "failed to load conversation", err)
	}

	userMsg, err := s.persistUserTurn(ctx)
	if err != nil {
		// Fail fast: no upstream cost when the user turn cannot be made
		// durable.
		return nil, s.fail(ctx, KindPersistence, "failed to persist message", err)
	}

	turns, err := s.assemblePrompt(ctx, conv, userMsg)
	if err != nil {
		return nil, s.fail(ctx, KindPersistence, "failed to load history", err)
	}

	s.modelName = s.req.Model
	if s.modelName == "" {
		s.modelName = r.defaultModel
	}
	if s.modelName == "" {
		s.modelName = llm.RecommendedModel(s.identity.Tier)
	}

	// The upstream call is bounded so a hung provider cannot hold the relay
	// open indefinitely.
	upstreamCtx, cancel := context.WithTimeout(ctx, r.upstreamTimeout)
	defer cancel()

	s.state = stateUpstreamRequested
	stream, err := s.openStream(upstreamCtx, streaming, turns)
	if err != nil {
		return nil, s.fail(ctx, KindUpstream, "completion provider request failed", err)
	}
	defer stream.Close()

	s.state = stateStreaming
	if err := s.pump(ctx, stream, cancel); err != nil {
		return nil, err
	}

	s.state = stateFinalizing
	assistantMsg, err := s.finalize(ctx)
	if err != nil {
		return nil, err
	}

	s.state = stateCompleted
	s.publishOutcome(ctx, assistantMsg)

	return &Result{
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		Model:            s.modelName,
		Deltas:           s.deltas,
		Canceled:         s.canceled,
	}, nil
}

func (s *session) validate() error {
	if strings.TrimSpace(s.req.Content) == "" {
		return newError(KindValidation, "content is required", nil)
	}
	if s.req.ConversationID == "" {
		return newError(KindValidation, "conversationId is required", nil)
	}
	if s.req.CompanionID == "" {
		return newError(KindValidation, "companionId is required", nil)
	}
	return nil
}

func (s *session) persistUserTurn(ctx context.Context) (*model.Message, error) {
	userMsg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: s.req.ConversationID,
		UserID:         s.identity.UserID,
		CompanionID:    s.req.CompanionID,
		Content:        s.req.Content,
		IsFromUser:     true,
		CreatedAt:      time.Now(),
	}
	if err := s.relay.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, err
	}
	s.state = stateUserTurnPersisted
	metrics.MessagesTotal.WithLabelValues(string(model.RoleUser)).Inc()
	return userMsg, nil
}

// assemblePrompt builds the turn list from persisted history, never from
// client-supplied context. The just-persisted user turn is excluded by id and
// appended exactly once by the assembler.
func (s *session) assemblePrompt(ctx context.Context, conv *model.Conversation, userMsg *model.Message) ([]llm.ChatMessage, error) {
	r := s.relay

	history, err := r.store.RecentMessages(ctx, conv.ID, r.assembler.HistoryLimit()+1)
	if err != nil {
		return nil, err
	}
	filtered := history[:0]
	for _, msg := range history {
		if msg.ID != userMsg.ID {
			filtered = append(filtered, msg)
		}
	}

	persona := ""
	if companion, err := r.store.GetCompanion(ctx, conv.CompanionID); err == nil {
		persona = companion.Persona
	}

	return r.assembler.Assemble(persona, filtered, s.req.Content), nil
}

func (s *session) openStream(ctx context.Context, streaming bool, turns []llm.ChatMessage) (llm.DeltaStream, error) {
	req := &llm.CompletionRequest{
		Model:    s.modelName,
		Messages: turns,
	}
	if streaming {
		return s.relay.client.Stream(ctx, req)
	}
	resp, err := s.relay.client.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return llm.SingleShot(resp.Content), nil
}

// pump forwards deltas in arrival order, accumulating as it goes. Forwarding
// never blocks on persistence; the assistant turn is written once, at the
// end.
func (s *session) pump(ctx context.Context, stream llm.DeltaStream, cancelUpstream context.CancelFunc) error {
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if s.acc.Len() > 0 {
				// Partial text is final text; there is no retry mid-stream.
				return nil
			}
			return s.fail(ctx, KindUpstream, "completion stream failed", err)
		}

		s.acc.WriteString(delta)
		s.deltas++
		metrics.DeltasForwarded.Inc()

		if err := s.sink.Delta(delta); err != nil {
			// Client transport closed. Drop the upstream connection and
			// finalize with what we have.
			s.canceled = true
			cancelUpstream()
			return nil
		}
	}
}

func (s *session) finalize(ctx context.Context) (*model.Message, error) {
	r := s.relay

	content := s.acc.String()
	if content == "" {
		return nil, s.fail(ctx, KindEmptyCompletion, "completion produced no content", nil)
	}

	// The request context may already be canceled when the client
	// disconnected; the partial assistant turn must still be persisted.
	detached := context.WithoutCancel(ctx)

	assistantMsg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: s.req.ConversationID,
		UserID:         s.identity.UserID,
		CompanionID:    s.req.CompanionID,
		Content:        content,
		IsFromUser:     false,
		CreatedAt:      time.Now(),
	}
	if err := r.store.AppendMessage(detached, assistantMsg); err != nil {
		// The client may have already seen the full text. This inconsistency
		// is surfaced, not hidden; reloading the conversation is the
		// recovery path.
		r.logger.Error("assistant turn not persisted after delivery",
			zap.String("conversation_id", s.req.ConversationID),
			zap.Int("chars", len(content)),
			zap.Error(err),
		)
		return nil, s.fail(ctx, KindPersistence, "failed to persist assistant message", err)
	}
	metrics.MessagesTotal.WithLabelValues(string(model.RoleAssistant)).Inc()

	if err := r.store.TouchConversation(detached, s.req.ConversationID, assistantMsg.CreatedAt); err != nil {
		r.logger.Warn("failed to bump conversation recency",
			zap.String("conversation_id", s.req.ConversationID),
			zap.Error(err),
		)
	}

	if !s.canceled {
		if err := s.sink.Final(assistantMsg); err != nil {
			s.canceled = true
		}
	}

	return assistantMsg, nil
}

// fail marks the exchange Failed, emits the in-band error event, publishes
// the audit record and returns the classified error. No partial assistant
// message is persisted on this path.
func (s *session) fail(ctx context.Context, kind Kind, message string, cause error) error {
	r := s.relay
	s.state = stateFailed

	if kind == KindUpstream {
		metrics.UpstreamErrors.WithLabelValues(r.client.Name()).Inc()
	}
	metrics.RecordExchange(s.modelName, "failed", time.Since(s.started).Seconds())

	r.logger.Error("exchange failed",
		zap.String("conversation_id", s.req.ConversationID),
		zap.String("kind", string(kind)),
		zap.Int("deltas", s.deltas),
		zap.Error(cause),
	)

	// Best effort: the transport may already be gone.
	_ = s.sink.Fail(kind, message)

	r.publisher.PublishExchange(context.WithoutCancel(ctx), &model.ExchangeEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: s.req.ConversationID,
		UserID:         s.identity.UserID,
		Type:           model.ExchangeFailed,
		Reason:         string(kind),
		Model:          s.modelName,
		Deltas:         s.deltas,
		Chars:          s.acc.Len(),
		CreatedAt:      time.Now(),
	})

	return newError(kind, message, cause)
}

func (s *session) publishOutcome(ctx context.Context, assistantMsg *model.Message) {
	r := s.relay

	outcome := "completed"
	eventType := model.ExchangeCompleted
	if s.canceled {
		outcome = "canceled"
		eventType = model.ExchangeCanceled
	}
	metrics.RecordExchange(s.modelName, outcome, time.Since(s.started).Seconds())

	r.logger.Info("exchange "+outcome,
		zap.String("conversation_id", s.req.ConversationID),
		zap.String("message_id", assistantMsg.ID),
		zap.String("model", s.modelName),
		zap.Int("deltas", s.deltas),
		zap.Int("chars", len(assistantMsg.Content)),
		zap.Duration("duration", time.Since(s.started)),
	)

	r.publisher.PublishExchange(context.WithoutCancel(ctx), &model.ExchangeEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: s.req.ConversationID,
		UserID:         s.identity.UserID,
		Type:           eventType,
		Model:          s.modelName,
		Deltas:         s.deltas,
		Chars:          len(assistantMsg.Content),
		CreatedAt:      time.Now(),
	})
}
