package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/emberchat/companion-api/internal/middleware"
	"github.com/emberchat/companion-api/internal/model"
	"github.com/emberchat/companion-api/internal/relay"
	"github.com/emberchat/companion-api/pkg/logger"
	"github.com/emberchat/companion-api/pkg/metrics"
)

// ChatHandler exposes the relay over HTTP: a streaming SSE endpoint and a
// synchronous JSON endpoint sharing the same exchange machinery.
type ChatHandler struct {
	relay  *relay.Relay
	logger *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(r *relay.Relay, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		relay:  r,
		logger: log,
	}
}

func identityFromRequest(r *http.Request) relay.Identity {
	return relay.Identity{
		UserID: middleware.GetUserID(r.Context()),
		Tier:   middleware.GetTier(r.Context()),
	}
}

func statusForKind(kind relay.Kind) int {
	switch kind {
	case relay.KindValidation:
		return http.StatusBadRequest
	case relay.KindNotFound:
		return http.StatusNotFound
	case relay.KindUpstream, relay.KindEmptyCompletion:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Send handles POST /api/v1/chat/messages (non-streaming). The reply is the
// persisted assistant message once the full completion is available.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.relay.Exchange(ctx, identityFromRequest(r), &req, false, relay.NopSink{})
	if err != nil {
		writeError(w, statusForKind(relay.KindOf(err)), publicMessage(err))
		return
	}

	writeJSON(w, http.StatusOK, result.AssistantMessage.ToResponse())
}

// Stream handles POST /api/v1/chat/messages/stream. The response is an SSE
// stream: one `data: {"content":...}` event per delta, a final
// `data: {"id":...,"content":...,"done":true}` event, then `data: [DONE]`.
// Mid-stream failures are reported as an in-band error event, never a bare
// connection close.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	sink := &sseSink{w: w, flusher: flusher}

	result, err := h.relay.Exchange(ctx, identityFromRequest(r), &req, true, sink)
	if err != nil {
		if !sink.wrote {
			// Rejected before anything was streamed: a plain error response
			// is still possible.
			w.Header().Del("Content-Type")
			w.Header().Del("Cache-Control")
			writeError(w, statusForKind(relay.KindOf(err)), publicMessage(err))
			return
		}
		// The relay already emitted the in-band error event.
		return
	}

	sink.done()

	if result.Canceled {
		h.logger.Info("client disconnected mid-stream",
			zap.String("conversation_id", req.ConversationID),
			zap.Int("deltas", result.Deltas),
		)
	}
}

// publicMessage returns the user-facing reason, never a raw error chain.
func publicMessage(err error) string {
	var re *relay.Error
	if errors.As(err, &re) {
		return re.Message
	}
	return "internal error"
}

// sseSink adapts the relay's sink contract onto an SSE response.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	wrote   bool
}

func (s *sseSink) writeData(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.wrote = true
	s.flusher.Flush()
	return nil
}

func (s *sseSink) Delta(text string) error {
	return s.writeData(model.DeltaEvent{Content: text})
}

func (s *sseSink) Final(msg *model.Message) error {
	return s.writeData(model.FinalEvent{
		ID:      msg.ID,
		Content: msg.Content,
		Done:    true,
	})
}

func (s *sseSink) Fail(kind relay.Kind, message string) error {
	return s.writeData(model.StreamErrorEvent{
		Error:   string(kind),
		Message: message,
	})
}

func (s *sseSink) done() {
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.wrote = true
	s.flusher.Flush()
}
