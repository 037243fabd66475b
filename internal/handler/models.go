package handler

import (
	"net/http"

	"github.com/emberchat/companion-api/internal/llm"
	"github.com/emberchat/companion-api/internal/middleware"
)

// ModelHandler exposes the model catalog.
type ModelHandler struct{}

// NewModelHandler creates a new model handler.
func NewModelHandler() *ModelHandler {
	return &ModelHandler{}
}

// List handles GET /api/v1/models. The recommendation depends on the
// caller's subscription tier.
func (h *ModelHandler) List(w http.ResponseWriter, r *http.Request) {
	tier := middleware.GetTier(r.Context())

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"models":      llm.GroqModels,
		"recommended": llm.RecommendedModel(tier),
	})
}
