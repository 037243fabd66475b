package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/emberchat/companion-api/internal/model"
	"github.com/emberchat/companion-api/internal/store"
	"github.com/emberchat/companion-api/pkg/logger"
)

// CompanionHandler serves the read-only companion catalog. Companions are
// seeded at startup; there is no create or edit surface.
type CompanionHandler struct {
	store  store.Store
	logger *logger.Logger
}

// NewCompanionHandler creates a new companion handler.
func NewCompanionHandler(st store.Store, log *logger.Logger) *CompanionHandler {
	return &CompanionHandler{
		store:  st,
		logger: log,
	}
}

// List handles GET /api/v1/companions
func (h *CompanionHandler) List(w http.ResponseWriter, r *http.Request) {
	companions, err := h.store.ListCompanions(r.Context())
	if err != nil {
		h.logger.Error("failed to list companions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list companions")
		return
	}
	if companions == nil {
		companions = []model.Companion{}
	}

	writeJSON(w, http.StatusOK, companions)
}
