// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/clarification-engine/internal/controller"
	"github.com/capitalize-ai/clarification-engine/internal/middleware"
	"github.com/capitalize-ai/clarification-engine/pkg/logger"
)

// ConversationHandler handles conversation read endpoints.
type ConversationHandler struct {
	controller *controller.Controller
	logger     *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(ctrl *controller.Controller, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		controller: ctrl,
		logger:     log,
	}
}

// Get handles GET /api/v1/conversations/:id
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.controller.GetConversation(ctx, conversationID)
	if err != nil {
		writeError(w, statusFor(err), "conversation not found")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// ListTurns handles GET /api/v1/conversations/:id/turns
func (h *ConversationHandler) ListTurns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var afterSequence uint64
	limit := 20

	if a := r.URL.Query().Get("after_sequence"); a != "" {
		if parsed, err := strconv.ParseUint(a, 10, 64); err == nil {
			afterSequence = parsed
		}
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	resp, err := h.controller.ListTurns(ctx, conversationID, afterSequence, limit)
	if err != nil {
		h.logger.Error("failed to list turns",
			zap.String("conversation_id", conversationID), zap.Error(err))
		writeError(w, statusFor(err), "failed to list turns")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
