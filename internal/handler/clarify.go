package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/clarification-engine/internal/controller"
	"github.com/capitalize-ai/clarification-engine/internal/middleware"
	"github.com/capitalize-ai/clarification-engine/internal/model"
	"github.com/capitalize-ai/clarification-engine/pkg/logger"
)

// ClarifyHandler handles the query and clarification endpoints.
type ClarifyHandler struct {
	controller *controller.Controller
	logger     *logger.Logger
}

// NewClarifyHandler creates a new clarify handler.
func NewClarifyHandler(ctrl *controller.Controller, log *logger.Logger) *ClarifyHandler {
	return &ClarifyHandler{
		controller: ctrl,
		logger:     log,
	}
}

// Query handles POST /api/v1/conversations/:id/queries
//
// Returns 200 with a final answer, or 202 when the turn suspended on a
// clarification request.
func (h *ClarifyHandler) Query(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")
	tenantID := middleware.GetTenantID(ctx)
	userID := middleware.GetUserID(ctx)

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateQueryInput(req.Input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.controller.ProcessQuery(ctx, conversationID, tenantID, userID, req.Input)
	if err != nil {
		if errors.Is(err, model.ErrConversationBusy) {
			writeError(w, http.StatusConflict, "conversation is processing another request")
			return
		}
		h.logger.Error("failed to process query",
			zap.String("conversation_id", conversationID), zap.Error(err))
		writeError(w, statusFor(err), "failed to process query")
		return
	}

	status := http.StatusOK
	if resp.State == model.StateAwaitingClarification {
		status = http.StatusAccepted
	}
	writeJSON(w, status, resp)
}

// Clarify handles POST /api/v1/conversations/:id/clarifications
//
// A stale response (category mismatch against the pending request) gets 409
// with the pending request re-attached so the client can recover.
func (h *ClarifyHandler) Clarify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var resp model.ClarificationResponse
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateSelection(resp.Selection.SelectedIDs); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp.ConversationID = conversationID

	result, err := h.controller.HandleClarification(ctx, conversationID, &resp)
	if err != nil {
		if errors.Is(err, model.ErrCategoryMismatch) && result != nil {
			writeJSON(w, http.StatusConflict, result)
			return
		}
		if errors.Is(err, model.ErrSelectionRequired) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, model.ErrNoPendingClarification) {
			writeError(w, http.StatusConflict, "no pending clarification")
			return
		}
		if errors.Is(err, model.ErrConversationBusy) {
			writeError(w, http.StatusConflict, "conversation is processing another request")
			return
		}
		h.logger.Error("failed to handle clarification",
			zap.String("conversation_id", conversationID), zap.Error(err))
		writeError(w, statusFor(err), "failed to handle clarification")
		return
	}

	status := http.StatusOK
	if result.State == model.StateAwaitingClarification {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

// Abandon handles POST /api/v1/conversations/:id/abandon
func (h *ClarifyHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.controller.Abandon(ctx, conversationID)
	if err != nil {
		if errors.Is(err, model.ErrNoPendingClarification) {
			writeError(w, http.StatusConflict, "no pending clarification")
			return
		}
		h.logger.Error("failed to abandon clarification",
			zap.String("conversation_id", conversationID), zap.Error(err))
		writeError(w, statusFor(err), "failed to abandon clarification")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
