package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/metalbank/internal/convlog"
	"github.com/ashureev/metalbank/internal/domain"
	"github.com/ashureev/metalbank/internal/identity"
	"github.com/ashureev/metalbank/internal/workflow"
)

const maxMessageLength = 4096

// ConversationHandler exposes the turn endpoint and session management.
type ConversationHandler struct {
	*Handler
	coord      *workflow.Coordinator
	broker     *workflow.Broker
	transcript *convlog.Logger
}

// NewConversationHandler creates the conversation handler. The broker is
// the default confirmation channel for turns arriving over plain HTTP.
func NewConversationHandler(base *Handler, coord *workflow.Coordinator, broker *workflow.Broker, transcript *convlog.Logger) *ConversationHandler {
	return &ConversationHandler{
		Handler:    base,
		coord:      coord,
		broker:     broker,
		transcript: transcript,
	}
}

// RegisterRoutes registers conversation routes.
func (h *ConversationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/conversation", func(r chi.Router) {
		r.Post("/turn", h.Turn)
		r.Delete("/session", h.DeleteSession)
	})
	r.Route("/api/confirmations", func(r chi.Router) {
		r.Get("/", h.ListConfirmations)
		r.Post("/{id}", h.ResolveConfirmation)
	})
}

type turnRequest struct {
	Message string `json:"message"`
}

type turnResponse struct {
	TurnID string `json:"turn_id"`
	Reply  string `json:"reply"`
}

// Turn handles one conversational turn. When the turn suspends on a
// cancellation confirmation, the request blocks until an external caller
// resolves it or the bounded wait expires.
func (h *ConversationHandler) Turn(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		Error(w, http.StatusBadRequest, "message cannot be empty")
		return
	}
	if len(message) > maxMessageLength {
		Error(w, http.StatusBadRequest, "message too long")
		return
	}

	result, err := h.coord.HandleTurn(r.Context(), workflow.TurnRequest{
		UserID:    userID,
		SessionID: sessionID,
		Message:   message,
		Confirmer: h.broker,
	})
	if err != nil {
		slog.Error("Turn failed", "error", err, "user_id", userID, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "the ledger could not be consulted")
		return
	}

	h.record(result.TurnID, userID, sessionID, "user", message)
	h.record(result.TurnID, userID, sessionID, "assistant", result.Reply)

	JSON(w, http.StatusOK, turnResponse{TurnID: result.TurnID, Reply: result.Reply})
}

// DeleteSession permanently removes the caller's conversation state,
// including the discovery flag.
func (h *ConversationHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.repo.DeleteSession(r.Context(), domain.DefaultAppName, userID, sessionID); err != nil {
		slog.Error("Failed to delete session", "error", err, "user_id", userID, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ListConfirmations returns confirmation requests currently suspended.
func (h *ConversationHandler) ListConfirmations(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"pending": h.broker.Pending(),
	})
}

type resolveRequest struct {
	Action string `json:"action"`
}

// ResolveConfirmation delivers an accept/decline for a suspended
// cancellation.
func (h *ConversationHandler) ResolveConfirmation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var action workflow.Action
	switch req.Action {
	case "accept":
		action = workflow.ActionAccept
	case "decline":
		action = workflow.ActionDecline
	case "error":
		action = workflow.ActionError
	default:
		Error(w, http.StatusBadRequest, "action must be accept, decline, or error")
		return
	}

	if !h.broker.Resolve(id, action) {
		Error(w, http.StatusNotFound, "no such pending confirmation")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (h *ConversationHandler) record(turnID, userID, sessionID, role, content string) {
	if h.transcript == nil {
		return
	}
	h.transcript.Log(convlog.Event{
		TurnID:    turnID,
		UserID:    userID,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
	})
}
