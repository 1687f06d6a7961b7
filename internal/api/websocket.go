package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ashureev/metalbank/internal/convlog"
	"github.com/ashureev/metalbank/internal/identity"
	"github.com/ashureev/metalbank/internal/workflow"
)

// wsMessage is the frame format on the conversation socket. Inbound types
// are "message", "confirm_response", and "ping"; outbound types are
// "reply", "confirm_request", "pong", and "error".
type wsMessage struct {
	Type         string `json:"type"`
	ID           string `json:"id,omitempty"`
	TurnID       string `json:"turn_id,omitempty"`
	Content      string `json:"content,omitempty"`
	Action       string `json:"action,omitempty"`
	PendingLoans int    `json:"pending_loans,omitempty"`
}

// WebSocketHandler runs full conversations over one connection, with
// cancellation confirmations carried in band: the turn suspends, the
// client receives a confirm_request frame, and its confirm_response frame
// resumes the turn.
type WebSocketHandler struct {
	*Handler
	coord          *workflow.Coordinator
	sockets        *SocketRegistry
	transcript     *convlog.Logger
	confirmTimeout time.Duration
	allowedOrigin  string
}

// NewWebSocketHandler creates the conversation socket handler.
func NewWebSocketHandler(base *Handler, coord *workflow.Coordinator, sockets *SocketRegistry, transcript *convlog.Logger, confirmTimeout time.Duration, allowedOrigin string) *WebSocketHandler {
	if confirmTimeout <= 0 {
		confirmTimeout = 2 * time.Minute
	}
	return &WebSocketHandler{
		Handler:        base,
		coord:          coord,
		sockets:        sockets,
		transcript:     transcript,
		confirmTimeout: confirmTimeout,
		allowedOrigin:  allowedOrigin,
	}
}

// connState is the per-connection write lock and confirmation routing
// table shared between the read loop and in-flight turns.
type connState struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan workflow.Action
}

func (c *connState) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.Write(context.Background(), websocket.MessageText, data)
}

func (c *connState) registerConfirm(id string) chan workflow.Action {
	ch := make(chan workflow.Action, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	return ch
}

func (c *connState) dropConfirm(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *connState) resolveConfirm(id string, action workflow.Action) bool {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	ch <- action
	return true
}

// connConfirmer carries a confirmation round-trip over the socket.
type connConfirmer struct {
	conn    *connState
	timeout time.Duration
}

func (cc *connConfirmer) Confirm(ctx context.Context, prompt workflow.Prompt) (bool, error) {
	id := uuid.NewString()
	ch := cc.conn.registerConfirm(id)
	defer cc.conn.dropConfirm(id)

	if err := cc.conn.writeJSON(wsMessage{
		Type:         "confirm_request",
		ID:           id,
		Content:      prompt.Message,
		PendingLoans: prompt.PendingLoans,
	}); err != nil {
		return false, workflow.ErrConfirmationFailed
	}

	timer := time.NewTimer(cc.timeout)
	defer timer.Stop()

	select {
	case action := <-ch:
		switch action {
		case workflow.ActionAccept:
			return true, nil
		case workflow.ActionDecline:
			return false, nil
		default:
			return false, workflow.ErrConfirmationFailed
		}
	case <-timer.C:
		return false, workflow.ErrConfirmationTimeout
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	slog.Info("WebSocket conversation request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "conversation ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.sockets.Register(userID, sessionID, ws)
	defer h.sockets.Unregister(userID, sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := &connState{ws: ws, pending: make(map[string]chan workflow.Action)}
	var turns sync.WaitGroup

	h.readLoop(ctx, conn, &turns, userID, sessionID)

	// Let in-flight turns observe cancellation before returning.
	cancel()
	turns.Wait()
	slog.Info("Conversation socket closed", "user_id", userID, "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDevelopment() {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop dispatches inbound frames. Turns run off the loop so a
// confirm_response can be read while its turn is suspended.
func (h *WebSocketHandler) readLoop(ctx context.Context, conn *connState, turns *sync.WaitGroup, userID, sessionID string) {
	for {
		_, data, err := conn.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if writeErr := conn.writeJSON(wsMessage{Type: "error", Content: "invalid frame"}); writeErr != nil {
				slog.Debug("Failed to send frame error", "error", writeErr)
			}
			continue
		}

		switch msg.Type {
		case "message":
			turns.Add(1)
			go func(content string) {
				defer turns.Done()
				h.runTurn(ctx, conn, userID, sessionID, content)
			}(msg.Content)
		case "confirm_response":
			action := workflow.Action(msg.Action)
			if action != workflow.ActionAccept && action != workflow.ActionDecline {
				action = workflow.ActionError
			}
			if !conn.resolveConfirm(msg.ID, action) {
				slog.Debug("Confirmation response for unknown id", "id", msg.ID, "user_id", userID)
			}
		case "ping":
			if err := conn.writeJSON(wsMessage{Type: "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		}
	}
}

func (h *WebSocketHandler) runTurn(ctx context.Context, conn *connState, userID, sessionID, content string) {
	if len(content) > maxMessageLength {
		if err := conn.writeJSON(wsMessage{Type: "error", Content: "message too long"}); err != nil {
			slog.Debug("Failed to send length error", "error", err)
		}
		return
	}

	result, err := h.coord.HandleTurn(ctx, workflow.TurnRequest{
		UserID:    userID,
		SessionID: sessionID,
		Message:   content,
		Confirmer: &connConfirmer{conn: conn, timeout: h.confirmTimeout},
	})
	if err != nil {
		slog.Error("Turn failed", "error", err, "user_id", userID, "session_id", sessionID)
		if writeErr := conn.writeJSON(wsMessage{Type: "error", Content: "the ledger could not be consulted"}); writeErr != nil {
			slog.Debug("Failed to send turn error", "error", writeErr)
		}
		return
	}

	h.record(result.TurnID, userID, sessionID, "user", content)
	h.record(result.TurnID, userID, sessionID, "assistant", result.Reply)

	if err := conn.writeJSON(wsMessage{Type: "reply", TurnID: result.TurnID, Content: result.Reply}); err != nil {
		slog.Debug("Failed to send reply", "error", err, "user_id", userID)
	}
}

func (h *WebSocketHandler) record(turnID, userID, sessionID, role, content string) {
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
