package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Confirmation outcomes that mean "no mutation performed". They are
// distinguishable in logs but presented identically to the end user.
var (
	ErrConfirmationTimeout = errors.New("confirmation timed out")
	ErrConfirmationFailed  = errors.New("confirmation channel failed")
)

// Action is the external actor's answer to a confirmation request.
// Only ActionAccept authorizes the pending mutation.
type Action string

const (
	ActionAccept  Action = "accept"
	ActionDecline Action = "decline"
	ActionError   Action = "error"
)

// Prompt describes a pending destructive operation awaiting a yes/no.
type Prompt struct {
	UserID       string
	SessionID    string
	Message      string
	PendingLoans int
}

// Confirmer obtains an accept/decline decision from an external actor.
// Confirm blocks until resolved or the bounded wait expires; a timeout
// resolves to denied, never to an indefinite hang.
type Confirmer interface {
	Confirm(ctx context.Context, prompt Prompt) (bool, error)
}

// PendingConfirmation is the externally visible view of a suspended
// confirmation request.
type PendingConfirmation struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	SessionID    string    `json:"session_id"`
	Message      string    `json:"message"`
	PendingLoans int       `json:"pending_loans"`
	CreatedAt    time.Time `json:"created_at"`
}

type pendingEntry struct {
	view PendingConfirmation
	ch   chan Action
}

// Broker implements Confirmer as a registry of suspended requests that an
// external caller resolves by id. Each request gets its own channel; the
// waiting goroutine owns the bounded wait.
type Broker struct {
	mu      sync.Mutex
	pending map[string]*pendingEntry
	timeout time.Duration
	logger  *slog.Logger
}

// NewBroker creates a confirmation broker with the given wait bound.
func NewBroker(timeout time.Duration, logger *slog.Logger) *Broker {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		pending: make(map[string]*pendingEntry),
		timeout: timeout,
		logger:  logger,
	}
}

// Confirm registers the prompt and blocks until Resolve is called for it,
// the wait bound passes, or ctx is cancelled. Timeout and cancellation
// both resolve to denied.
func (b *Broker) Confirm(ctx context.Context, prompt Prompt) (bool, error) {
	id := uuid.NewString()
	entry := &pendingEntry{
		view: PendingConfirmation{
			ID:           id,
			UserID:       prompt.UserID,
			SessionID:    prompt.SessionID,
			Message:      prompt.Message,
			PendingLoans: prompt.PendingLoans,
			CreatedAt:    time.Now(),
		},
		ch: make(chan Action, 1),
	}

	b.mu.Lock()
	b.pending[id] = entry
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	b.logger.Info("confirmation requested",
		"confirmation_id", id,
		"user_id", prompt.UserID,
		"session_id", prompt.SessionID,
		"pending_loans", prompt.PendingLoans,
	)

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case action := <-entry.ch:
		switch action {
		case ActionAccept:
			return true, nil
		case ActionDecline:
			return false, nil
		default:
			return false, fmt.Errorf("confirmation %s: %w", id, ErrConfirmationFailed)
		}
	case <-timer.C:
		b.logger.Warn("confirmation timed out", "confirmation_id", id, "user_id", prompt.UserID)
		return false, fmt.Errorf("confirmation %s: %w", id, ErrConfirmationTimeout)
	case <-ctx.Done():
		return false, fmt.Errorf("confirmation %s: %w", id, ctx.Err())
	}
}

// Resolve delivers the external actor's answer. Returns false when the id
// is unknown or already resolved.
func (b *Broker) Resolve(id string, action Action) bool {
	b.mu.Lock()
	entry, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if !ok {
		return false
	}

	entry.ch <- action
	b.logger.Info("confirmation resolved", "confirmation_id", id, "action", string(action))
	return true
}

// Pending lists suspended confirmation requests, oldest first.
func (b *Broker) Pending() []PendingConfirmation {
	b.mu.Lock()
	defer b.mu.Unlock()

	views := make([]PendingConfirmation, 0, len(b.pending))
	for _, entry := range b.pending {
		views = append(views, entry.view)
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].CreatedAt.Before(views[j].CreatedAt)
	})
	return views
}
