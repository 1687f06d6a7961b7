package domain

import (
	"time"
)

// DefaultAppName identifies this dispatcher in session keys.
const DefaultAppName = "metalbank"

// StoredMessage is a serialized conversation entry.
type StoredMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session holds per-conversation state, keyed by (app, user, session).
// Created lazily on first access and removed only by explicit deletion.
type Session struct {
	App       string
	UserID    string
	SessionID string

	// SecretDiscovered unlocks silent delegation to the clandestine
	// service. One-way: once set it stays set for the session's lifetime.
	SecretDiscovered bool

	// EntityName is the extracted borrower name, already normalized.
	EntityName string

	// QuotedRate is the last computed interest rate offer, overwritten on
	// each recomputation. Nil until a quote workflow has run.
	QuotedRate *float64

	Messages []StoredMessage

	CreatedAt time.Time
	UpdatedAt time.Time
}

// MarkSecretDiscovered sets the one-way discovery flag. There is
// deliberately no way to clear it short of deleting the session.
func (s *Session) MarkSecretDiscovered() {
	s.SecretDiscovered = true
}

// SetQuotedRate stores the latest offer, replacing any previous one.
func (s *Session) SetQuotedRate(rate float64) {
	s.QuotedRate = &rate
}

// RecordMessage appends a conversation entry.
func (s *Session) RecordMessage(role, content string) {
	s.Messages = append(s.Messages, StoredMessage{Role: role, Content: content})
}

// RecentMessages returns the last n conversation entries.
func (s *Session) RecentMessages(n int) []StoredMessage {
	if n >= len(s.Messages) {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}
