// Package interpreter wraps the natural-language collaborator. The core
// treats it as opaque: it turns free text into a small structured analysis
// and renders prose, and nothing it produces is used for control decisions
// beyond its three-way classification.
package interpreter

import (
	"context"

	"github.com/ashureev/metalbank/internal/domain"
)

// Operation is the banking sub-intent within a standard-path turn.
type Operation string

const (
	// OpQuote asks for a loan offer.
	OpQuote Operation = "quote"
	// OpCreate accepts a previously quoted offer for a requested amount.
	OpCreate Operation = "create"
	// OpList asks to see existing loans.
	OpList Operation = "list"
	// OpCancel asks to cancel open loans.
	OpCancel Operation = "cancel"
	// OpRepay reports a repayment.
	OpRepay Operation = "repay"
	// OpGeneral is banking smalltalk with no ledger operation.
	OpGeneral Operation = "general"
)

// Analysis is the structured reading of one inbound message.
type Analysis struct {
	Intent     domain.Intent
	Operation  Operation
	EntityName string   // normalized; empty when the message names none
	Amount     *float64 // requested principal in dragons, when stated
	LoanID     *int64   // referenced loan id, when stated
}

// NarrateRequest asks for user-facing prose. Fallback is used verbatim
// when the collaborator cannot produce text; responses must never include
// raw risk scores or rate justifications.
type NarrateRequest struct {
	Instruction string
	Fallback    string
	History     []domain.StoredMessage
}

// Interpreter is the NL collaborator boundary.
type Interpreter interface {
	// Analyze extracts intent, operation, and entities from a message.
	// Implementations degrade to an unrelated-intent analysis on failure
	// rather than erroring.
	Analyze(ctx context.Context, message string) Analysis

	// Narrate renders user-facing prose for an instruction, falling back
	// to req.Fallback when generation fails.
	Narrate(ctx context.Context, req NarrateRequest) string
}
