// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/metalbank/internal/domain"
)

// ConfirmFunc is the suspension point for confirmation-gated cancellation.
// It receives the number of open loans about to be deleted and blocks until
// an external actor accepts or declines, or the wait times out. Only a
// (true, nil) result authorizes deletion.
type ConfirmFunc func(ctx context.Context, pending int) (bool, error)

// Repository defines the interface for persisting loans and session state.
type Repository interface {
	// CreateLoan inserts a new loan with repaid_amount=0 and loan_open=true.
	// The name is normalized to lower case. Insert and id assignment happen
	// in one transaction; the generated id is returned.
	CreateLoan(ctx context.Context, name string, amount, ratePercent float64) (int64, error)

	// GetLoansByName returns all loans for a name (case-insensitive),
	// ordered by insertion id ascending.
	GetLoansByName(ctx context.Context, name string) ([]*domain.Loan, error)

	// GetAllLoans returns every loan in the ledger ordered by id.
	GetAllLoans(ctx context.Context) ([]*domain.Loan, error)

	// CancelOpenLoans deletes all open loans for a name in one transaction
	// and returns the number deleted. Zero matching records is a no-op
	// success, not an error.
	CancelOpenLoans(ctx context.Context, name string) (int64, error)

	// CancelOpenLoansConfirmed deletes all open loans for a name only after
	// the supplied confirmation callback approves. With zero open loans it
	// returns true immediately without invoking the callback. On decline,
	// callback error, or timeout it returns false and the ledger is left
	// unmodified. The delete set is computed once and applied atomically.
	CancelOpenLoansConfirmed(ctx context.Context, name string, confirm ConfirmFunc) (bool, error)

	// RecordRepayment adds to a loan's repaid amount and closes the loan
	// once the principal is fully repaid.
	RecordRepayment(ctx context.Context, loanID int64, amount float64) (*domain.Loan, error)

	// GetSession retrieves session state, or nil if absent.
	GetSession(ctx context.Context, app, userID, sessionID string) (*domain.Session, error)

	// GetOrCreateSession returns existing session state, atomically
	// creating empty state when absent.
	GetOrCreateSession(ctx context.Context, app, userID, sessionID string) (*domain.Session, error)

	// UpsertSession persists session state. The secret-discovery flag is
	// monotonic: an upsert can set it but never clear it.
	UpsertSession(ctx context.Context, session *domain.Session) error

	// DeleteSession removes all state for a session permanently.
	DeleteSession(ctx context.Context, app, userID, sessionID string) error

	// CleanupExpiredSessions removes sessions idle longer than ttl.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
