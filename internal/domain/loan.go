// Package domain contains core domain types for the Metal Bank service.
package domain

import (
	"strings"
	"time"
)

// DefaultLoanAmount is the principal assumed when a request names no amount,
// in dragons.
const DefaultLoanAmount = 1000.0

// Loan represents a single ledger record. The interest rate is fixed at
// creation time and never recomputed for a persisted loan.
type Loan struct {
	ID                  int64     `json:"id"`
	Name                string    `json:"name"`
	Amount              float64   `json:"amount"`
	InterestRatePercent float64   `json:"interest_rate_percent"`
	RepaidAmount        float64   `json:"repaid_amount"`
	Open                bool      `json:"loan_open"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Outstanding returns the unpaid principal.
func (l *Loan) Outstanding() float64 {
	remaining := l.Amount - l.RepaidAmount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// NormalizeEntityName lower-cases and trims an entity name for ledger keys.
func NormalizeEntityName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// LoanHistory summarizes an entity's ledger position for pricing.
type LoanHistory struct {
	OpenLoans   int
	ClosedLoans int
}

// HistoryFromLoans derives open/closed counts from ledger records.
func HistoryFromLoans(loans []*Loan) LoanHistory {
	var h LoanHistory
	for _, l := range loans {
		if l.Open {
			h.OpenLoans++
		} else {
			h.ClosedLoans++
		}
	}
	return h
}
