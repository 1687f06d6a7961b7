package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/metalbank/internal/domain"
	"github.com/ashureev/metalbank/internal/store"
	"github.com/ashureev/metalbank/internal/workflow"
)

// LoanHandler exposes the ledger directly for operators and service
// integrations, bypassing the conversational surface.
type LoanHandler struct {
	*Handler
	broker *workflow.Broker
}

// NewLoanHandler creates the ledger handler.
func NewLoanHandler(base *Handler, broker *workflow.Broker) *LoanHandler {
	return &LoanHandler{Handler: base, broker: broker}
}

// RegisterRoutes registers ledger routes.
func (h *LoanHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/loans", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Post("/{name}/cancel", h.CancelConfirmed)
		r.Delete("/{name}", h.Cancel)
	})
}

type loanView struct {
	ID                  int64   `json:"id"`
	Name                string  `json:"name"`
	Amount              float64 `json:"amount"`
	InterestRatePercent float64 `json:"interest_rate_percent"`
	RepaidAmount        float64 `json:"repaid_amount"`
	Open                bool    `json:"loan_open"`
}

func viewLoans(loans []*domain.Loan) []loanView {
	out := make([]loanView, 0, len(loans))
	for _, l := range loans {
		out = append(out, loanView{
			ID:                  l.ID,
			Name:                l.Name,
			Amount:              l.Amount,
			InterestRatePercent: l.InterestRatePercent,
			RepaidAmount:        l.RepaidAmount,
			Open:                l.Open,
		})
	}
	return out
}

// List returns ledger records, optionally filtered by borrower name.
func (h *LoanHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		loans []*domain.Loan
		err   error
	)
	if name := r.URL.Query().Get("name"); name != "" {
		loans, err = h.repo.GetLoansByName(r.Context(), name)
	} else {
		loans, err = h.repo.GetAllLoans(r.Context())
	}
	if err != nil {
		slog.Error("Failed to list loans", "error", err)
		Error(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"loans": viewLoans(loans)})
}

type createLoanRequest struct {
	Name                string   `json:"name"`
	Amount              *float64 `json:"amount"`
	InterestRatePercent float64  `json:"interest_rate_percent"`
}

// Create inserts a ledger record directly.
func (h *LoanHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if domain.NormalizeEntityName(req.Name) == "" {
		Error(w, http.StatusBadRequest, "name cannot be empty")
		return
	}
	if req.InterestRatePercent <= 0 {
		Error(w, http.StatusBadRequest, "interest_rate_percent must be > 0")
		return
	}

	amount := domain.DefaultLoanAmount
	if req.Amount != nil {
		if *req.Amount <= 0 {
			Error(w, http.StatusBadRequest, "amount must be > 0")
			return
		}
		amount = *req.Amount
	}

	id, err := h.repo.CreateLoan(r.Context(), req.Name, amount, req.InterestRatePercent)
	if err != nil {
		slog.Error("Failed to create loan", "error", err, "name", req.Name)
		Error(w, http.StatusInternalServerError, "failed to write ledger")
		return
	}
	JSON(w, http.StatusCreated, map[string]interface{}{"loan_id": id})
}

// Cancel deletes all open loans for a borrower without confirmation. Kept
// for service integrations that carry their own authorization.
func (h *LoanHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	deleted, err := h.repo.CancelOpenLoans(r.Context(), name)
	if err != nil {
		slog.Error("Failed to cancel loans", "error", err, "name", name)
		Error(w, http.StatusInternalServerError, "failed to write ledger")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"deleted": deleted})
}

// CancelConfirmed deletes all open loans for a borrower only after a
// confirmation is resolved through the confirmations endpoint. The request
// blocks until resolution or the bounded wait expires.
func (h *LoanHandler) CancelConfirmed(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	confirmFn := func(ctx context.Context, pending int) (bool, error) {
		return h.broker.Confirm(ctx, workflow.Prompt{
			Message:      "Strike all open loans for " + domain.NormalizeEntityName(name) + " from the ledger?",
			PendingLoans: pending,
		})
	}

	ok, err := h.repo.CancelOpenLoansConfirmed(r.Context(), name, store.ConfirmFunc(confirmFn))
	if err != nil {
		slog.Warn("Confirmed cancellation not completed", "error", err, "name", name)
		JSON(w, http.StatusOK, map[string]interface{}{"cancelled": false})
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"cancelled": ok})
}
