package interpreter

import (
	"context"
	"testing"

	"github.com/ashureev/metalbank/internal/domain"
)

func TestHeuristicAnalyzeIntents(t *testing.T) {
	t.Parallel()

	h := Heuristic{}
	tests := []struct {
		message string
		want    domain.Intent
	}{
		{"House Stark requires a loan of 5000 dragons", domain.IntentBanking},
		{"what of my repayment schedule", domain.IntentBanking},
		{"I need an assassin for a delicate matter", domain.IntentClandestine},
		{"arrange a small accident", domain.IntentClandestine},
		{"what is the weather like today", domain.IntentUnrelated},
		{"", domain.IntentUnrelated},
	}

	for _, tt := range tests {
		if got := h.Analyze(context.Background(), tt.message).Intent; got != tt.want {
			t.Errorf("Analyze(%q).Intent = %v, want %v", tt.message, got, tt.want)
		}
	}
}

func TestHeuristicAnalyzeExtractsEntityAndAmount(t *testing.T) {
	t.Parallel()

	h := Heuristic{}
	a := h.Analyze(context.Background(), "House Stark requires a loan of 5,000 dragons")

	if a.Operation != OpQuote {
		t.Errorf("expected OpQuote, got %v", a.Operation)
	}
	if a.EntityName != "stark" {
		t.Errorf("expected bare lower-cased name, got %q", a.EntityName)
	}
	if a.Amount == nil || *a.Amount != 5000 {
		t.Errorf("expected amount 5000, got %v", a.Amount)
	}
}

func TestHeuristicAnalyzeStripsTitles(t *testing.T) {
	t.Parallel()

	h := Heuristic{}
	tests := []struct {
		message string
		want    string
	}{
		{"I am Lord Baelish and I want a loan", "baelish"},
		{"the city of Pentos seeks to borrow coin", "pentos"},
		{"my name is Mormont, about my debt", "mormont"},
	}

	for _, tt := range tests {
		if got := h.Analyze(context.Background(), tt.message).EntityName; got != tt.want {
			t.Errorf("Analyze(%q).EntityName = %q, want %q", tt.message, got, tt.want)
		}
	}
}

func TestHeuristicAnalyzeOperations(t *testing.T) {
	t.Parallel()

	h := Heuristic{}
	tests := []struct {
		message string
		want    Operation
	}{
		{"cancel my loans", OpCancel},
		{"I wish to repay 200 dragons on loan #3", OpRepay},
		{"show my loans", OpList},
		{"I accept the offered rate", OpCreate},
		{"what rate would the bank offer", OpQuote},
	}

	for _, tt := range tests {
		if got := h.Analyze(context.Background(), tt.message).Operation; got != tt.want {
			t.Errorf("Analyze(%q).Operation = %v, want %v", tt.message, got, tt.want)
		}
	}
}

func TestHeuristicLoanIDNotMistakenForAmount(t *testing.T) {
	t.Parallel()

	h := Heuristic{}
	a := h.Analyze(context.Background(), "repay loan #3")
	if a.LoanID == nil || *a.LoanID != 3 {
		t.Fatalf("expected loan id 3, got %v", a.LoanID)
	}
	if a.Amount != nil {
		t.Errorf("loan reference must not be read as an amount, got %v", *a.Amount)
	}
}

func TestHeuristicNarrateUsesFallback(t *testing.T) {
	t.Parallel()

	h := Heuristic{}
	got := h.Narrate(context.Background(), NarrateRequest{
		Instruction: "present the offer",
		Fallback:    "The Bank offers 28.00 percent.",
	})
	if got != "The Bank offers 28.00 percent." {
		t.Errorf("expected fallback text, got %q", got)
	}
}
