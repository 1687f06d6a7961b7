package interpreter

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/ashureev/metalbank/internal/domain"
)

// Heuristic is a deterministic Interpreter used when no model is
// configured and as the degradation path for the model-backed client.
// Keyword and pattern matching only.
type Heuristic struct{}

var (
	// "House Stark", "Lord Baelish", "the city of Pentos" -> bare name.
	entityPattern = regexp.MustCompile(`(?i)\b(?:house|lord|lady|ser|king|queen|city of)\s+([A-Za-z][A-Za-z'-]+)`)
	// "I am Stark", "this is Stark of Winterfell".
	selfPattern   = regexp.MustCompile(`(?i)\b(?:i am|my name is|this is)\s+(?:house\s+|lord\s+|lady\s+|ser\s+)?([A-Za-z][A-Za-z'-]+)`)
	amountPattern = regexp.MustCompile(`(?i)\b([0-9][0-9,]*(?:\.[0-9]+)?)\s*(?:dragons?|gold)?\b`)
	loanIDPattern = regexp.MustCompile(`(?i)\bloan\s*(?:#|no\.?|number)?\s*([0-9]+)\b`)
)

var clandestineTerms = []string{
	"assassin", "kill", "murder", "special services",
	"clandestine", "secret task", "faceless", "men without faces", "accident",
}

var bankingTerms = []string{
	"loan", "borrow", "repay", "repayment", "debt", "interest", "rate",
	"account", "ledger", "coin", "dragons", "bank", "owe",
	"hello", "greetings", "good day",
}

// Analyze classifies and extracts with fixed patterns. Never fails;
// unparseable input reads as unrelated.
func (Heuristic) Analyze(_ context.Context, message string) Analysis {
	m := strings.ToLower(message)

	analysis := Analysis{Intent: domain.IntentUnrelated, Operation: OpGeneral}

	for _, term := range clandestineTerms {
		if strings.Contains(m, term) {
			analysis.Intent = domain.IntentClandestine
			return analysis
		}
	}
	for _, term := range bankingTerms {
		if strings.Contains(m, term) {
			analysis.Intent = domain.IntentBanking
			break
		}
	}
	if analysis.Intent != domain.IntentBanking {
		return analysis
	}

	analysis.Operation = classifyOperation(m)
	analysis.EntityName = extractEntity(message)

	if match := loanIDPattern.FindStringSubmatch(message); match != nil {
		if id, err := strconv.ParseInt(match[1], 10, 64); err == nil && id > 0 {
			analysis.LoanID = &id
		}
	}
	if match := amountPattern.FindStringSubmatch(stripLoanRefs(message)); match != nil {
		if amount, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", ""), 64); err == nil && amount > 0 {
			analysis.Amount = &amount
		}
	}
	return analysis
}

func classifyOperation(m string) Operation {
	switch {
	case strings.Contains(m, "cancel") || strings.Contains(m, "annul"):
		return OpCancel
	case strings.Contains(m, "repay") || strings.Contains(m, "pay back") || strings.Contains(m, "payment"):
		return OpRepay
	case strings.Contains(m, "show") || strings.Contains(m, "list") || strings.Contains(m, "my loans") || strings.Contains(m, "what do i owe"):
		return OpList
	case strings.Contains(m, "accept") || strings.Contains(m, "agree") || strings.Contains(m, "take the loan") || strings.Contains(m, "create"):
		return OpCreate
	case strings.Contains(m, "loan") || strings.Contains(m, "borrow") || strings.Contains(m, "rate") || strings.Contains(m, "interest"):
		return OpQuote
	default:
		return OpGeneral
	}
}

func extractEntity(message string) string {
	if match := entityPattern.FindStringSubmatch(message); match != nil {
		return domain.NormalizeEntityName(match[1])
	}
	if match := selfPattern.FindStringSubmatch(message); match != nil {
		return domain.NormalizeEntityName(match[1])
	}
	return ""
}

// stripLoanRefs removes "loan #3" style references so their numbers are
// not misread as amounts.
func stripLoanRefs(message string) string {
	return loanIDPattern.ReplaceAllString(message, "")
}

// Narrate returns the fallback text; the heuristic produces no prose of
// its own.
func (Heuristic) Narrate(_ context.Context, req NarrateRequest) string {
	return req.Fallback
}
