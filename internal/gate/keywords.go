package gate

import (
	"context"
	"strings"

	"github.com/ashureev/metalbank/internal/domain"
)

// KeywordClassifier is a lightweight fallback classifier used when the
// interpreter is unavailable. Substring matching only; no NL accuracy is
// promised beyond the obvious cases.
type KeywordClassifier struct{}

var bankingKeywords = []string{
	"loan", "borrow", "repay", "repayment", "debt", "interest",
	"account", "ledger", "coin", "dragons", "bank",
	"hello", "greetings", "good day",
}

var clandestineKeywords = []string{
	"assassin", "assassination", "kill", "murder",
	"special services", "clandestine", "secret task",
	"faceless", "men without faces", "accident",
}

// Classify maps a message to an intent by keyword matching. Clandestine
// keywords win over banking ones so a request mixing both is denied rather
// than routed into the workflow.
func (KeywordClassifier) Classify(_ context.Context, message string) domain.Intent {
	m := strings.ToLower(message)
	for _, kw := range clandestineKeywords {
		if strings.Contains(m, kw) {
			return domain.IntentClandestine
		}
	}
	for _, kw := range bankingKeywords {
		if strings.Contains(m, kw) {
			return domain.IntentBanking
		}
	}
	return domain.IntentUnrelated
}
