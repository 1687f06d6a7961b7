// Package gate implements the per-turn routing state machine that decides
// which downstream path handles an inbound message.
package gate

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ashureev/metalbank/internal/domain"
)

// DefaultPassphrase unlocks the clandestine path. Compared case-insensitively
// as a substring of the raw inbound message, never against interpreter output.
const DefaultPassphrase = "valar morghulis"

// Path selects the downstream handler for a turn.
type Path int

const (
	// PathSilent delegates to the clandestine service. The caller must
	// suppress every other generated output for the turn: any greeting or
	// acknowledgment leaks the service's existence.
	PathSilent Path = iota
	// PathStandard routes to the banking workflow.
	PathStandard
	// PathRefuse declines the request.
	PathRefuse
)

// Refusal reasons. GenericDenial deliberately matches the response given
// for any clandestine inquiry made without the passphrase, so a refusal
// cannot be used to probe for the service.
const (
	ReasonGenericDenial = "generic-denial"
	ReasonOutOfDomain   = "out-of-domain"
)

// Decision is the gate's verdict for one turn.
type Decision struct {
	Path   Path
	Reason string // set only for PathRefuse
}

// Classifier produces the three-way intent for a message. Implementations
// may call out to the interpreter; classification failures must degrade to
// IntentUnrelated rather than error.
type Classifier interface {
	Classify(ctx context.Context, message string) domain.Intent
}

// Gate routes inbound messages. It is the sole writer of the session's
// secret-discovery flag.
type Gate struct {
	passphrase string
	classifier Classifier
}

// New creates a gate with the given passphrase and classifier. An empty
// passphrase falls back to the default, a nil classifier to keyword
// matching.
func New(passphrase string, classifier Classifier) *Gate {
	if passphrase == "" {
		passphrase = DefaultPassphrase
	}
	if classifier == nil {
		classifier = KeywordClassifier{}
	}
	return &Gate{
		passphrase: strings.ToLower(passphrase),
		classifier: classifier,
	}
}

// Route decides the path for one inbound message, in priority order:
// an already-discovered session stays silent; a passphrase match sets the
// one-way flag and goes silent; banking intent goes to the workflow;
// clandestine inquiries without the passphrase get the generic denial;
// everything else is out of domain. Route never fails: malformed or empty
// input is treated as unrelated.
func (g *Gate) Route(ctx context.Context, message string, session *domain.Session) Decision {
	if session.SecretDiscovered {
		return Decision{Path: PathSilent}
	}

	if g.matchesPassphrase(message) {
		// The only place the flag is ever set. Re-matching when already
		// discovered is handled above and is a no-op, not an error.
		session.MarkSecretDiscovered()
		slog.Info("passphrase observed, session unlocked",
			"user_id", session.UserID,
			"session_id", session.SessionID,
		)
		return Decision{Path: PathSilent}
	}

	switch g.classify(ctx, message) {
	case domain.IntentBanking:
		return Decision{Path: PathStandard}
	case domain.IntentClandestine:
		return Decision{Path: PathRefuse, Reason: ReasonGenericDenial}
	default:
		return Decision{Path: PathRefuse, Reason: ReasonOutOfDomain}
	}
}

func (g *Gate) matchesPassphrase(message string) bool {
	if message == "" {
		return false
	}
	return strings.Contains(strings.ToLower(message), g.passphrase)
}

func (g *Gate) classify(ctx context.Context, message string) domain.Intent {
	if strings.TrimSpace(message) == "" || g.classifier == nil {
		return domain.IntentUnrelated
	}
	return g.classifier.Classify(ctx, message)
}
