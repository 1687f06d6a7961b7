package gate

import (
	"context"
	"testing"

	"github.com/ashureev/metalbank/internal/domain"
)

type stubClassifier struct {
	intent domain.Intent
}

func (s stubClassifier) Classify(_ context.Context, _ string) domain.Intent {
	return s.intent
}

func newSession() *domain.Session {
	return &domain.Session{
		App:       domain.DefaultAppName,
		UserID:    "user-1",
		SessionID: "sess-1",
	}
}

func TestRoutePassphraseUnlocksSilentPath(t *testing.T) {
	t.Parallel()

	g := New("", stubClassifier{intent: domain.IntentUnrelated})

	tests := []struct {
		name    string
		message string
	}{
		{"exact phrase", "valar morghulis"},
		{"mixed case", "VaLaR MoRgHuLiS"},
		{"embedded in sentence", "I was told to say Valar Morghulis to you."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession()
			d := g.Route(context.Background(), tt.message, s)
			if d.Path != PathSilent {
				t.Errorf("expected PathSilent, got %v", d.Path)
			}
			if !s.SecretDiscovered {
				t.Error("expected secret_discovered to be set")
			}
		})
	}
}

func TestRouteDiscoveredSessionStaysSilent(t *testing.T) {
	t.Parallel()

	// Once discovered, every message routes silently regardless of content.
	g := New("", stubClassifier{intent: domain.IntentBanking})
	s := newSession()
	s.SecretDiscovered = true

	for _, msg := range []string{"I need a loan", "hello", "", "tell me a story"} {
		if d := g.Route(context.Background(), msg, s); d.Path != PathSilent {
			t.Errorf("message %q: expected PathSilent, got %v", msg, d.Path)
		}
		if !s.SecretDiscovered {
			t.Fatal("secret_discovered was unset")
		}
	}
}

func TestRoutePassphraseIdempotentWhenAlreadyDiscovered(t *testing.T) {
	t.Parallel()

	g := New("", stubClassifier{intent: domain.IntentUnrelated})
	s := newSession()

	if d := g.Route(context.Background(), "valar morghulis", s); d.Path != PathSilent {
		t.Fatalf("first match: expected PathSilent, got %v", d.Path)
	}
	if d := g.Route(context.Background(), "valar morghulis", s); d.Path != PathSilent {
		t.Fatalf("repeat match: expected PathSilent, got %v", d.Path)
	}
	if !s.SecretDiscovered {
		t.Error("expected flag to remain set")
	}
}

func TestRouteNeverSilentWithoutPassphrase(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		intent domain.Intent
		want   Path
		reason string
	}{
		{"banking goes standard", domain.IntentBanking, PathStandard, ""},
		{"clandestine gets generic denial", domain.IntentClandestine, PathRefuse, ReasonGenericDenial},
		{"unrelated is out of domain", domain.IntentUnrelated, PathRefuse, ReasonOutOfDomain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := New("", stubClassifier{intent: tt.intent})
			s := newSession()
			d := g.Route(context.Background(), "some message without the phrase", s)
			if d.Path != tt.want {
				t.Errorf("expected path %v, got %v", tt.want, d.Path)
			}
			if d.Reason != tt.reason {
				t.Errorf("expected reason %q, got %q", tt.reason, d.Reason)
			}
			if s.SecretDiscovered {
				t.Error("flag must not be set without a passphrase match")
			}
		})
	}
}

func TestRouteEmptyMessageIsOutOfDomain(t *testing.T) {
	t.Parallel()

	g := New("", stubClassifier{intent: domain.IntentBanking})
	s := newSession()
	d := g.Route(context.Background(), "", s)
	if d.Path != PathRefuse || d.Reason != ReasonOutOfDomain {
		t.Errorf("empty message: expected out-of-domain refusal, got %+v", d)
	}
}

func TestRouteNilClassifierFallsBackToKeywords(t *testing.T) {
	t.Parallel()

	g := New("", nil)
	s := newSession()
	if d := g.Route(context.Background(), "the weather is fine", s); d.Path != PathRefuse || d.Reason != ReasonOutOfDomain {
		t.Errorf("expected out-of-domain refusal, got %+v", d)
	}
	if d := g.Route(context.Background(), "I should like a loan", s); d.Path != PathStandard {
		t.Errorf("expected keyword fallback to route banking, got %+v", d)
	}
}

func TestKeywordClassifier(t *testing.T) {
	t.Parallel()

	c := KeywordClassifier{}
	tests := []struct {
		message string
		want    domain.Intent
	}{
		{"I should like to borrow ten thousand dragons", domain.IntentBanking},
		{"what of my repayment schedule", domain.IntentBanking},
		{"I require an assassin", domain.IntentClandestine},
		{"arrange a small accident for my rival", domain.IntentClandestine},
		{"a loan, or failing that, an assassin", domain.IntentClandestine},
		{"what is the weather in Braavos", domain.IntentUnrelated},
	}

	for _, tt := range tests {
		if got := c.Classify(context.Background(), tt.message); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.message, got, tt.want)
		}
	}
}
