package delegate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/metalbank/internal/domain"
)

func testSession() *domain.Session {
	s := &domain.Session{
		App:       domain.DefaultAppName,
		UserID:    "u1",
		SessionID: "s1",
	}
	for i := 0; i < 15; i++ {
		s.RecordMessage("user", "earlier turn")
	}
	return s
}

func TestCommissionForwardsMessageAndBoundedHistory(t *testing.T) {
	t.Parallel()

	var got commissionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tools/arrange_discreet_service" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(commissionResponse{Reply: "a man hears"}) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, nil)
	reply, err := c.Commission(context.Background(), "I seek a name.", testSession())
	if err != nil {
		t.Fatalf("Commission failed: %v", err)
	}
	if reply != "a man hears" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if got.Message != "I seek a name." {
		t.Fatalf("message not forwarded: %q", got.Message)
	}
	if got.UserID != "u1" || got.SessionID != "s1" {
		t.Fatalf("session identity not forwarded: %+v", got)
	}
	if len(got.History) != 10 {
		t.Fatalf("history must be bounded to 10 entries, got %d", len(got.History))
	}
}

func TestCommissionUnreachableIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	_, err := c.Commission(context.Background(), "hello", testSession())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}

func TestCommissionErrorStatusIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	if _, err := c.Commission(context.Background(), "hello", testSession()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}

func TestCommissionServiceErrorFieldIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(commissionResponse{Error: "no one is available"}) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	if _, err := c.Commission(context.Background(), "hello", testSession()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}
