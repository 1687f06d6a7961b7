package risk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLookupReturnsProfile(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tools/get_entity_stats" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["entity_name"] != "stark" {
			t.Errorf("expected normalized entity name, got %q", req["entity_name"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"entity_name": "stark",
			"war_risk":    0.7,
			"reputation":  0.4,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	profile, err := c.Lookup(context.Background(), "  Stark ")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if profile.WarRisk != 0.7 || profile.Reputation != 0.4 {
		t.Errorf("unexpected profile: %+v", profile)
	}
}

func TestLookupUnknownEntityFallsBackToDefault(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	profile, err := c.Lookup(context.Background(), "essosi-stranger")
	if err != nil {
		t.Fatalf("unknown entity must not be an error, got %v", err)
	}
	if profile.WarRisk != 0.5 || profile.Reputation != 0.0 {
		t.Errorf("expected default profile, got %+v", profile)
	}
}

func TestLookupUnreachableServiceIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // shut down immediately so the dial fails

	c := NewClient(srv.URL, 200*time.Millisecond, nil)
	_, err := c.Lookup(context.Background(), "stark")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestLookupServerErrorIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	_, err := c.Lookup(context.Background(), "stark")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestStaticLookup(t *testing.T) {
	t.Parallel()

	s := &Static{}
	profile, err := s.Lookup(context.Background(), "Unknown House")
	if err != nil {
		t.Fatalf("Static lookup failed: %v", err)
	}
	if profile.WarRisk != 0.5 || profile.Reputation != 0.0 {
		t.Errorf("expected default profile, got %+v", profile)
	}
}
