package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/metalbank/internal/gate"
	"github.com/ashureev/metalbank/internal/identity"
	"github.com/ashureev/metalbank/internal/interpreter"
	"github.com/ashureev/metalbank/internal/risk"
	"github.com/ashureev/metalbank/internal/store"
	"github.com/ashureev/metalbank/internal/workflow"
)

func newTestServer(t *testing.T) (*httptest.Server, *workflow.Broker) {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store init failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	interp := &interpreter.Heuristic{}
	g := gate.New("", workflow.IntentClassifier{Interp: interp})
	broker := workflow.NewBroker(time.Minute, slog.Default())
	coord := workflow.NewCoordinator(repo, g, interp, &risk.Static{}, nil, broker, slog.Default())

	base := NewHandler(repo, "")
	conv := NewConversationHandler(base, coord, broker, nil)
	loans := NewLoanHandler(base, broker)
	health := NewHealthHandler(repo)

	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	health.RegisterHealth(r)
	conv.RegisterRoutes(r)
	loans.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, broker
}

func postJSON(t *testing.T, client *http.Client, url string, body interface{}, cookies []*http.Cookie) (*http.Response, map[string]interface{}) {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

func TestTurnEndpointQuotesRate(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	resp, out := postJSON(t, srv.Client(), srv.URL+"/api/conversation/turn",
		map[string]string{"message": "House Stark requires a loan of 5,000 dragons"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %v", resp.StatusCode, out)
	}

	reply, _ := out["reply"].(string)
	if !strings.Contains(reply, "66.25") {
		t.Fatalf("reply must state the offered rate, got %q", reply)
	}
	if out["turn_id"] == "" {
		t.Fatal("missing turn id")
	}
}

func TestTurnEndpointCarriesSessionAcrossRequests(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	resp, _ := postJSON(t, srv.Client(), srv.URL+"/api/conversation/turn",
		map[string]string{"message": "House Stark requires a loan"}, nil)
	cookies := resp.Cookies()
	if len(cookies) == 0 {
		t.Fatal("expected anonymous identity cookie")
	}

	resp2, out := postJSON(t, srv.Client(), srv.URL+"/api/conversation/turn",
		map[string]string{"message": "I accept the offered rate"}, cookies)
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %v", resp2.StatusCode, out)
	}
	reply, _ := out["reply"].(string)
	if !strings.Contains(reply, "loan 1") {
		t.Fatalf("second turn must create against the quoted rate, got %q", reply)
	}
}

func TestTurnEndpointRejectsEmptyMessage(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	resp, _ := postJSON(t, srv.Client(), srv.URL+"/api/conversation/turn",
		map[string]string{"message": "   "}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", resp.StatusCode)
	}
}

func TestResolveUnknownConfirmation(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	resp, _ := postJSON(t, srv.Client(), srv.URL+"/api/confirmations/nope",
		map[string]string{"action": "accept"}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("want 404, got %d", resp.StatusCode)
	}
}

func TestLoanEndpointsCreateAndList(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	resp, out := postJSON(t, srv.Client(), srv.URL+"/api/loans/",
		map[string]interface{}{"name": "Bolton", "interest_rate_percent": 44.5}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %v", resp.StatusCode, out)
	}

	listResp, err := srv.Client().Get(srv.URL + "/api/loans/?name=bolton")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	defer listResp.Body.Close()

	var listOut struct {
		Loans []struct {
			Name   string  `json:"name"`
			Amount float64 `json:"amount"`
			Open   bool    `json:"loan_open"`
		} `json:"loans"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&listOut); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listOut.Loans) != 1 {
		t.Fatalf("want 1 loan, got %d", len(listOut.Loans))
	}
	l := listOut.Loans[0]
	if l.Name != "bolton" || l.Amount != 1000 || !l.Open {
		t.Fatalf("unexpected loan: %+v", l)
	}
}

func TestConfirmedCancelOverRESTRoundTrip(t *testing.T) {
	t.Parallel()
	srv, broker := newTestServer(t)

	if resp, out := postJSON(t, srv.Client(), srv.URL+"/api/loans/",
		map[string]interface{}{"name": "frey", "interest_rate_percent": 30}, nil); resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %v", resp.StatusCode, out)
	}

	type cancelResult struct {
		status int
		body   map[string]interface{}
	}
	done := make(chan cancelResult, 1)
	go func() {
		resp, err := srv.Client().Post(srv.URL+"/api/loans/frey/cancel", "application/json", strings.NewReader("{}"))
		if err != nil {
			done <- cancelResult{status: -1}
			return
		}
		defer resp.Body.Close()
		var out map[string]interface{}
		_ = json.NewDecoder(resp.Body).Decode(&out)
		done <- cancelResult{status: resp.StatusCode, body: out}
	}()

	// The cancel request suspends until this confirmation is resolved.
	var pending []workflow.PendingConfirmation
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pending = broker.Pending(); len(pending) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(pending) != 1 {
		t.Fatal("no confirmation became pending")
	}
	if resp, _ := postJSON(t, srv.Client(), srv.URL+"/api/confirmations/"+pending[0].ID,
		map[string]string{"action": "accept"}, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve status %d", resp.StatusCode)
	}

	result := <-done
	if result.status != http.StatusOK {
		t.Fatalf("cancel status %d", result.status)
	}
	if cancelled, _ := result.body["cancelled"].(bool); !cancelled {
		t.Fatalf("cancel must succeed after accept: %v", result.body)
	}
}
