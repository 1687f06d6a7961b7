package workflow

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func testBroker(t *testing.T, timeout time.Duration) *Broker {
	t.Helper()
	return NewBroker(timeout, slog.Default())
}

func TestBrokerAcceptAuthorizes(t *testing.T) {
	t.Parallel()
	b := testBroker(t, time.Minute)

	done := make(chan struct{})
	var ok bool
	var err error
	go func() {
		defer close(done)
		ok, err = b.Confirm(context.Background(), Prompt{UserID: "u1", PendingLoans: 2})
	}()

	id := waitForPending(t, b)
	if !b.Resolve(id, ActionAccept) {
		t.Fatal("Resolve returned false for a live confirmation")
	}
	<-done

	if err != nil {
		t.Fatalf("Confirm returned error: %v", err)
	}
	if !ok {
		t.Fatal("accept should authorize")
	}
}

func TestBrokerDeclineDenies(t *testing.T) {
	t.Parallel()
	b := testBroker(t, time.Minute)

	done := make(chan struct{})
	var ok bool
	var err error
	go func() {
		defer close(done)
		ok, err = b.Confirm(context.Background(), Prompt{UserID: "u1"})
	}()

	id := waitForPending(t, b)
	b.Resolve(id, ActionDecline)
	<-done

	if err != nil {
		t.Fatalf("decline is not an error, got: %v", err)
	}
	if ok {
		t.Fatal("decline must not authorize")
	}
}

func TestBrokerErrorActionDenies(t *testing.T) {
	t.Parallel()
	b := testBroker(t, time.Minute)

	done := make(chan struct{})
	var ok bool
	var err error
	go func() {
		defer close(done)
		ok, err = b.Confirm(context.Background(), Prompt{UserID: "u1"})
	}()

	id := waitForPending(t, b)
	b.Resolve(id, ActionError)
	<-done

	if ok {
		t.Fatal("error action must not authorize")
	}
	if !errors.Is(err, ErrConfirmationFailed) {
		t.Fatalf("want ErrConfirmationFailed, got %v", err)
	}
}

func TestBrokerTimeoutDenies(t *testing.T) {
	t.Parallel()
	b := testBroker(t, 30*time.Millisecond)

	ok, err := b.Confirm(context.Background(), Prompt{UserID: "u1"})
	if ok {
		t.Fatal("timeout must not authorize")
	}
	if !errors.Is(err, ErrConfirmationTimeout) {
		t.Fatalf("want ErrConfirmationTimeout, got %v", err)
	}
	if got := len(b.Pending()); got != 0 {
		t.Fatalf("timed-out confirmation still pending: %d", got)
	}
}

func TestBrokerContextCancelDenies(t *testing.T) {
	t.Parallel()
	b := testBroker(t, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var ok bool
	var err error
	go func() {
		defer close(done)
		ok, err = b.Confirm(ctx, Prompt{UserID: "u1"})
	}()

	waitForPending(t, b)
	cancel()
	<-done

	if ok {
		t.Fatal("cancellation must not authorize")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestBrokerResolveUnknownID(t *testing.T) {
	t.Parallel()
	b := testBroker(t, time.Minute)
	if b.Resolve("no-such-id", ActionAccept) {
		t.Fatal("Resolve of an unknown id must return false")
	}
}

func TestBrokerPendingView(t *testing.T) {
	t.Parallel()
	b := testBroker(t, time.Minute)

	go b.Confirm(context.Background(), Prompt{ //nolint:errcheck
		UserID:       "u1",
		SessionID:    "s1",
		Message:      "strike the records?",
		PendingLoans: 3,
	})

	id := waitForPending(t, b)
	views := b.Pending()
	if len(views) != 1 {
		t.Fatalf("want 1 pending, got %d", len(views))
	}
	v := views[0]
	if v.ID != id || v.UserID != "u1" || v.SessionID != "s1" || v.PendingLoans != 3 {
		t.Fatalf("unexpected pending view: %+v", v)
	}

	b.Resolve(id, ActionDecline)
}

// waitForPending polls until exactly one confirmation is suspended and
// returns its id.
func waitForPending(t *testing.T, b *Broker) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if views := b.Pending(); len(views) == 1 {
			return views[0].ID
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no confirmation became pending")
	return ""
}
