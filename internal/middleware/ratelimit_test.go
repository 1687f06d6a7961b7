package middleware

import (
	"testing"
	"time"
)

func TestKeyLimiterBurstThenThrottle(t *testing.T) {
	t.Parallel()

	l := NewKeyLimiter(60, 3)
	now := time.Now()

	for i := 0; i < 3; i++ {
		if !l.Allow("user-a", now) {
			t.Fatalf("request %d within burst must be allowed", i+1)
		}
	}
	if l.Allow("user-a", now) {
		t.Fatal("request beyond burst must be rejected")
	}
	if !l.Allow("user-b", now) {
		t.Fatal("a different key must have its own bucket")
	}
}

func TestKeyLimiterRefills(t *testing.T) {
	t.Parallel()

	l := NewKeyLimiter(60, 1)
	now := time.Now()

	if !l.Allow("user-a", now) {
		t.Fatal("first request must pass")
	}
	if l.Allow("user-a", now) {
		t.Fatal("second immediate request must be throttled")
	}
	// 60/min refills one token per second.
	if !l.Allow("user-a", now.Add(1100*time.Millisecond)) {
		t.Fatal("token must refill after a second")
	}
}

func TestNilLimiterAllowsEverything(t *testing.T) {
	t.Parallel()

	var l *KeyLimiter
	if !l.Allow("anyone", time.Now()) {
		t.Fatal("nil limiter must allow")
	}
	if NewKeyLimiter(0, 5) != nil {
		t.Fatal("invalid args must yield a nil limiter")
	}
	if !l.Allow("", time.Now()) {
		t.Fatal("empty key must be allowed")
	}
}
