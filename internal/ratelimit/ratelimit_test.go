package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinBurst(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 5, CleanupInterval: time.Hour})
	defer l.Stop()

	for i := 0; i < 5; i++ {
		if !l.Allow("client-a") {
			t.Fatalf("request %d within burst should be allowed", i+1)
		}
	}
	if l.Allow("client-a") {
		t.Fatal("request beyond burst should be rejected")
	}
}

func TestAllowIndependentClients(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Hour})
	defer l.Stop()

	if !l.Allow("client-a") {
		t.Fatal("first request for client-a should be allowed")
	}
	if !l.Allow("client-b") {
		t.Fatal("client-b should not be affected by client-a's bucket")
	}
	if l.Allow("client-a") {
		t.Fatal("second immediate request for client-a should be rejected")
	}
}

func TestTokensRefill(t *testing.T) {
	l := New(Config{RequestsPerMinute: 6000, BurstSize: 1, CleanupInterval: time.Hour})
	defer l.Stop()

	if !l.Allow("client-a") {
		t.Fatal("first request should be allowed")
	}
	if l.Allow("client-a") {
		t.Fatal("bucket should be empty immediately after")
	}

	// 100 tokens/sec refill rate, so 50ms restores a full token.
	time.Sleep(50 * time.Millisecond)
	if !l.Allow("client-a") {
		t.Fatal("bucket should have refilled after waiting")
	}
}
