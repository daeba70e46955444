package ratelimit

import (
	"testing"
	"time"
)

func TestAllow_PerKeyBurst(t *testing.T) {
	b := New(0.0001, 2)
	if !b.Allow("u1") || !b.Allow("u1") {
		t.Fatalf("burst of 2 should be allowed")
	}
	if b.Allow("u1") {
		t.Fatalf("third call should be limited")
	}
	if !b.Allow("u2") {
		t.Fatalf("other keys have their own bucket")
	}
}

func TestNew_CoercesBurst(t *testing.T) {
	b := New(0.0001, 0)
	if !b.Allow("k") {
		t.Fatalf("burst coerced to 1 should allow one call")
	}
	if b.Allow("k") {
		t.Fatalf("second call should be limited")
	}
}

func TestIdleKeysEvicted(t *testing.T) {
	b := New(1, 1).WithIdleTTL(time.Minute)
	clock := time.Now()
	b.now = func() time.Time { return clock }

	b.Allow("idle")
	clock = clock.Add(2 * time.Minute)
	for i := 0; i < gcEvery; i++ {
		b.Allow("busy")
	}
	if b.Len() != 1 {
		t.Fatalf("expected idle key evicted, have %d keys", b.Len())
	}
}
