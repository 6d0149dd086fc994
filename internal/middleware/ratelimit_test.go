package middleware

import (
	"testing"
	"time"
)

func TestRateLimiter_AllowAndDeny(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := now
	rl := NewRateLimiterWithNow(2, time.Minute, func() time.Time { return clock })

	if !rl.Allow("ip") {
		t.Fatalf("expected allow")
	}
	if !rl.Allow("ip") {
		t.Fatalf("expected allow")
	}
	if rl.Allow("ip") {
		t.Fatalf("expected deny")
	}

	clock = clock.Add(time.Minute + time.Second)
	if !rl.Allow("ip") {
		t.Fatalf("expected allow after window")
	}
}

func TestRateLimiter_ForgetAndStop(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiterWithNow(1, time.Second, func() time.Time { return clock })
	defer rl.Stop()

	if !rl.Allow("c1") || rl.Allow("c1") {
		t.Fatalf("expected one admission per window")
	}
	if !rl.Allow("c2") {
		t.Fatalf("keys must be independent")
	}
	rl.Forget("c1")
	if !rl.Allow("c1") {
		t.Fatalf("expected allow after Forget")
	}
	rl.ForgetAll()
	if !rl.Allow("c1") || !rl.Allow("c2") {
		t.Fatalf("expected allow after ForgetAll")
	}

	rl.Stop()
	rl.Stop()
}
