package worker

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_New(t *testing.T) {
	limiter := NewLimiter(10, 5)
	if limiter.defaultBurst != 5 {
		t.Errorf("expected burst 5, got %d", limiter.defaultBurst)
	}

	l2 := NewLimiter(10, -1)
	if l2.defaultBurst != 5 {
		t.Errorf("expected default burst 5 for negative input, got %d", l2.defaultBurst)
	}
}

func TestLimiter_Unlimited(t *testing.T) {
	limiter := NewLimiter(0, 1)
	for i := 0; i < 100; i++ {
		if !limiter.Allow("lexicon") {
			t.Fatalf("expected unlimited limiter to allow request %d", i)
		}
	}
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(100, 1)
	ctx := context.Background()

	if err := limiter.Wait(ctx, "api.openai.com"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
	if err := limiter.Wait(ctx, "localhost:11434"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
}

func TestLimiter_WaitWithDelay(t *testing.T) {
	limiter := NewLimiter(100, 1)

	start := time.Now()
	if err := limiter.WaitWithDelay(context.Background(), "api.anthropic.com", 50*time.Millisecond); err != nil {
		t.Fatalf("WaitWithDelay failed: %v", err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Errorf("expected delay >= 50ms, got %v", time.Since(start))
	}
}

func TestLimiter_RateLimit(t *testing.T) {
	limiter := NewLimiter(1, 1)
	key := "api.openai.com"

	if err := limiter.Wait(context.Background(), key); err != nil {
		t.Errorf("first wait failed: %v", err)
	}
	if limiter.Allow(key) {
		t.Errorf("expected allow to fail (exhausted tokens)")
	}
	if !limiter.Allow("api.anthropic.com") {
		t.Errorf("expected allow for other endpoint")
	}
}

func TestLimiter_SetRate(t *testing.T) {
	limiter := NewLimiter(10, 10)
	limiter.SetRate("slow-member", 0.1, 1)

	if !limiter.Allow("slow-member") {
		t.Errorf("first request should pass")
	}
	if limiter.Allow("slow-member") {
		t.Errorf("second request should fail")
	}
	if !limiter.Allow("fast-member") {
		t.Errorf("other member should pass")
	}
}

func TestLimiter_WaitCancelled(t *testing.T) {
	limiter := NewLimiter(0.01, 1)
	limiter.Allow("m")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(ctx, "m"); err == nil {
		t.Error("expected wait to fail when context expires")
	}
}

func TestKeyFor(t *testing.T) {
	tests := []struct {
		member, baseURL, want string
	}{
		{"gpt-a", "https://api.openai.com/v1", "api.openai.com"},
		{"llama", "http://localhost:11434", "localhost:11434"},
		{"lexicon", "", "lexicon"},
		{"weird", "::invalid", "weird"},
	}
	for _, tt := range tests {
		if got := KeyFor(tt.member, tt.baseURL); got != tt.want {
			t.Errorf("KeyFor(%q, %q) = %q, want %q", tt.member, tt.baseURL, got, tt.want)
		}
	}
}
