package util

import (
	"context"
	"testing"
	"time"
)

func TestLimiter(t *testing.T) {
	l := NewLimiter(10, 2)

	if !l.Allow() {
		t.Error("expected first token to be allowed")
	}
	if !l.Allow() {
		t.Error("expected second token to be allowed (burst)")
	}
	if l.Allow() {
		t.Error("expected third token to be rejected (burst exhausted)")
	}

	time.Sleep(150 * time.Millisecond)
	if !l.Allow() {
		t.Error("expected token to be refilled after wait")
	}
}

func TestLimiter_Delay(t *testing.T) {
	l := NewLimiter(1, 1)
	if d := l.Delay(); d != 0 {
		t.Fatalf("expected the burst token immediately, got %v", d)
	}
	if d := l.Delay(); d <= 0 {
		t.Fatalf("expected a positive delay once the burst is spent, got %v", d)
	}
}

func TestLimiter_WaitHonoursContext(t *testing.T) {
	l := NewLimiter(0.1, 1)
	l.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("expected Wait to fail when the next token is beyond the deadline")
	}
}

func TestLimiterRegistry(t *testing.T) {
	reg := NewLimiterRegistry(100, 10, 100*time.Millisecond)
	defer reg.Close()

	l1 := reg.Get("snapshots/a.json")
	l2 := reg.Get("snapshots/b.json")
	if l1 == l2 {
		t.Error("expected different limiters for different keys")
	}
	if reg.Get("snapshots/a.json") != l1 {
		t.Error("expected same limiter for same key")
	}

	time.Sleep(250 * time.Millisecond)
	if reg.Get("snapshots/a.json") == l1 {
		t.Error("expected idle limiter to be cleaned up and replaced")
	}
}
