package router

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestRateLimiter_AllowsExactlyLimitPerWindow(t *testing.T) {
	rl := NewRateLimiter(100, time.Minute)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	for i := 0; i < 100; i++ {
		if !rl.Allow("alice") {
			t.Fatalf("event %d rejected within limit", i+1)
		}
	}
	if rl.Allow("alice") {
		t.Error("event 101 should be rejected")
	}
	if !rl.Allow("bob") {
		t.Error("limits must be per user")
	}

	now = now.Add(time.Minute)
	if !rl.Allow("alice") {
		t.Error("new window should reset the count")
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	if rl.limit != DefaultRateLimit || rl.window != DefaultRateWindow {
		t.Errorf("unexpected defaults %d/%v", rl.limit, rl.window)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(10, time.Minute)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	rl.Allow("alice")
	now = now.Add(2 * time.Minute)
	rl.Allow("bob")
	now = now.Add(4 * time.Minute)

	rl.Cleanup()
	if got := rl.tracked(); got != 1 {
		t.Errorf("expected only bob to remain, %d tracked", got)
	}
}

func TestRateLimiter_RunCleanupStops(t *testing.T) {
	rl := NewRateLimiter(10, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rl.RunCleanup(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunCleanup did not stop")
	}
}

func TestRateLimiter_Concurrent(t *testing.T) {
	rl := NewRateLimiter(50, time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow("alice") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("expected 50 allowed, got %d", allowed)
	}
}
