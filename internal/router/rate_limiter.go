package router

import (
	"context"
	"sync"
	"time"
)

// Default limits: 100 events per user per minute.
const (
	DefaultRateLimit  = 100
	DefaultRateWindow = time.Minute
)

// RateLimiter is a fixed-window per-user event counter.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*ClientLimit
	limit   int
	window  time.Duration
	now     func() time.Time
}

// ClientLimit tracks one user's current window.
type ClientLimit struct {
	messageCount int
	windowStart  time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RateLimiter{
		clients: make(map[string]*ClientLimit),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Allow counts one event for userID and reports whether it is within budget.
func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	limit, exists := rl.clients[userID]
	if !exists {
		rl.clients[userID] = &ClientLimit{messageCount: 1, windowStart: now}
		return true
	}

	if now.Sub(limit.windowStart) >= rl.window {
		limit.messageCount = 1
		limit.windowStart = now
		return true
	}

	if limit.messageCount >= rl.limit {
		return false
	}
	limit.messageCount++
	return true
}

// Cleanup drops users idle for more than five windows.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for userID, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*rl.window {
			delete(rl.clients, userID)
		}
	}
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (rl *RateLimiter) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.Cleanup()
		case <-ctx.Done():
			return
		}
	}
}

func (rl *RateLimiter) tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
