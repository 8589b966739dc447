package resilience

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(clock *fakeClock) *CircuitBreaker {
	cb := NewCircuitBreaker("test", DefaultBreakerConfig())
	cb.now = clock.Now
	return cb
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	cb := newTestBreaker(newFakeClock())

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.True(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_SuccessResetsStreak(t *testing.T) {
	cb := newTestBreaker(newFakeClock())

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 2, cb.Snapshot().ConsecutiveFailures)
}

func TestCircuitBreaker_RecoveryBoundary(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	clock.Advance(60*time.Second - time.Nanosecond)
	assert.False(t, cb.Allow(), "must stay open until the recovery timeout has fully elapsed")
	assert.Equal(t, CircuitOpen, cb.State())

	clock.Advance(time.Nanosecond)
	assert.True(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock.Advance(61 * time.Second)
	require.True(t, cb.Allow())

	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 0, cb.Snapshot().ConsecutiveFailures)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock.Advance(61 * time.Second)
	require.True(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.Equal(t, clock.Now(), cb.Snapshot().LastFailure)
	assert.False(t, cb.Allow(), "fresh failure restarts the recovery window")

	clock.Advance(60 * time.Second)
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_OpenImpliesThreshold(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)

	for i := 0; i < 10; i++ {
		cb.RecordFailure()
		snap := cb.Snapshot()
		if snap.State == CircuitOpen.String() {
			assert.GreaterOrEqual(t, snap.ConsecutiveFailures, 3)
		}
	}
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	cb := NewCircuitBreaker("auth", BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Second,
		OnStateChange: func(name string, from, to CircuitState) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})
	cb.now = clock.Now

	cb.RecordFailure()
	clock.Advance(time.Second)
	cb.Allow()
	cb.RecordSuccess()

	assert.Equal(t, []string{
		"auth:closed->open",
		"auth:open->half-open",
		"auth:half-open->closed",
	}, transitions)
}

func TestCircuitBreaker_DefaultsApplied(t *testing.T) {
	cb := NewCircuitBreaker("x", BreakerConfig{})
	assert.Equal(t, 3, cb.config.FailureThreshold)
	assert.Equal(t, 60*time.Second, cb.config.RecoveryTimeout)
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker("concurrent", DefaultBreakerConfig())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				cb.Allow()
				if (i+j)%2 == 0 {
					cb.RecordFailure()
				} else {
					cb.RecordSuccess()
				}
				_ = cb.Snapshot()
			}
		}(i)
	}
	wg.Wait()

	snap := cb.Snapshot()
	if snap.State == CircuitOpen.String() {
		assert.GreaterOrEqual(t, snap.ConsecutiveFailures, 3)
	}
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(42).String())
}
