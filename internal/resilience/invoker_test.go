package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardtable/internal/apperror"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveCall(breaker, outcome string, elapsed time.Duration) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, outcome)
	o.mu.Unlock()
}

func (o *recordingObserver) all() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.outcomes...)
}

func newTestInvoker(timeout time.Duration, obs Observer) *Invoker {
	return NewInvoker(
		NewCircuitBreaker("test", DefaultBreakerConfig()),
		InvokerConfig{Timeout: timeout, MaxRetries: 1, RetryBackoff: time.Millisecond},
		obs,
	)
}

func TestInvoker_Success(t *testing.T) {
	obs := &recordingObserver{}
	inv := newTestInvoker(time.Second, obs)

	err := inv.Do(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, []string{OutcomeSuccess}, obs.all())
}

func TestInvoker_OpenCircuitShortCircuits(t *testing.T) {
	inv := newTestInvoker(time.Second, nil)
	for i := 0; i < 3; i++ {
		inv.Breaker().RecordFailure()
	}

	var called int32
	err := inv.Do(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&called, 1)
		return nil
	})

	assert.True(t, apperror.Is(err, apperror.KindServiceUnavailable))
	assert.Equal(t, int32(0), atomic.LoadInt32(&called))
	assert.Equal(t, 3, inv.Breaker().Snapshot().ConsecutiveFailures, "rejection must not mutate breaker state")
}

func TestInvoker_TimeoutRecordsOneFailure(t *testing.T) {
	obs := &recordingObserver{}
	inv := newTestInvoker(20*time.Millisecond, obs)

	var calls int32
	start := time.Now()
	err := inv.Do(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		time.Sleep(500 * time.Millisecond) // ignores ctx on purpose
		return nil
	})

	assert.Less(t, time.Since(start), 400*time.Millisecond, "caller must not wait for a stuck operation")
	assert.True(t, apperror.Is(err, apperror.KindRequestTimeout))
	assert.Equal(t, 1, inv.Breaker().Snapshot().ConsecutiveFailures)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "timeouts are never retried")
	assert.Equal(t, []string{OutcomeTimeout}, obs.all())
}

func TestInvoker_ThreeTimeoutsOpenCircuit(t *testing.T) {
	inv := newTestInvoker(10*time.Millisecond, nil)
	slow := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	for i := 0; i < 3; i++ {
		err := inv.Do(context.Background(), slow)
		require.True(t, apperror.Is(err, apperror.KindRequestTimeout))
	}
	assert.Equal(t, CircuitOpen, inv.Breaker().State())

	err := inv.Do(context.Background(), func(ctx context.Context) error { return nil })
	assert.True(t, apperror.Is(err, apperror.KindServiceUnavailable))
}

func TestInvoker_ClientErrorsDoNotTrip(t *testing.T) {
	obs := &recordingObserver{}
	inv := newTestInvoker(time.Second, obs)
	clientErrs := []error{
		apperror.BadRequest("missing field"),
		apperror.Unauthenticated("bad token"),
		apperror.NotFound("no user"),
		apperror.Conflict("duplicate"),
		apperror.New(apperror.KindLobbyFull, "full"),
	}

	for i := 0; i < 3; i++ {
		for _, clientErr := range clientErrs {
			clientErr := clientErr
			err := inv.Do(context.Background(), func(ctx context.Context) error { return clientErr })
			assert.Same(t, clientErr, err)
		}
	}

	assert.Equal(t, CircuitClosed, inv.Breaker().State())
	assert.Equal(t, 0, inv.Breaker().Snapshot().ConsecutiveFailures)
	for _, o := range obs.all() {
		assert.Equal(t, OutcomeClientError, o)
	}
}

func TestInvoker_InfrastructureErrorBecomesUpstream(t *testing.T) {
	obs := &recordingObserver{}
	inv := newTestInvoker(time.Second, obs)
	cause := errors.New("dial tcp 10.0.0.5:6379: connection refused")

	err := inv.Do(context.Background(), func(ctx context.Context) error { return cause })

	assert.True(t, apperror.Is(err, apperror.KindUpstreamFailure))
	assert.True(t, errors.Is(err, cause))
	assert.NotContains(t, apperror.PublicMessage(err), "10.0.0.5")
	assert.Equal(t, 1, inv.Breaker().Snapshot().ConsecutiveFailures)
	assert.Equal(t, []string{OutcomeFailure}, obs.all())
}

func TestInvoker_UpstreamErrorKeepsMessage(t *testing.T) {
	inv := newTestInvoker(time.Second, nil)
	err := inv.Do(context.Background(), func(ctx context.Context) error {
		return apperror.Upstream(errors.New("boom"), "game store unavailable")
	})
	assert.Equal(t, "game store unavailable", apperror.PublicMessage(err))
}

func TestInvoker_RetriesTransientOnce(t *testing.T) {
	inv := newTestInvoker(time.Second, nil)

	var calls int32
	err := inv.Do(context.Background(), func(ctx context.Context) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return apperror.Transient(errors.New("connection reset"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, CircuitClosed, inv.Breaker().State())
	assert.Equal(t, 0, inv.Breaker().Snapshot().ConsecutiveFailures)
}

func TestInvoker_RetryExhaustionRecordsOneFailure(t *testing.T) {
	inv := newTestInvoker(time.Second, nil)

	var calls int32
	err := inv.Do(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return apperror.Transient(errors.New("connection reset"))
	})

	assert.True(t, apperror.Is(err, apperror.KindUpstreamFailure))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, 1, inv.Breaker().Snapshot().ConsecutiveFailures)
}

func TestInvoker_NonTransientNotRetried(t *testing.T) {
	inv := newTestInvoker(time.Second, nil)

	var calls int32
	_ = inv.Do(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("constraint violated")
	})
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestInvoker_CallerCancellationRecordsNothing(t *testing.T) {
	obs := &recordingObserver{}
	inv := newTestInvoker(time.Second, obs)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := inv.Do(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	assert.Error(t, err)
	assert.Equal(t, 0, inv.Breaker().Snapshot().ConsecutiveFailures)
	assert.Equal(t, []string{OutcomeCanceled}, obs.all())
}

func TestInvoker_PanicIsFailure(t *testing.T) {
	inv := newTestInvoker(time.Second, nil)
	err := inv.Do(context.Background(), func(ctx context.Context) error {
		panic("handler bug")
	})
	assert.True(t, apperror.Is(err, apperror.KindUpstreamFailure))
	assert.Equal(t, 1, inv.Breaker().Snapshot().ConsecutiveFailures)
}

func TestInvoker_HalfOpenTrialCall(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("lobby", DefaultBreakerConfig())
	cb.now = clock.Now
	inv := NewInvoker(cb, DefaultInvokerConfig(), nil)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock.Advance(60 * time.Second)

	require.NoError(t, inv.Do(context.Background(), func(ctx context.Context) error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestSet_OneBreakerPerClass(t *testing.T) {
	set := NewSet(DefaultBreakerConfig(), DefaultInvokerConfig(), nil)

	auth := set.Invoker("auth")
	assert.Same(t, auth, set.Invoker("auth"))
	score := set.Invoker("score")
	assert.NotSame(t, auth, score)

	for i := 0; i < 3; i++ {
		auth.Breaker().RecordFailure()
	}
	assert.True(t, set.AnyOpen())
	assert.Equal(t, CircuitClosed, score.Breaker().State(), "classes fail independently")

	snaps := set.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "auth", snaps[0].Name)
	assert.Equal(t, "open", snaps[0].State)
	assert.Equal(t, "score", snaps[1].Name)
}
