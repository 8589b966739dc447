package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cardtable/internal/apperror"
)

// Call outcomes reported to an Observer.
const (
	OutcomeSuccess     = "success"
	OutcomeClientError = "client_error"
	OutcomeFailure     = "failure"
	OutcomeTimeout     = "timeout"
	OutcomeRejected    = "rejected"
	OutcomeCanceled    = "canceled"
)

// Observer receives one record per Invoker.Do call.
type Observer interface {
	ObserveCall(breaker, outcome string, elapsed time.Duration)
}

// InvokerConfig configures the timeout and retry envelope.
type InvokerConfig struct {
	Timeout time.Duration
	// MaxRetries applies only to errors marked with apperror.Transient.
	MaxRetries   int
	RetryBackoff time.Duration
}

func DefaultInvokerConfig() InvokerConfig {
	return InvokerConfig{
		Timeout:      5 * time.Second,
		MaxRetries:   1,
		RetryBackoff: 100 * time.Millisecond,
	}
}

// Invoker runs operations behind a circuit breaker and a deadline, and feeds
// exactly one outcome per call back into the breaker.
type Invoker struct {
	breaker  *CircuitBreaker
	config   InvokerConfig
	observer Observer
}

func NewInvoker(breaker *CircuitBreaker, config InvokerConfig, observer Observer) *Invoker {
	if config.Timeout <= 0 {
		config.Timeout = DefaultInvokerConfig().Timeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return &Invoker{breaker: breaker, config: config, observer: observer}
}

func (inv *Invoker) Breaker() *CircuitBreaker {
	return inv.breaker
}

// Do executes op.
//
//   - open circuit: ServiceUnavailable, op is not called
//   - deadline exceeded: RequestTimeout, one failure recorded, never retried
//   - client error: returned unchanged, breaker untouched
//   - other error: one failure recorded, surfaced as UpstreamFailure
//   - success: recorded
//
// If ctx is canceled by the caller nothing is recorded.
func (inv *Invoker) Do(ctx context.Context, op func(ctx context.Context) error) error {
	start := time.Now()

	if !inv.breaker.Allow() {
		inv.observe(OutcomeRejected, start)
		return apperror.New(apperror.KindServiceUnavailable, "service temporarily unavailable")
	}

	callCtx, cancel := context.WithTimeout(ctx, inv.config.Timeout)
	defer cancel()

	var err error
	for attempt := 0; ; attempt++ {
		err = inv.attempt(callCtx, op)
		if err == nil || !apperror.IsTransient(err) || attempt >= inv.config.MaxRetries {
			break
		}
		if !sleepCtx(callCtx, inv.config.RetryBackoff) {
			err = callCtx.Err()
			break
		}
	}

	switch {
	case err == nil:
		inv.breaker.RecordSuccess()
		inv.observe(OutcomeSuccess, start)
		return nil

	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		inv.observe(OutcomeCanceled, start)
		return apperror.Wrap(err, apperror.KindRequestTimeout, "request canceled")

	case errors.Is(err, context.DeadlineExceeded):
		inv.breaker.RecordFailure()
		inv.observe(OutcomeTimeout, start)
		return apperror.Wrap(err, apperror.KindRequestTimeout, "request timed out")

	case apperror.IsClient(err):
		inv.observe(OutcomeClientError, start)
		return err

	default:
		inv.breaker.RecordFailure()
		inv.observe(OutcomeFailure, start)
		if apperror.KindOf(err) == apperror.KindInternal {
			return apperror.Upstream(err, "upstream failure")
		}
		return err
	}
}

// attempt runs op in its own goroutine so a handler that ignores ctx cannot
// hold the caller past the deadline.
func (inv *Invoker) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in %s operation: %v", inv.breaker.Name(), r)
			}
		}()
		done <- op(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (inv *Invoker) observe(outcome string, start time.Time) {
	if inv.observer != nil {
		inv.observer.ObserveCall(inv.breaker.Name(), outcome, time.Since(start))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
