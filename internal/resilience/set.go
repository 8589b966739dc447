package resilience

import (
	"sort"
	"sync"
)

// Set hands out one Invoker, and so one breaker, per endpoint class.
type Set struct {
	breakerConfig BreakerConfig
	invokerConfig InvokerConfig
	observer      Observer

	mu       sync.Mutex
	invokers map[string]*Invoker
}

func NewSet(breakerConfig BreakerConfig, invokerConfig InvokerConfig, observer Observer) *Set {
	return &Set{
		breakerConfig: breakerConfig,
		invokerConfig: invokerConfig,
		observer:      observer,
		invokers:      make(map[string]*Invoker),
	}
}

// Invoker returns the invoker for class, creating it on first use.
func (s *Set) Invoker(class string) *Invoker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inv, ok := s.invokers[class]; ok {
		return inv
	}
	inv := NewInvoker(NewCircuitBreaker(class, s.breakerConfig), s.invokerConfig, s.observer)
	s.invokers[class] = inv
	return inv
}

// Snapshots returns every breaker's state ordered by class name.
func (s *Set) Snapshots() []BreakerSnapshot {
	s.mu.Lock()
	invokers := make([]*Invoker, 0, len(s.invokers))
	for _, inv := range s.invokers {
		invokers = append(invokers, inv)
	}
	s.mu.Unlock()

	snaps := make([]BreakerSnapshot, 0, len(invokers))
	for _, inv := range invokers {
		snaps = append(snaps, inv.Breaker().Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	return snaps
}

// AnyOpen reports whether some breaker currently rejects calls.
func (s *Set) AnyOpen() bool {
	for _, snap := range s.Snapshots() {
		if snap.State == CircuitOpen.String() {
			return true
		}
	}
	return false
}
