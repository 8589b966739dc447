// Package resilience holds the request execution core shared by every
// service: gateway authentication and admission (RequestGate), per-class
// circuit breakers (CircuitBreaker) and the timeout/retry envelope that ties
// them together (Invoker).
package resilience
