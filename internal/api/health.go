package api

import (
	"context"
	"time"
)

const healthTimeout = 5 * time.Second

// HealthChecker is a dependency that can report its own reachability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckFunc adapts a plain function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusDegraded  = "degraded"
	statusDisabled  = "not configured"
)

// probe reports "healthy", "unhealthy" or "not configured" for a nil checker.
func probe(ctx context.Context, c HealthChecker) string {
	if c == nil {
		return statusDisabled
	}
	if err := c.HealthCheck(ctx); err != nil {
		return statusUnhealthy
	}
	return statusHealthy
}
