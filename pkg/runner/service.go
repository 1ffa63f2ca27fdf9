package runner

import "context"

// Service is a unit the Runner manages. Implementations should start
// quickly, do their work in the background, and stop gracefully.
type Service interface {
	// Name identifies the service in logs and errors.
	Name() string

	// Start initializes the service. It must return once the service
	// is ready, not block for its lifetime, and respect ctx.
	Start(ctx context.Context) error

	// Stop shuts the service down within the context deadline.
	Stop(ctx context.Context) error
}

// HealthChecker is optionally implemented by services that can report
// their own health.
type HealthChecker interface {
	Service

	// HealthCheck returns an error if the service is unhealthy.
	HealthCheck(ctx context.Context) error
}
