// Package runtime starts and stops platform services on the container
// backend. The orchestrator drives it; it never decides order or policy.
package runtime

import "context"

// Runtime defines the interface for container backend interactions.
// This interface enables mocking in tests.
type Runtime interface {
	// Ping validates connectivity to the backend.
	Ping(ctx context.Context) error

	// StartService starts the container backing the named service.
	StartService(ctx context.Context, service string) error

	// StopService stops the container backing the named service.
	StopService(ctx context.Context, service string) error

	// ServiceRunning reports whether the named service's container is running.
	ServiceRunning(ctx context.Context, service string) (bool, error)

	// Close releases resources associated with the runtime.
	Close() error
}

// NopRuntime satisfies Runtime without touching any backend. It is the
// default in probe-only deployments where the warden observes health
// but never manages containers.
type NopRuntime struct{}

// Ping always succeeds.
func (NopRuntime) Ping(context.Context) error { return nil }

// StartService is a no-op.
func (NopRuntime) StartService(context.Context, string) error { return nil }

// StopService is a no-op.
func (NopRuntime) StopService(context.Context, string) error { return nil }

// ServiceRunning always reports true.
func (NopRuntime) ServiceRunning(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NopRuntime) Close() error { return nil }
