package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/rs/zerolog"

	"github.com/netra-systems/service-warden/internal/health"
	"github.com/netra-systems/service-warden/internal/priority"
	"github.com/netra-systems/service-warden/internal/registry"
)

const defaultConcurrency = 8

// environmentTimeouts maps a deployment environment to its probe
// timeout. Production is tight, testing is lenient.
var environmentTimeouts = map[string]time.Duration{
	"production":  5 * time.Second,
	"staging":     8 * time.Second,
	"development": 10 * time.Second,
	"testing":     30 * time.Second,
}

const fallbackTimeout = 5 * time.Second

// TimeoutFor returns the probe timeout for the deployment environment.
// Unrecognized environments get the conservative production timeout.
func TimeoutFor(environment string) time.Duration {
	if timeout, ok := environmentTimeouts[environment]; ok {
		return timeout
	}
	return fallbackTimeout
}

// Checker probes every registered service. Probe failures never surface
// as errors: they are masked into results according to the service's
// priority tier so one optional service cannot fail the whole platform.
type Checker struct {
	logger      zerolog.Logger
	environment string
	timeout     time.Duration
	concurrency int
	registry    *registry.Registry
	classifier  *priority.Classifier
	pool        pond.Pool

	mu      sync.RWMutex
	probers map[string]Prober
}

// CheckerOption adjusts a Checker at construction time.
type CheckerOption func(*Checker)

// WithProber overrides the prober for one service.
func WithProber(service string, prober Prober) CheckerOption {
	return func(c *Checker) {
		c.probers[service] = prober
	}
}

// WithTimeout overrides the environment-derived probe timeout.
func WithTimeout(timeout time.Duration) CheckerOption {
	return func(c *Checker) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithConcurrency bounds the number of simultaneous probes.
func WithConcurrency(n int) CheckerOption {
	return func(c *Checker) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// NewChecker builds a Checker for the registered services. Services
// without a probe override get a prober derived from their descriptor;
// services with no probe configured are skipped by CheckAll.
func NewChecker(logger zerolog.Logger, environment string, reg *registry.Registry, classifier *priority.Classifier, opts ...CheckerOption) *Checker {
	c := &Checker{
		logger:      logger.With().Str("component", "checker").Logger(),
		environment: environment,
		timeout:     TimeoutFor(environment),
		concurrency: defaultConcurrency,
		registry:    reg,
		classifier:  classifier,
		probers:     make(map[string]Prober),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.pool = pond.NewPool(c.concurrency)

	for _, name := range reg.Names() {
		if _, ok := c.probers[name]; ok {
			continue
		}
		desc, err := reg.Get(name)
		if err != nil {
			continue
		}
		if prober := proberFor(desc); prober != nil {
			c.probers[name] = prober
		}
	}
	return c
}

func proberFor(desc registry.Descriptor) Prober {
	switch desc.Probe.Kind {
	case registry.ProbeHTTP:
		return NewHTTPProber(desc.Name, desc.Probe.Target)
	case registry.ProbeTCP:
		return NewTCPProber(desc.Name, desc.Probe.Target)
	default:
		return nil
	}
}

// Timeout returns the effective probe timeout.
func (c *Checker) Timeout() time.Duration {
	return c.timeout
}

// Close releases the probe worker pool.
func (c *Checker) Close() {
	c.pool.StopAndWait()
}

// Check probes a single service. The returned error is non-nil only
// for services the registry does not know; probe failures come back as
// masked results.
func (c *Checker) Check(ctx context.Context, service string) (health.Result, error) {
	desc, err := c.registry.Get(service)
	if err != nil {
		return health.Result{}, fmt.Errorf("check %s: %w", service, err)
	}
	if desc.Disabled {
		return health.Healthy(service).WithDetail("status", "disabled"), nil
	}

	c.mu.RLock()
	prober, ok := c.probers[service]
	c.mu.RUnlock()
	if !ok {
		return health.Healthy(service).WithDetail("status", "unprobed"), nil
	}
	return c.probe(ctx, service, prober), nil
}

// CheckAll probes every registered service concurrently and returns the
// results keyed by service name. Disabled and unprobed services are
// excluded so they never influence the aggregate score.
func (c *Checker) CheckAll(ctx context.Context) map[string]health.Result {
	names := c.registry.Names()
	results := make(map[string]health.Result, len(names))

	var mu sync.Mutex
	tasks := make([]pond.Task, 0, len(names))
	for _, name := range names {
		desc, err := c.registry.Get(name)
		if err != nil || desc.Disabled {
			continue
		}
		c.mu.RLock()
		prober, ok := c.probers[name]
		c.mu.RUnlock()
		if !ok {
			continue
		}

		name, prober := name, prober
		task := c.pool.Submit(func() {
			result := c.probe(ctx, name, prober)
			mu.Lock()
			results[name] = result
			mu.Unlock()
		})
		tasks = append(tasks, task)
	}
	for _, task := range tasks {
		_ = task.Wait()
	}
	return results
}

func (c *Checker) probe(ctx context.Context, service string, prober Prober) health.Result {
	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	result, err := prober.Probe(probeCtx)
	elapsed := time.Since(started)

	if err != nil {
		result = c.maskFailure(service, err)
	}
	result.Service = service
	result.ResponseTime = elapsed
	if result.CheckedAt.IsZero() {
		result.CheckedAt = time.Now().UTC()
	}

	c.logger.Debug().
		Str("service", service).
		Str("status", string(result.Status)).
		Dur("response_time", elapsed).
		Msg("probe complete")
	return result
}

// maskFailure converts a probe error into a result according to the
// service's priority tier: critical failures are unhealthy, important
// failures degraded, optional failures healthy with a marker detail.
func (c *Checker) maskFailure(service string, err error) health.Result {
	reason := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		reason = fmt.Sprintf("probe timed out after %s", c.timeout)
	}

	tier := c.classifier.For(service)
	c.logger.Warn().
		Str("service", service).
		Str("priority", string(tier)).
		Str("reason", reason).
		Msg("probe failed")

	switch tier {
	case priority.Critical:
		return health.Unhealthy(service, reason)
	case priority.Optional:
		return health.Healthy(service).WithDetail("status", "optional_unavailable")
	default:
		// The probe itself failed, unlike a reachable service that
		// reports itself degraded.
		result := health.Degraded(service, reason)
		result.Success = false
		return result
	}
}
