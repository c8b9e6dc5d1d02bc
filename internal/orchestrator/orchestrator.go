// Package orchestrator sequences platform service startup by dependency
// level, tracks per-service lifecycle state, and runs bounded recovery
// for failed services. Start attempts are guarded by per-service
// circuit breakers so a flapping container cannot be hammered forever.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/netra-systems/service-warden/internal/registry"
	"github.com/netra-systems/service-warden/internal/resilience"
	"github.com/netra-systems/service-warden/internal/runtime"
)

// ServiceStatus tracks the lifecycle state of one managed service.
type ServiceStatus string

const (
	StatusStopped  ServiceStatus = "stopped"
	StatusStarting ServiceStatus = "starting"
	StatusRunning  ServiceStatus = "running"
	StatusDegraded ServiceStatus = "degraded"
	StatusFailed   ServiceStatus = "failed"
)

// ServiceState is the orchestrator-owned record for one service. The
// orchestrator is the only writer; callers always receive copies.
type ServiceState struct {
	Name       string              `json:"name"`
	Status     ServiceStatus       `json:"status"`
	ErrorCount int                 `json:"error_count"`
	LastError  string              `json:"last_error,omitempty"`
	StartedAt  time.Time           `json:"started_at"`
	StoppedAt  time.Time           `json:"stopped_at"`
	Breaker    resilience.Snapshot `json:"circuit_breaker"`
}

// Config tunes orchestration behavior. Zero values fall back to defaults.
type Config struct {
	// ConcurrencyLimit bounds simultaneous starts within one dependency level.
	ConcurrencyLimit int
	// StartTimeout bounds a single service start attempt.
	StartTimeout time.Duration
	// StopTimeout bounds a single service stop attempt.
	StopTimeout time.Duration
	// FailureThreshold is the consecutive-failure count that opens a breaker.
	FailureThreshold int
	// RecoveryTimeout is the breaker cooldown before a trial start.
	RecoveryTimeout time.Duration
	// MaxRecoveryAttempts caps restart attempts per recovery run.
	MaxRecoveryAttempts int
}

func (c Config) withDefaults() Config {
	if c.ConcurrencyLimit <= 0 {
		c.ConcurrencyLimit = 4
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = 30 * time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 30 * time.Second
	}
	if c.MaxRecoveryAttempts <= 0 {
		c.MaxRecoveryAttempts = 3
	}
	return c
}

// StartOutcome classifies one start attempt.
type StartOutcome string

const (
	OutcomeStarted              StartOutcome = "started"
	OutcomeAlreadyRunning       StartOutcome = "already_running"
	OutcomeDisabled             StartOutcome = "disabled"
	OutcomeCircuitOpen          StartOutcome = "circuit_breaker_open"
	OutcomeDependencyNotRunning StartOutcome = "dependency_not_running"
	OutcomeTimeout              StartOutcome = "timeout"
	OutcomeFailed               StartOutcome = "failed"
)

// StartResult reports one start attempt.
type StartResult struct {
	Service string        `json:"service"`
	Outcome StartOutcome  `json:"outcome"`
	Err     string        `json:"error,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Succeeded reports whether the service is usable after the attempt.
func (r StartResult) Succeeded() bool {
	switch r.Outcome {
	case OutcomeStarted, OutcomeAlreadyRunning, OutcomeDisabled:
		return true
	default:
		return false
	}
}

// StartReport aggregates one StartAll pass.
type StartReport struct {
	Results map[string]StartResult
	Started []string
	Failed  []string
}

// AllStarted reports whether every attempted service is usable.
func (r StartReport) AllStarted() bool {
	return len(r.Failed) == 0
}

// Option adjusts an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithClock replaces the time source for state stamps and breakers.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.clock = now
	}
}

// WithRecoveryBackoff overrides the delay window between recovery attempts.
func WithRecoveryBackoff(initial, max time.Duration) Option {
	return func(o *Orchestrator) {
		if initial > 0 {
			o.backoffInitial = initial
		}
		if max > 0 {
			o.backoffMax = max
		}
	}
}

// Orchestrator owns the lifecycle state of every registered service.
type Orchestrator struct {
	logger   zerolog.Logger
	cfg      Config
	registry *registry.Registry
	runtime  runtime.Runtime
	order    StartupOrder
	clock    func() time.Time

	backoffInitial time.Duration
	backoffMax     time.Duration

	mu       sync.RWMutex
	states   map[string]ServiceState
	breakers map[string]*resilience.Breaker
	startSeq []string
}

// New builds an Orchestrator for the registered services. It fails if
// the dependency graph has a cycle or references unknown services.
func New(logger zerolog.Logger, cfg Config, reg *registry.Registry, rt runtime.Runtime, opts ...Option) (*Orchestrator, error) {
	order, err := ComputeStartupOrder(reg)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		logger:         logger.With().Str("component", "orchestrator").Logger(),
		cfg:            cfg.withDefaults(),
		registry:       reg,
		runtime:        rt,
		order:          order,
		clock:          time.Now,
		backoffInitial: 500 * time.Millisecond,
		backoffMax:     5 * time.Second,
		states:         make(map[string]ServiceState, reg.Len()),
		breakers:       make(map[string]*resilience.Breaker, reg.Len()),
	}
	for _, opt := range opts {
		opt(o)
	}

	for _, name := range reg.Names() {
		o.states[name] = ServiceState{Name: name, Status: StatusStopped}
		breakerLogger := o.logger.With().Str("service", name).Logger()
		o.breakers[name] = resilience.NewBreaker(
			o.cfg.FailureThreshold,
			o.cfg.RecoveryTimeout,
			resilience.WithClock(o.clock),
			resilience.WithStateChange(func(from, to resilience.BreakerState) {
				breakerLogger.Warn().
					Str("from", string(from)).
					Str("to", string(to)).
					Msg("circuit breaker state changed")
			}),
		)
	}
	return o, nil
}

// Order returns the computed dependency levels.
func (o *Orchestrator) Order() StartupOrder {
	return o.order
}

// State returns a copy of one service's state, including its breaker.
func (o *Orchestrator) State(name string) (ServiceState, bool) {
	o.mu.RLock()
	st, ok := o.states[name]
	o.mu.RUnlock()
	if !ok {
		return ServiceState{}, false
	}
	if breaker, ok := o.breakers[name]; ok {
		st.Breaker = breaker.Snapshot()
	}
	return st, true
}

// States returns a copy of every service state.
func (o *Orchestrator) States() map[string]ServiceState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]ServiceState, len(o.states))
	for name, st := range o.states {
		if breaker, ok := o.breakers[name]; ok {
			st.Breaker = breaker.Snapshot()
		}
		out[name] = st
	}
	return out
}

// MarkUnhealthy downgrades a running service to failed after an
// external health signal, so the next recovery pass picks it up.
// Services in any other state are left alone: degraded services stay
// deliberately degraded and stopped services stay stopped.
func (o *Orchestrator) MarkUnhealthy(name, reason string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.states[name]
	if !ok || st.Status != StatusRunning {
		return false
	}
	st.Status = StatusFailed
	st.ErrorCount++
	st.LastError = reason
	o.states[name] = st
	o.logger.Warn().
		Str("service", name).
		Str("reason", reason).
		Msg("running service marked unhealthy")
	return true
}

// StartAll starts every service level by level. Services within a level
// start concurrently, bounded by the concurrency limit; a level must
// finish before the next begins so no service ever starts ahead of its
// dependencies.
func (o *Orchestrator) StartAll(ctx context.Context) StartReport {
	report := StartReport{Results: make(map[string]StartResult, o.registry.Len())}
	var reportMu sync.Mutex

	for levelIdx, level := range o.order.Levels {
		var g errgroup.Group
		g.SetLimit(o.cfg.ConcurrencyLimit)
		for _, name := range level {
			name := name
			g.Go(func() error {
				result := o.StartService(ctx, name)
				reportMu.Lock()
				report.Results[name] = result
				reportMu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		o.logger.Debug().
			Int("level", levelIdx).
			Int("services", len(level)).
			Msg("startup level complete")
		if ctx.Err() != nil {
			break
		}
	}

	for _, name := range o.order.Flat {
		result, ok := report.Results[name]
		if !ok {
			continue
		}
		switch {
		case result.Outcome == OutcomeStarted:
			report.Started = append(report.Started, name)
		case !result.Succeeded():
			report.Failed = append(report.Failed, name)
		}
	}
	return report
}

// StartService starts one service, honoring the dependency gate and the
// circuit breaker. It never returns an error: the outcome classifies
// what happened.
func (o *Orchestrator) StartService(ctx context.Context, name string) StartResult {
	desc, err := o.registry.Get(name)
	if err != nil {
		return StartResult{Service: name, Outcome: OutcomeFailed, Err: err.Error()}
	}
	if desc.Disabled {
		return StartResult{Service: name, Outcome: OutcomeDisabled}
	}
	if o.statusOf(name) == StatusRunning {
		return StartResult{Service: name, Outcome: OutcomeAlreadyRunning}
	}

	if unmet := o.unmetDependency(desc); unmet != "" {
		reason := fmt.Sprintf("dependency %s not running", unmet)
		o.markFailed(name, reason)
		return StartResult{Service: name, Outcome: OutcomeDependencyNotRunning, Err: reason}
	}

	breaker := o.breakers[name]
	if !breaker.CanExecute() {
		return StartResult{Service: name, Outcome: OutcomeCircuitOpen, Err: resilience.ErrCircuitOpen.Error()}
	}

	o.setStatus(name, StatusStarting)
	started := time.Now()
	startCtx, cancel := context.WithTimeout(ctx, o.cfg.StartTimeout)
	startErr := o.runtime.StartService(startCtx, name)
	cancel()
	elapsed := time.Since(started)

	if startErr != nil {
		breaker.RecordFailure()
		o.markFailed(name, startErr.Error())
		outcome := OutcomeFailed
		if errors.Is(startErr, context.DeadlineExceeded) {
			outcome = OutcomeTimeout
		}
		o.logger.Error().
			Err(startErr).
			Str("service", name).
			Str("outcome", string(outcome)).
			Msg("service start failed")
		return StartResult{Service: name, Outcome: outcome, Err: startErr.Error(), Elapsed: elapsed}
	}

	breaker.RecordSuccess()
	o.markRunning(name)
	o.logger.Info().
		Str("service", name).
		Dur("elapsed", elapsed).
		Msg("service started")
	return StartResult{Service: name, Outcome: OutcomeStarted, Elapsed: elapsed}
}

// StopAll stops services in the reverse of the recorded start order.
// Stop failures are logged, not returned: shutdown walks the whole list.
func (o *Orchestrator) StopAll(ctx context.Context) {
	o.mu.Lock()
	order := append([]string(nil), o.startSeq...)
	o.startSeq = nil
	o.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		stopCtx, cancel := context.WithTimeout(ctx, o.cfg.StopTimeout)
		err := o.runtime.StopService(stopCtx, name)
		cancel()
		if err != nil {
			o.logger.Error().Err(err).Str("service", name).Msg("service stop failed")
			o.recordError(name, err.Error())
			continue
		}
		o.markStopped(name)
		o.logger.Info().Str("service", name).Msg("service stopped")
	}
}

// unmetDependency returns the first declared dependency that is neither
// running nor disabled, or empty when the gate is satisfied.
func (o *Orchestrator) unmetDependency(desc registry.Descriptor) string {
	for _, dep := range desc.Dependencies {
		if depDesc, err := o.registry.Get(dep); err == nil && depDesc.Disabled {
			continue
		}
		if o.statusOf(dep) != StatusRunning {
			return dep
		}
	}
	return ""
}

func (o *Orchestrator) statusOf(name string) ServiceStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.states[name].Status
}

func (o *Orchestrator) setStatus(name string, status ServiceStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.states[name]
	st.Status = status
	o.states[name] = st
}

func (o *Orchestrator) markRunning(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.states[name]
	st.Status = StatusRunning
	st.LastError = ""
	st.StartedAt = o.clock().UTC()
	o.states[name] = st

	for _, existing := range o.startSeq {
		if existing == name {
			return
		}
	}
	o.startSeq = append(o.startSeq, name)
}

func (o *Orchestrator) markStopped(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.states[name]
	st.Status = StatusStopped
	st.StoppedAt = o.clock().UTC()
	o.states[name] = st
}

func (o *Orchestrator) markDegraded(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.states[name]
	st.Status = StatusDegraded
	o.states[name] = st
}

func (o *Orchestrator) markFailed(name, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.states[name]
	st.Status = StatusFailed
	st.ErrorCount++
	st.LastError = reason
	o.states[name] = st
}

func (o *Orchestrator) recordError(name, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.states[name]
	st.ErrorCount++
	st.LastError = reason
	o.states[name] = st
}
