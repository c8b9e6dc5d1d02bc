package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/netra-systems/service-warden/internal/registry"
	"github.com/netra-systems/service-warden/internal/resilience"
)

// RecoveryOutcome classifies one recovery run.
type RecoveryOutcome string

const (
	RecoveryRecovered        RecoveryOutcome = "recovered"
	RecoveryDegraded         RecoveryOutcome = "graceful_degradation"
	RecoveryCircuitOpen      RecoveryOutcome = "circuit_breaker_open"
	RecoveryCanceled         RecoveryOutcome = "canceled"
	RecoveryAttemptsExceeded RecoveryOutcome = "max_recovery_attempts_exceeded"
)

// RecoveryResult reports the outcome of recovering one service.
type RecoveryResult struct {
	Service  string                    `json:"service"`
	Strategy registry.RecoveryStrategy `json:"strategy"`
	Outcome  RecoveryOutcome           `json:"outcome"`
	Attempts int                       `json:"attempts"`
	Err      string                    `json:"error,omitempty"`
}

// Recovered reports whether the service ended in an acceptable state:
// either restored or deliberately degraded.
func (r RecoveryResult) Recovered() bool {
	return r.Outcome == RecoveryRecovered || r.Outcome == RecoveryDegraded
}

// SystemRecovery aggregates a full-platform recovery pass.
type SystemRecovery struct {
	Results   []RecoveryResult `json:"results"`
	Aborted   bool             `json:"aborted"`
	AbortedBy string           `json:"aborted_by,omitempty"`
	Skipped   []string         `json:"skipped,omitempty"`
}

// Recover brings one failed service back using its configured strategy.
// Restart strategies retry with exponential backoff up to the attempt
// cap; graceful degradation marks the service degraded without touching
// the runtime.
func (o *Orchestrator) Recover(ctx context.Context, name string) RecoveryResult {
	desc, err := o.registry.Get(name)
	if err != nil {
		return RecoveryResult{Service: name, Outcome: RecoveryCanceled, Err: err.Error()}
	}

	strategy := desc.Recovery
	if strategy == "" {
		strategy = registry.RecoveryRestart
	}
	result := RecoveryResult{Service: name, Strategy: strategy}

	if strategy == registry.RecoveryGracefulDegradation {
		o.markDegraded(name)
		o.logger.Info().Str("service", name).Msg("service placed in graceful degradation")
		result.Outcome = RecoveryDegraded
		return result
	}

	breaker := o.breakers[name]
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.backoffInitial
	bo.MaxInterval = o.backoffMax
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxRecoveryAttempts; attempt++ {
		if ctx.Err() != nil {
			result.Outcome = RecoveryCanceled
			result.Err = ctx.Err().Error()
			return result
		}
		if !breaker.CanExecute() {
			result.Outcome = RecoveryCircuitOpen
			result.Err = resilience.ErrCircuitOpen.Error()
			return result
		}

		result.Attempts = attempt
		lastErr = o.applyStrategy(ctx, desc, strategy)
		if lastErr == nil {
			breaker.RecordSuccess()
			o.markRunning(name)
			o.logger.Info().
				Str("service", name).
				Str("strategy", string(strategy)).
				Int("attempts", attempt).
				Msg("service recovered")
			result.Outcome = RecoveryRecovered
			return result
		}

		breaker.RecordFailure()
		o.markFailed(name, lastErr.Error())
		o.logger.Warn().
			Err(lastErr).
			Str("service", name).
			Int("attempt", attempt).
			Int("max_attempts", o.cfg.MaxRecoveryAttempts).
			Msg("recovery attempt failed")

		if attempt == o.cfg.MaxRecoveryAttempts {
			break
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		select {
		case <-ctx.Done():
			result.Outcome = RecoveryCanceled
			result.Err = ctx.Err().Error()
			return result
		case <-time.After(wait):
		}
	}

	result.Outcome = RecoveryAttemptsExceeded
	if lastErr != nil {
		result.Err = lastErr.Error()
	}
	o.logger.Error().
		Str("service", name).
		Int("attempts", result.Attempts).
		Msg("recovery attempts exhausted")
	return result
}

// RecoverSystem recovers every service that is not running, walking the
// dependency order so upstream services are attempted first. When a
// zero-dependency service fails to recover, the pass aborts: nothing
// downstream can succeed without it.
func (o *Orchestrator) RecoverSystem(ctx context.Context) SystemRecovery {
	var recovery SystemRecovery

	pending := make([]string, 0, len(o.order.Flat))
	for _, name := range o.order.Flat {
		desc, err := o.registry.Get(name)
		if err != nil || desc.Disabled {
			continue
		}
		switch o.statusOf(name) {
		case StatusRunning, StatusDegraded:
			continue
		}
		pending = append(pending, name)
	}
	if len(pending) == 0 {
		return recovery
	}

	o.logger.Info().
		Strs("services", pending).
		Msg("starting system recovery")

	for i, name := range pending {
		result := o.Recover(ctx, name)
		recovery.Results = append(recovery.Results, result)
		if result.Recovered() {
			continue
		}

		desc, err := o.registry.Get(name)
		if err == nil && len(desc.Dependencies) == 0 {
			recovery.Aborted = true
			recovery.AbortedBy = name
			recovery.Skipped = append([]string(nil), pending[i+1:]...)
			o.logger.Error().
				Str("service", name).
				Strs("skipped", recovery.Skipped).
				Msg("core service recovery failed, aborting system recovery")
			break
		}
	}
	return recovery
}

// applyStrategy performs one recovery attempt. Dependency restart
// bounces every declared dependency in level order before the service
// itself.
func (o *Orchestrator) applyStrategy(ctx context.Context, desc registry.Descriptor, strategy registry.RecoveryStrategy) error {
	if strategy == registry.RecoveryDependencyRestart {
		deps := append([]string(nil), desc.Dependencies...)
		sort.SliceStable(deps, func(i, j int) bool {
			return o.order.LevelOf(deps[i]) < o.order.LevelOf(deps[j])
		})
		for _, dep := range deps {
			if depDesc, err := o.registry.Get(dep); err == nil && depDesc.Disabled {
				continue
			}
			if err := o.restart(ctx, dep); err != nil {
				return fmt.Errorf("restart dependency %s: %w", dep, err)
			}
			o.markRunning(dep)
		}
	}
	return o.restart(ctx, desc.Name)
}

// restart bounces one service on the runtime. A failed stop is
// tolerated; the container may already be gone.
func (o *Orchestrator) restart(ctx context.Context, name string) error {
	stopCtx, cancel := context.WithTimeout(ctx, o.cfg.StopTimeout)
	err := o.runtime.StopService(stopCtx, name)
	cancel()
	if err != nil {
		o.logger.Debug().Err(err).Str("service", name).Msg("stop before restart failed")
	}

	startCtx, cancel := context.WithTimeout(ctx, o.cfg.StartTimeout)
	defer cancel()
	return o.runtime.StartService(startCtx, name)
}
