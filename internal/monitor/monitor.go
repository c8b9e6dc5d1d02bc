// Package monitor drives the periodic evaluation loop: probe every
// managed service, derive the platform service level, persist the
// snapshot, surface transitions, and recover services that stopped
// answering their probes.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/netra-systems/service-warden/internal/degrade"
	"github.com/netra-systems/service-warden/internal/health"
	"github.com/netra-systems/service-warden/internal/healthcheck"
	"github.com/netra-systems/service-warden/internal/metrics"
	"github.com/netra-systems/service-warden/internal/notify"
	"github.com/netra-systems/service-warden/internal/orchestrator"
	"github.com/netra-systems/service-warden/internal/priority"
	"github.com/netra-systems/service-warden/internal/state"
	"github.com/netra-systems/service-warden/internal/transition"
)

// Ticker is the minimal interface needed for driving the monitor loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

// Checker probes every managed service and returns results by name.
type Checker interface {
	CheckAll(ctx context.Context) map[string]health.Result
}

// Recoverer downgrades services that stopped answering probes and runs
// dependency-ordered recovery passes over everything not running.
type Recoverer interface {
	MarkUnhealthy(name, reason string) bool
	RecoverSystem(ctx context.Context) orchestrator.SystemRecovery
	States() map[string]orchestrator.ServiceState
}

// Monitor orchestrates the main evaluation loop.
type Monitor struct {
	logger        zerolog.Logger
	environment   string
	pollInterval  time.Duration
	tickerFactory func(time.Duration) Ticker
	runOnce       func(context.Context) error

	checker     Checker
	classifier  *priority.Classifier
	manager     *degrade.Manager
	metrics     *metrics.Metrics
	tracker     *healthcheck.Tracker
	notifier    notify.Notifier
	recoverer   Recoverer
	fingerprint string

	stateStore   state.Store
	stateMu      *sync.Mutex
	lastSnapshot *state.Snapshot
}

// Option customizes monitor behavior.
type Option func(*Monitor)

// WithTickerFactory overrides how tickers are created.
func WithTickerFactory(factory func(time.Duration) Ticker) Option {
	return func(m *Monitor) {
		m.tickerFactory = factory
	}
}

// WithRunOnce overrides the single-cycle execution step.
func WithRunOnce(runOnce func(context.Context) error) Option {
	return func(m *Monitor) {
		m.runOnce = runOnce
	}
}

// WithMetrics publishes per-cycle gauges and counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mon *Monitor) {
		mon.metrics = m
	}
}

// WithTracker records cycle completions for the liveness handlers.
func WithTracker(tracker *healthcheck.Tracker) Option {
	return func(m *Monitor) {
		m.tracker = tracker
	}
}

// WithNotifier delivers transition reports after each cycle.
func WithNotifier(notifier notify.Notifier) Option {
	return func(m *Monitor) {
		m.notifier = notifier
	}
}

// WithRecoverer enables the automatic recovery pass for services whose
// probes report unhealthy.
func WithRecoverer(recoverer Recoverer) Option {
	return func(m *Monitor) {
		m.recoverer = recoverer
	}
}

// WithStateStore enables snapshot persistence across restarts. The lock
// may be shared with other writers of the same store; pass nil to let
// the monitor manage its own.
func WithStateStore(store state.Store, lock *sync.Mutex) Option {
	return func(m *Monitor) {
		m.stateStore = store
		m.stateMu = lock
	}
}

// WithManifestFingerprint stamps persisted snapshots with the manifest
// version they were evaluated against.
func WithManifestFingerprint(fingerprint string) Option {
	return func(m *Monitor) {
		m.fingerprint = fingerprint
	}
}

// New constructs a Monitor for one deployment environment.
func New(logger zerolog.Logger, environment string, pollInterval time.Duration, checker Checker, classifier *priority.Classifier, manager *degrade.Manager, opts ...Option) *Monitor {
	m := &Monitor{
		logger:       logger.With().Str("component", "monitor").Logger(),
		environment:  environment,
		pollInterval: pollInterval,
		tickerFactory: func(d time.Duration) Ticker {
			return timeTicker{ticker: time.NewTicker(d)}
		},
		checker:    checker,
		classifier: classifier,
		manager:    manager,
	}
	m.runOnce = m.defaultRunOnce

	for _, opt := range opts {
		opt(m)
	}
	if m.stateStore != nil && m.stateMu == nil {
		m.stateMu = &sync.Mutex{}
	}

	return m
}

// Run starts the main loop and blocks until the context is canceled.
// Cycle errors are logged, never returned: one bad cycle must not take
// the monitor down.
func (m *Monitor) Run(ctx context.Context) error {
	if m.pollInterval <= 0 {
		return errors.New("poll interval must be greater than zero")
	}

	// Run immediately on startup
	if err := m.RunOnce(ctx); err != nil {
		m.logger.Error().Err(err).Msg("initial evaluation cycle failed")
	}

	ticker := m.tickerFactory(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("monitor stopped")
			return nil
		case <-ticker.C():
			if err := m.RunOnce(ctx); err != nil {
				m.logger.Error().Err(err).Msg("evaluation cycle failed")
			}
		}
	}
}

// RunOnce executes a single evaluation cycle.
func (m *Monitor) RunOnce(ctx context.Context) error {
	return m.runOnce(ctx)
}

func (m *Monitor) defaultRunOnce(ctx context.Context) error {
	started := time.Now()

	results := m.checker.CheckAll(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	priorities := m.classifier.Priorities(names)

	m.manager.SetResults(results, priorities)
	level := m.manager.UpdateServiceLevel()
	dbStatus := m.manager.UpdateDatabaseStatus()
	score := m.manager.Score()

	m.publishMetrics(results, level, score)

	previous := m.lastSnapshot
	current := state.Snapshot{
		ServiceLevel:        level,
		Score:               score,
		Results:             results,
		ManifestFingerprint: m.fingerprint,
		EvaluatedAt:         time.Now().UTC(),
	}
	if m.stateStore != nil {
		persisted, err := m.persist(ctx, current)
		if err != nil {
			return wrapRuntime("persist state", err)
		}
		if previous == nil {
			previous = persisted
		}
	}
	m.lastSnapshot = &current

	report := transition.Detect(previous, results, level)
	m.logTransitions(report)
	if m.notifier != nil && !report.Empty() {
		if err := m.notifier.Notify(ctx, m.environment, report); err != nil {
			m.metrics.IncNotifyErrors()
			m.logger.Error().Err(err).Msg("notification delivery failed")
		}
	}

	if m.recoverer != nil {
		m.recoverUnhealthy(ctx, results)
		m.publishCircuitStates()
	}

	m.metrics.IncEvaluationCycles()
	m.tracker.RecordCycle(time.Since(started), len(results), string(level))

	m.logger.Info().
		Int("services", len(results)).
		Float64("score", score).
		Str("service_level", string(level)).
		Str("database_status", string(dbStatus)).
		Dur("elapsed", time.Since(started)).
		Msg("evaluation cycle complete")

	return nil
}

// persist writes the current snapshot for this environment and returns
// the snapshot it replaced, if any. Other environments' snapshots in
// the same store are left untouched.
func (m *Monitor) persist(ctx context.Context, current state.Snapshot) (*state.Snapshot, error) {
	var previous *state.Snapshot
	err := m.withStateLock(func() error {
		loaded, err := m.stateStore.Load(ctx)
		if err != nil {
			return err
		}
		if existing, ok := loaded.Environments[m.environment]; ok {
			snapshotCopy := existing
			previous = &snapshotCopy
		}

		if loaded.Environments == nil {
			loaded.Environments = map[string]state.Snapshot{}
		}
		loaded.Environments[m.environment] = current

		return m.stateStore.Save(ctx, loaded)
	})
	if err != nil {
		return nil, err
	}
	return previous, nil
}

func (m *Monitor) publishMetrics(results map[string]health.Result, level degrade.Level, score float64) {
	m.metrics.SetHealthScore(m.environment, score)
	m.metrics.ResetServiceHealth()
	for name, result := range results {
		m.metrics.SetServiceHealth(name, string(result.Status), result.Score)
		m.metrics.ObserveProbeDuration(name, result.ResponseTime)
	}
	m.metrics.SetServiceLevel(string(level))
}

// publishCircuitStates reflects breaker positions after the cycle's
// recovery work, so an open breaker is visible before its next trial.
func (m *Monitor) publishCircuitStates() {
	for name, st := range m.recoverer.States() {
		m.metrics.SetCircuitState(name, string(st.Breaker.State))
	}
}

func (m *Monitor) logTransitions(report transition.Report) {
	for _, change := range report.Transitions {
		var event *zerolog.Event
		switch change.CurrentStatus {
		case health.StatusUnhealthy:
			event = m.logger.Error()
		case health.StatusDegraded:
			event = m.logger.Warn()
		default:
			event = m.logger.Info()
		}

		event = event.
			Str("service", change.Service).
			Str("previous_status", string(change.PreviousStatus)).
			Str("current_status", string(change.CurrentStatus)).
			Float64("score", change.Score)
		if change.Detail != "" {
			event = event.Str("detail", change.Detail)
		}
		event.Msg("service transition detected")
	}

	if change := report.LevelChange; change != nil {
		m.logger.Warn().
			Str("previous_level", string(change.Previous)).
			Str("current_level", string(change.Current)).
			Msg("service level transition")
	}
}

// recoverUnhealthy downgrades every service whose probe came back
// unhealthy, then runs one dependency-ordered recovery pass when
// anything needed it. Degraded services stay deliberately degraded.
func (m *Monitor) recoverUnhealthy(ctx context.Context, results map[string]health.Result) {
	needed := false
	for name, result := range results {
		if result.Status != health.StatusUnhealthy {
			continue
		}
		needed = true
		reason := result.Err
		if reason == "" {
			reason = "probe reported unhealthy"
		}
		m.recoverer.MarkUnhealthy(name, reason)
	}
	if !needed {
		return
	}

	recovery := m.recoverer.RecoverSystem(ctx)
	for _, result := range recovery.Results {
		m.metrics.IncRecoveryAttempts(result.Service, string(result.Outcome))

		event := m.logger.Info()
		if !result.Recovered() {
			event = m.logger.Warn()
		}
		event.
			Str("service", result.Service).
			Str("strategy", string(result.Strategy)).
			Str("outcome", string(result.Outcome)).
			Int("attempts", result.Attempts).
			Msg("recovery attempt finished")
	}
	if recovery.Aborted {
		m.logger.Error().
			Str("service", recovery.AbortedBy).
			Strs("skipped", recovery.Skipped).
			Msg("system recovery aborted")
	}
}

func (m *Monitor) withStateLock(fn func() error) error {
	if m.stateMu == nil {
		return fn()
	}
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return fn()
}
