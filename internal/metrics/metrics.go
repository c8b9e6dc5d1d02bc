package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps Prometheus collectors for service-warden. All methods
// are safe on a nil receiver so callers never need to guard.
type Metrics struct {
	registry              *prometheus.Registry
	healthScore           *prometheus.GaugeVec
	serviceHealth         *prometheus.GaugeVec
	serviceLevel          *prometheus.GaugeVec
	probeDurationSeconds  *prometheus.HistogramVec
	recoveryAttemptsTotal *prometheus.CounterVec
	circuitState          *prometheus.GaugeVec
	evaluationCyclesTotal prometheus.Counter
	notifyErrorsTotal     prometheus.Counter
}

// New initializes a Metrics registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		healthScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "warden_health_score",
			Help: "Weighted platform health score between 0 and 1.",
		}, []string{"environment"}),
		serviceHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "warden_service_health",
			Help: "Per-service health score by current status.",
		}, []string{"service", "status"}),
		serviceLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "warden_service_level",
			Help: "Active degradation level (1 for the current level).",
		}, []string{"level"}),
		probeDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_probe_duration_seconds",
			Help:    "Duration of individual health probes in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"service"}),
		recoveryAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_recovery_attempts_total",
			Help: "Total recovery runs by service and outcome.",
		}, []string{"service", "outcome"}),
		circuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "warden_circuit_state",
			Help: "Circuit breaker state per service (0 closed, 1 half-open, 2 open).",
		}, []string{"service"}),
		evaluationCyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_evaluation_cycles_total",
			Help: "Total completed health evaluation cycles.",
		}),
		notifyErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_notify_errors_total",
			Help: "Total notification delivery failures.",
		}),
	}

	registry.MustRegister(
		m.healthScore,
		m.serviceHealth,
		m.serviceLevel,
		m.probeDurationSeconds,
		m.recoveryAttemptsTotal,
		m.circuitState,
		m.evaluationCyclesTotal,
		m.notifyErrorsTotal,
	)

	return m
}

// Handler returns a Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetHealthScore records the weighted platform score for an environment.
func (m *Metrics) SetHealthScore(environment string, score float64) {
	if m == nil {
		return
	}
	m.healthScore.WithLabelValues(environment).Set(score)
}

// SetServiceHealth records one service's score under its current status.
func (m *Metrics) SetServiceHealth(service string, status string, score float64) {
	if m == nil {
		return
	}
	m.serviceHealth.WithLabelValues(service, status).Set(score)
}

// ResetServiceHealth clears per-service gauges so stale status labels do
// not linger across cycles.
func (m *Metrics) ResetServiceHealth() {
	if m == nil {
		return
	}
	m.serviceHealth.Reset()
}

// SetServiceLevel marks the active degradation level.
func (m *Metrics) SetServiceLevel(level string) {
	if m == nil {
		return
	}
	m.serviceLevel.Reset()
	m.serviceLevel.WithLabelValues(level).Set(1)
}

// ObserveProbeDuration records the duration of one probe.
func (m *Metrics) ObserveProbeDuration(service string, duration time.Duration) {
	if m == nil {
		return
	}
	m.probeDurationSeconds.WithLabelValues(service).Observe(duration.Seconds())
}

// IncRecoveryAttempts increments the recovery counter for the given service/outcome.
func (m *Metrics) IncRecoveryAttempts(service string, outcome string) {
	if m == nil {
		return
	}
	m.recoveryAttemptsTotal.WithLabelValues(service, outcome).Inc()
}

// SetCircuitState records a breaker state change.
func (m *Metrics) SetCircuitState(service string, state string) {
	if m == nil {
		return
	}
	m.circuitState.WithLabelValues(service).Set(circuitStateValue(state))
}

// IncEvaluationCycles increments the completed-cycle counter.
func (m *Metrics) IncEvaluationCycles() {
	if m == nil {
		return
	}
	m.evaluationCyclesTotal.Inc()
}

// IncNotifyErrors increments the notification failure counter.
func (m *Metrics) IncNotifyErrors() {
	if m == nil {
		return
	}
	m.notifyErrorsTotal.Inc()
}

func circuitStateValue(state string) float64 {
	switch state {
	case "open":
		return 2
	case "half_open":
		return 1
	default:
		return 0
	}
}
