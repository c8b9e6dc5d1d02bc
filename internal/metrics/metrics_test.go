package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsUpdates(t *testing.T) {
	m := New()

	m.SetHealthScore("production", 0.667)
	m.SetServiceHealth("postgres", "healthy", 1.0)
	m.SetServiceHealth("redis", "degraded", 0.5)
	m.SetServiceLevel("degraded_service")
	m.ObserveProbeDuration("postgres", 120*time.Millisecond)
	m.IncRecoveryAttempts("redis", "recovered")
	m.SetCircuitState("redis", "open")
	m.IncEvaluationCycles()
	m.IncNotifyErrors()

	if got := testutil.ToFloat64(m.healthScore.WithLabelValues("production")); got != 0.667 {
		t.Fatalf("expected health score 0.667, got %v", got)
	}
	if got := testutil.ToFloat64(m.serviceHealth.WithLabelValues("postgres", "healthy")); got != 1.0 {
		t.Fatalf("expected postgres health 1.0, got %v", got)
	}
	if got := testutil.ToFloat64(m.serviceHealth.WithLabelValues("redis", "degraded")); got != 0.5 {
		t.Fatalf("expected redis health 0.5, got %v", got)
	}
	if got := testutil.ToFloat64(m.serviceLevel.WithLabelValues("degraded_service")); got != 1 {
		t.Fatalf("expected active level 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.recoveryAttemptsTotal.WithLabelValues("redis", "recovered")); got != 1 {
		t.Fatalf("expected recovery attempts 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.circuitState.WithLabelValues("redis")); got != 2 {
		t.Fatalf("expected open circuit value 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.evaluationCyclesTotal); got != 1 {
		t.Fatalf("expected evaluation cycles 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.notifyErrorsTotal); got != 1 {
		t.Fatalf("expected notify errors 1, got %v", got)
	}
	if count := testutil.CollectAndCount(m.probeDurationSeconds); count == 0 {
		t.Fatalf("expected probe duration histogram to be collected")
	}
}

func TestMetricsLevelSwitchClearsPrevious(t *testing.T) {
	m := New()

	m.SetServiceLevel("full_service")
	m.SetServiceLevel("cache_only")

	if got := testutil.ToFloat64(m.serviceLevel.WithLabelValues("cache_only")); got != 1 {
		t.Fatalf("expected cache_only 1, got %v", got)
	}
	// The previous level label must be gone, not merely zeroed.
	if count := testutil.CollectAndCount(m.serviceLevel); count != 1 {
		t.Fatalf("expected a single level series, got %d", count)
	}
}

func TestMetricsResetServiceHealth(t *testing.T) {
	m := New()

	m.SetServiceHealth("postgres", "healthy", 1.0)
	m.SetServiceHealth("postgres", "unhealthy", 0.0)
	m.ResetServiceHealth()
	m.SetServiceHealth("postgres", "healthy", 1.0)

	if count := testutil.CollectAndCount(m.serviceHealth); count != 1 {
		t.Fatalf("expected a single service health series, got %d", count)
	}
}

func TestMetricsNilReceiver(t *testing.T) {
	var m *Metrics

	// None of these may panic.
	m.SetHealthScore("production", 1.0)
	m.SetServiceHealth("postgres", "healthy", 1.0)
	m.ResetServiceHealth()
	m.SetServiceLevel("full_service")
	m.ObserveProbeDuration("postgres", time.Second)
	m.IncRecoveryAttempts("postgres", "recovered")
	m.SetCircuitState("postgres", "closed")
	m.IncEvaluationCycles()
	m.IncNotifyErrors()

	if m.Handler() == nil {
		t.Fatalf("expected fallback handler for nil metrics")
	}
}
