package healthcheck

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/netra-systems/service-warden/internal/degrade"
	"github.com/netra-systems/service-warden/internal/health"
)

func TestHealthHandlerHealthy(t *testing.T) {
	tracker := NewTracker()
	tracker.RecordCycle(150*time.Millisecond, 4, "full_service")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler := HealthHandler(tracker, 5*time.Second)
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.LastCycleTime == nil {
		t.Fatalf("expected last cycle time to be set")
	}
	if payload.ComponentsEvaluated != 4 {
		t.Fatalf("expected components evaluated 4, got %d", payload.ComponentsEvaluated)
	}
	if payload.CycleDurationMS != 150 {
		t.Fatalf("expected duration 150ms, got %d", payload.CycleDurationMS)
	}
	if payload.ServiceLevel != "full_service" {
		t.Fatalf("expected full_service level, got %s", payload.ServiceLevel)
	}
}

func TestHealthHandlerUnhealthyWhenStale(t *testing.T) {
	tracker := NewTracker()
	tracker.RecordCycle(10*time.Millisecond, 1, "full_service")
	tracker.lastCycle = time.Now().Add(-10 * time.Second)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler := HealthHandler(tracker, 3*time.Second)
	handler(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestReadyHandler(t *testing.T) {
	tracker := NewTracker()

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	handler := ReadyHandler(tracker, nil)
	handler(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before ready, got %d", rec.Code)
	}

	tracker.RecordCycle(5*time.Millisecond, 1, "full_service")
	rec = httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after ready, got %d", rec.Code)
	}
}

func TestReadyHandlerRequiresCriticalServices(t *testing.T) {
	tracker := NewTracker()
	tracker.RecordCycle(5*time.Millisecond, 3, "unhealthy")

	criticalsUp := false
	handler := ReadyHandler(tracker, func() bool { return criticalsUp })

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with critical services down, got %d", rec.Code)
	}

	criticalsUp = true
	rec = httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with critical services up, got %d", rec.Code)
	}
}

func TestStatusHandler(t *testing.T) {
	status := degrade.Status{
		ServiceLevel:   degrade.LevelDegraded,
		Score:          0.667,
		DatabaseStatus: degrade.DatabaseNormal,
		Assessment: health.Assessment{
			CriticalHealthy:  true,
			ImportantHealthy: false,
			ProblemServices:  []string{"redis"},
		},
	}

	handler := StatusHandler(func() degrade.Status { return status })

	req := httptest.NewRequest(http.MethodGet, "/statusz", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["service_level"] != "degraded_service" {
		t.Fatalf("expected degraded_service, got %v", payload["service_level"])
	}
	if payload["health_score"] != 0.667 {
		t.Fatalf("expected score 0.667, got %v", payload["health_score"])
	}
	assessment, ok := payload["priority_assessment"].(map[string]any)
	if !ok {
		t.Fatalf("expected priority assessment object, got %v", payload["priority_assessment"])
	}
	if assessment["critical_services_healthy"] != true {
		t.Fatalf("expected critical services healthy, got %v", assessment)
	}
	problems, ok := assessment["problem_services"].([]any)
	if !ok || len(problems) != 1 || problems[0] != "redis" {
		t.Fatalf("expected redis in problem services, got %v", assessment["problem_services"])
	}
}

func TestStatusHandlerUnavailable(t *testing.T) {
	handler := StatusHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "/statusz", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
