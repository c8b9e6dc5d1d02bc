// Package health defines the health model shared across the warden:
// per-service probe results, status severity folding, and the
// priority-weighted aggregation used to score the platform as a whole.
package health

import "time"

// Status represents the probed health of a single service.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Result captures the outcome of a single health probe. Results are value
// objects: one is produced per probe and never mutated afterwards.
type Result struct {
	Service      string            `json:"service"`
	Success      bool              `json:"success"`
	Score        float64           `json:"score"`
	Status       Status            `json:"status"`
	ResponseTime time.Duration     `json:"response_time"`
	Err          string            `json:"error,omitempty"`
	Details      map[string]string `json:"details,omitempty"`
	CheckedAt    time.Time         `json:"checked_at"`
}

// Healthy returns a passing result for the service.
func Healthy(service string) Result {
	return Result{
		Service:   service,
		Success:   true,
		Score:     1.0,
		Status:    StatusHealthy,
		CheckedAt: time.Now().UTC(),
	}
}

// Degraded returns a partially failing result for the service.
func Degraded(service, reason string) Result {
	return Result{
		Service:   service,
		Success:   true,
		Score:     0.5,
		Status:    StatusDegraded,
		Err:       reason,
		CheckedAt: time.Now().UTC(),
	}
}

// Unhealthy returns a failing result for the service.
func Unhealthy(service, reason string) Result {
	return Result{
		Service:   service,
		Success:   false,
		Score:     0.0,
		Status:    StatusUnhealthy,
		Err:       reason,
		CheckedAt: time.Now().UTC(),
	}
}

// WithDetail returns a copy of the result with the detail key set. The
// receiver's detail map is never shared with the copy.
func (r Result) WithDetail(key, value string) Result {
	details := make(map[string]string, len(r.Details)+1)
	for k, v := range r.Details {
		details[k] = v
	}
	details[key] = value
	r.Details = details
	return r
}

// Worst returns the more severe of the two statuses.
func Worst(current, next Status) Status {
	if severity(next) > severity(current) {
		return next
	}
	return current
}

func severity(status Status) int {
	switch status {
	case StatusUnhealthy:
		return 3
	case StatusDegraded:
		return 2
	case StatusHealthy:
		return 1
	default:
		return 0
	}
}
