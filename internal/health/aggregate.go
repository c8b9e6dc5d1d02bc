package health

import (
	"sort"

	"github.com/netra-systems/service-warden/internal/priority"
)

// Score folds per-service results into one weighted score in [0, 1].
// Each service contributes its result score times its priority weight;
// the total is normalized by the sum of weights. An empty result set
// scores zero. Services missing from priorities weigh as Important.
func Score(results map[string]Result, priorities map[string]priority.Priority) float64 {
	if len(results) == 0 {
		return 0.0
	}
	var weighted, total float64
	for name, result := range results {
		weight := priorities[name].Weight()
		weighted += result.Score * weight
		total += weight
	}
	if total == 0 {
		return 0.0
	}
	return weighted / total
}

// Assessment summarizes platform health by priority tier.
type Assessment struct {
	CriticalHealthy  bool     `json:"critical_services_healthy"`
	ImportantHealthy bool     `json:"important_services_healthy"`
	ProblemServices  []string `json:"problem_services"`
}

// Assess reports whether each priority tier is fully healthy and which
// services are currently degraded or unhealthy.
func Assess(results map[string]Result, priorities map[string]priority.Priority) Assessment {
	assessment := Assessment{
		CriticalHealthy:  true,
		ImportantHealthy: true,
		ProblemServices:  []string{},
	}
	for name, result := range results {
		if result.Status == StatusHealthy {
			continue
		}
		assessment.ProblemServices = append(assessment.ProblemServices, name)
		switch priorities[name] {
		case priority.Critical:
			assessment.CriticalHealthy = false
		case priority.Optional:
		default:
			assessment.ImportantHealthy = false
		}
	}
	sort.Strings(assessment.ProblemServices)
	return assessment
}

// Overall folds all result statuses into a single platform status.
// No results means the platform state is unknown.
func Overall(results map[string]Result) Status {
	if len(results) == 0 {
		return StatusUnknown
	}
	status := StatusHealthy
	for _, result := range results {
		status = Worst(status, result.Status)
	}
	return status
}
