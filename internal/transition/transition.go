package transition

import (
	"sort"

	"github.com/netra-systems/service-warden/internal/degrade"
	"github.com/netra-systems/service-warden/internal/health"
	"github.com/netra-systems/service-warden/internal/state"
)

// ServiceTransition captures a status change for one service.
type ServiceTransition struct {
	Service        string
	PreviousStatus health.Status
	CurrentStatus  health.Status
	Score          float64
	Detail         string
}

// LevelChange captures a service-level move between evaluations.
type LevelChange struct {
	Previous degrade.Level
	Current  degrade.Level
}

// Report aggregates everything that changed since the previous
// evaluation. An empty report means nothing is worth notifying.
type Report struct {
	Transitions []ServiceTransition
	LevelChange *LevelChange
}

// Empty reports whether the report carries no changes.
func (r Report) Empty() bool {
	return len(r.Transitions) == 0 && r.LevelChange == nil
}

// Detect compares the previous snapshot with the current results and
// emits per-service transitions plus any service-level change. On the
// first run (no snapshot) only non-healthy services are reported, so a
// clean start stays quiet.
func Detect(prev *state.Snapshot, results map[string]health.Result, level degrade.Level) Report {
	prevResults := map[string]health.Result{}
	if prev != nil && prev.Results != nil {
		prevResults = prev.Results
	}
	firstRun := prev == nil || len(prevResults) == 0

	var report Report
	for name, current := range results {
		prevResult, hadPrev := prevResults[name]

		if firstRun {
			if current.Status == health.StatusHealthy {
				continue
			}
		} else if hadPrev {
			if prevResult.Status == current.Status {
				continue
			}
		} else if current.Status == health.StatusHealthy {
			continue
		}

		report.Transitions = append(report.Transitions, ServiceTransition{
			Service:        name,
			PreviousStatus: prevResult.Status,
			CurrentStatus:  current.Status,
			Score:          current.Score,
			Detail:         current.Err,
		})
	}

	// Sort by service name for deterministic output
	sort.Slice(report.Transitions, func(i, j int) bool {
		return report.Transitions[i].Service < report.Transitions[j].Service
	})

	report.LevelChange = detectLevelChange(prev, level)
	return report
}

// detectLevelChange reports level moves. The first run only reports a
// level below full service.
func detectLevelChange(prev *state.Snapshot, level degrade.Level) *LevelChange {
	if prev == nil || prev.ServiceLevel == "" {
		if level == degrade.LevelFull {
			return nil
		}
		return &LevelChange{Current: level}
	}
	if prev.ServiceLevel == level {
		return nil
	}
	return &LevelChange{Previous: prev.ServiceLevel, Current: level}
}
