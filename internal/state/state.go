package state

import (
	"context"
	"time"

	"github.com/netra-systems/service-warden/internal/degrade"
	"github.com/netra-systems/service-warden/internal/health"
)

// Snapshot captures one environment's evaluated health state.
type Snapshot struct {
	ServiceLevel        degrade.Level            `json:"service_level"`
	Score               float64                  `json:"health_score"`
	Results             map[string]health.Result `json:"results"`
	ManifestFingerprint string                   `json:"manifest_fingerprint"`
	EvaluatedAt         time.Time                `json:"evaluated_at"`
}

// State stores snapshots for all environments.
type State struct {
	Environments map[string]Snapshot `json:"environments"`
}

// Store defines the interface for persisting state.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, state State) error
}
