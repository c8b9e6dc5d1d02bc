// Package degrade derives the platform-wide service level from weighted
// health results and tracks the primary datastore fallback path.
package degrade

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/netra-systems/service-warden/internal/health"
	"github.com/netra-systems/service-warden/internal/priority"
)

// Level is the discrete platform service level.
type Level string

const (
	LevelFull      Level = "full_service"
	LevelDegraded  Level = "degraded_service"
	LevelCacheOnly Level = "cache_only"
	LevelLimited   Level = "limited_service"
	LevelUnhealthy Level = "unhealthy"
)

// DatabaseStatus reports the primary datastore access path.
type DatabaseStatus string

const (
	DatabaseNormal        DatabaseStatus = "normal"
	DatabaseCacheFallback DatabaseStatus = "cache_fallback"
	DatabaseDown          DatabaseStatus = "down"
)

// Config tunes level derivation. Zero values fall back to defaults.
type Config struct {
	// PrimaryDatastore is the service whose degradation can push the
	// platform into cache-only mode. Defaults to postgres.
	PrimaryDatastore string
	// CacheService must be healthy for cache-only mode. Defaults to redis.
	CacheService string
	// LimitedFraction is the healthy-service fraction below which the
	// platform reports limited service. Defaults to 0.5.
	LimitedFraction float64
}

func (c Config) withDefaults() Config {
	if c.PrimaryDatastore == "" {
		c.PrimaryDatastore = "postgres"
	}
	if c.CacheService == "" {
		c.CacheService = "redis"
	}
	if c.LimitedFraction <= 0 || c.LimitedFraction > 1 {
		c.LimitedFraction = 0.5
	}
	return c
}

// Status is a point-in-time view of the degradation state.
type Status struct {
	ServiceLevel   Level                    `json:"service_level"`
	Score          float64                  `json:"health_score"`
	DatabaseStatus DatabaseStatus           `json:"database_status"`
	Assessment     health.Assessment        `json:"priority_assessment"`
	Services       map[string]health.Status `json:"services"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

// OverallHealth is the condensed health answer served to callers.
type OverallHealth struct {
	Status     health.Status     `json:"status"`
	Score      float64           `json:"health_score"`
	Assessment health.Assessment `json:"priority_assessment"`
}

// Manager derives and serves the platform service level. It only
// reports; the actual fallback behavior lives at the call sites that
// consult it.
type Manager struct {
	logger zerolog.Logger
	cfg    Config

	mu         sync.RWMutex
	results    map[string]health.Result
	priorities map[string]priority.Priority
	level      Level
	dbStatus   DatabaseStatus
	score      float64
	assessment health.Assessment
	updatedAt  time.Time
}

// NewManager builds a Manager that starts at full service.
func NewManager(logger zerolog.Logger, cfg Config) *Manager {
	return &Manager{
		logger:     logger.With().Str("component", "degrade").Logger(),
		cfg:        cfg.withDefaults(),
		level:      LevelFull,
		dbStatus:   DatabaseNormal,
		assessment: health.Assessment{CriticalHealthy: true, ImportantHealthy: true, ProblemServices: []string{}},
	}
}

// SetResults replaces the health results the manager derives from.
// Both maps are copied; callers keep ownership of their arguments.
func (m *Manager) SetResults(results map[string]health.Result, priorities map[string]priority.Priority) {
	copiedResults := make(map[string]health.Result, len(results))
	for name, result := range results {
		copiedResults[name] = result
	}
	copiedPriorities := make(map[string]priority.Priority, len(priorities))
	for name, p := range priorities {
		copiedPriorities[name] = p
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = copiedResults
	m.priorities = copiedPriorities
	m.score = health.Score(copiedResults, copiedPriorities)
	m.assessment = health.Assess(copiedResults, copiedPriorities)
	m.updatedAt = time.Now().UTC()
}

// UpdateServiceLevel recomputes the service level from the stored
// results. It is idempotent: repeated calls without new results return
// the same level.
func (m *Manager) UpdateServiceLevel() Level {
	m.mu.Lock()
	defer m.mu.Unlock()

	previous := m.level
	m.level = m.deriveLevelLocked()
	if m.level != previous {
		m.logger.Info().
			Str("previous", string(previous)).
			Str("current", string(m.level)).
			Float64("score", m.score).
			Msg("service level changed")
	}
	return m.level
}

// UpdateDatabaseStatus recomputes the primary datastore access path.
func (m *Manager) UpdateDatabaseStatus() DatabaseStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	previous := m.dbStatus
	m.dbStatus = m.deriveDatabaseStatusLocked()
	if m.dbStatus != previous {
		m.logger.Info().
			Str("previous", string(previous)).
			Str("current", string(m.dbStatus)).
			Msg("database status changed")
	}
	return m.dbStatus
}

// Level returns the current service level without recomputing it.
func (m *Manager) Level() Level {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.level
}

// Score returns the current weighted health score.
func (m *Manager) Score() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.score
}

// Status returns a copy of the full degradation state.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	services := make(map[string]health.Status, len(m.results))
	for name, result := range m.results {
		services[name] = result.Status
	}
	return Status{
		ServiceLevel:   m.level,
		Score:          m.score,
		DatabaseStatus: m.dbStatus,
		Assessment:     m.assessment,
		Services:       services,
		UpdatedAt:      m.updatedAt,
	}
}

// OverallHealth condenses the degradation state into a health answer.
func (m *Manager) OverallHealth() OverallHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := health.StatusHealthy
	switch m.level {
	case LevelUnhealthy:
		status = health.StatusUnhealthy
	case LevelDegraded, LevelCacheOnly, LevelLimited:
		status = health.StatusDegraded
	}
	return OverallHealth{
		Status:     status,
		Score:      m.score,
		Assessment: m.assessment,
	}
}

// deriveLevelLocked folds the stored results into a service level.
// Rules, in order: any critical service unhealthy fails the platform;
// a degraded primary datastore with a healthy cache runs cache-only;
// any degraded critical or important service degrades the platform;
// fewer than the configured fraction of services healthy limits it.
func (m *Manager) deriveLevelLocked() Level {
	if len(m.results) == 0 {
		return LevelUnhealthy
	}

	healthyCount := 0
	anyTierDegraded := false
	for name, result := range m.results {
		tier := m.priorities[name]
		switch result.Status {
		case health.StatusUnhealthy:
			if tier == priority.Critical {
				return LevelUnhealthy
			}
			if tier != priority.Optional {
				anyTierDegraded = true
			}
		case health.StatusDegraded:
			if tier != priority.Optional {
				anyTierDegraded = true
			}
		case health.StatusHealthy:
			healthyCount++
		}
	}

	if m.primaryDegradedLocked() && m.cacheHealthyLocked() {
		return LevelCacheOnly
	}
	if anyTierDegraded {
		return LevelDegraded
	}
	if float64(healthyCount)/float64(len(m.results)) < m.cfg.LimitedFraction {
		return LevelLimited
	}
	return LevelFull
}

func (m *Manager) deriveDatabaseStatusLocked() DatabaseStatus {
	result, ok := m.results[m.cfg.PrimaryDatastore]
	if !ok {
		return DatabaseNormal
	}
	switch result.Status {
	case health.StatusUnhealthy:
		return DatabaseDown
	case health.StatusDegraded:
		if m.cacheHealthyLocked() {
			return DatabaseCacheFallback
		}
		return DatabaseNormal
	default:
		return DatabaseNormal
	}
}

func (m *Manager) primaryDegradedLocked() bool {
	result, ok := m.results[m.cfg.PrimaryDatastore]
	return ok && result.Status == health.StatusDegraded
}

func (m *Manager) cacheHealthyLocked() bool {
	result, ok := m.results[m.cfg.CacheService]
	return ok && result.Status == health.StatusHealthy
}
