// Package config loads warden runtime configuration from environment
// variables, with an optional .env file for local development. Real
// environment variables always win over .env values.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envEnvironment         = "WARDEN_ENVIRONMENT"
	envManifestPath        = "WARDEN_MANIFEST_PATH"
	envManifestURL         = "WARDEN_MANIFEST_URL"
	envManifestTimeout     = "WARDEN_MANIFEST_TIMEOUT"
	envOverridesPath       = "WARDEN_OVERRIDES_PATH"
	envPollInterval        = "WARDEN_POLL_INTERVAL"
	envProbeTimeout        = "WARDEN_PROBE_TIMEOUT"
	envConcurrencyLimit    = "WARDEN_CONCURRENCY_LIMIT"
	envFailureThreshold    = "WARDEN_FAILURE_THRESHOLD"
	envStartTimeout        = "WARDEN_START_TIMEOUT"
	envStopTimeout         = "WARDEN_STOP_TIMEOUT"
	envRecoveryTimeout     = "WARDEN_RECOVERY_TIMEOUT"
	envMaxRecoveryAttempts = "WARDEN_MAX_RECOVERY_ATTEMPTS"
	envHealthPort          = "WARDEN_HEALTH_PORT"
	envMetricsPort         = "WARDEN_METRICS_PORT"
	envStatePath           = "WARDEN_STATE_PATH"
	envSlackWebhookURL     = "WARDEN_SLACK_WEBHOOK_URL"
	envNotifyWebhookURL    = "WARDEN_NOTIFY_WEBHOOK_URL"
	envNotifyDryRun        = "WARDEN_NOTIFY_DRY_RUN"
	envPrimaryDatastore    = "WARDEN_PRIMARY_DATASTORE"
	envCacheService        = "WARDEN_CACHE_SERVICE"
	envLimitedFraction     = "WARDEN_LIMITED_FRACTION"
	envLogLevel            = "WARDEN_LOG_LEVEL"
	envRuntime             = "WARDEN_RUNTIME"
	envDockerHost          = "WARDEN_DOCKER_HOST"
	envDockerTLSCA         = "WARDEN_DOCKER_TLS_CA"
	envDockerTLSCert       = "WARDEN_DOCKER_TLS_CERT"
	envDockerTLSKey        = "WARDEN_DOCKER_TLS_KEY"
)

const (
	defaultEnvironment         = "development"
	defaultManifestTimeout     = 10 * time.Second
	defaultPollInterval        = 30 * time.Second
	defaultConcurrencyLimit    = 4
	defaultFailureThreshold    = 3
	defaultStartTimeout        = 30 * time.Second
	defaultStopTimeout         = 10 * time.Second
	defaultRecoveryTimeout     = 30 * time.Second
	defaultMaxRecoveryAttempts = 3
	defaultHealthPort          = 8080
	defaultMetricsPort         = 9090
	defaultPrimaryDatastore    = "postgres"
	defaultCacheService        = "redis"
	defaultLimitedFraction     = 0.5
	defaultLogLevel            = "info"
)

// RuntimeKind selects the container backend the warden manages.
type RuntimeKind string

const (
	// RuntimeNone runs the warden in probe-only mode: services are
	// observed but never started, stopped, or recovered.
	RuntimeNone RuntimeKind = "none"
	// RuntimeDocker manages services through the Docker API.
	RuntimeDocker RuntimeKind = "docker"
)

// Config describes runtime configuration loaded from the environment.
type Config struct {
	// Environment names the deployment environment. Probe timeouts and
	// priority overrides key off it. Unknown values are accepted and
	// get the conservative production probe timeout.
	Environment string

	// ManifestPath and ManifestURL locate the service manifest; exactly
	// one must be set.
	ManifestPath    string
	ManifestURL     string
	ManifestTimeout time.Duration
	OverridesPath   string

	PollInterval time.Duration
	// ProbeTimeout overrides the environment-derived probe timeout.
	// Zero keeps the derived value.
	ProbeTimeout time.Duration

	ConcurrencyLimit    int
	FailureThreshold    int
	StartTimeout        time.Duration
	StopTimeout         time.Duration
	RecoveryTimeout     time.Duration
	MaxRecoveryAttempts int

	// HealthPort and MetricsPort select the listeners. Equal values
	// share one server; zero disables that listener.
	HealthPort  int
	MetricsPort int

	// StatePath enables snapshot persistence when set.
	StatePath string

	SlackWebhookURL  string
	NotifyWebhookURL string
	NotifyDryRun     bool

	PrimaryDatastore string
	CacheService     string
	LimitedFraction  float64

	// LogLevel names the zerolog level; unknown values fall back to info.
	LogLevel string

	Runtime       RuntimeKind
	DockerHost    string
	DockerTLSCA   string
	DockerTLSCert string
	DockerTLSKey  string
}

// Load reads configuration from environment variables and a local .env
// file if present. Existing environment variables take precedence over
// values in .env.
func Load() (Config, error) {
	if err := loadDotEnvIfPresent(".env"); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Environment:         defaultEnvironment,
		ManifestTimeout:     defaultManifestTimeout,
		PollInterval:        defaultPollInterval,
		ConcurrencyLimit:    defaultConcurrencyLimit,
		FailureThreshold:    defaultFailureThreshold,
		StartTimeout:        defaultStartTimeout,
		StopTimeout:         defaultStopTimeout,
		RecoveryTimeout:     defaultRecoveryTimeout,
		MaxRecoveryAttempts: defaultMaxRecoveryAttempts,
		HealthPort:          defaultHealthPort,
		MetricsPort:         defaultMetricsPort,
		PrimaryDatastore:    defaultPrimaryDatastore,
		CacheService:        defaultCacheService,
		LimitedFraction:     defaultLimitedFraction,
		LogLevel:            defaultLogLevel,
		Runtime:             RuntimeNone,
	}

	if value, ok := lookupTrimmed(envEnvironment); ok && value != "" {
		cfg.Environment = strings.ToLower(value)
	}
	if value, ok := lookupTrimmed(envManifestPath); ok {
		cfg.ManifestPath = value
	}
	if value, ok := lookupTrimmed(envManifestURL); ok {
		cfg.ManifestURL = value
	}
	if value, ok := lookupTrimmed(envOverridesPath); ok {
		cfg.OverridesPath = value
	}
	if value, ok := lookupTrimmed(envStatePath); ok {
		cfg.StatePath = value
	}
	if value, ok := lookupTrimmed(envSlackWebhookURL); ok {
		cfg.SlackWebhookURL = value
	}
	if value, ok := lookupTrimmed(envNotifyWebhookURL); ok {
		cfg.NotifyWebhookURL = value
	}
	if value, ok := lookupTrimmed(envPrimaryDatastore); ok && value != "" {
		cfg.PrimaryDatastore = value
	}
	if value, ok := lookupTrimmed(envCacheService); ok && value != "" {
		cfg.CacheService = value
	}
	if value, ok := lookupTrimmed(envLogLevel); ok && value != "" {
		cfg.LogLevel = value
	}
	if value, ok := lookupTrimmed(envDockerHost); ok {
		cfg.DockerHost = value
	}
	if value, ok := lookupTrimmed(envDockerTLSCA); ok {
		cfg.DockerTLSCA = value
	}
	if value, ok := lookupTrimmed(envDockerTLSCert); ok {
		cfg.DockerTLSCert = value
	}
	if value, ok := lookupTrimmed(envDockerTLSKey); ok {
		cfg.DockerTLSKey = value
	}

	var err error
	if cfg.ManifestTimeout, err = durationVar(envManifestTimeout, cfg.ManifestTimeout); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval, err = durationVar(envPollInterval, cfg.PollInterval); err != nil {
		return Config{}, err
	}
	if cfg.ProbeTimeout, err = durationVar(envProbeTimeout, cfg.ProbeTimeout); err != nil {
		return Config{}, err
	}
	if cfg.StartTimeout, err = durationVar(envStartTimeout, cfg.StartTimeout); err != nil {
		return Config{}, err
	}
	if cfg.StopTimeout, err = durationVar(envStopTimeout, cfg.StopTimeout); err != nil {
		return Config{}, err
	}
	if cfg.RecoveryTimeout, err = durationVar(envRecoveryTimeout, cfg.RecoveryTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ConcurrencyLimit, err = positiveIntVar(envConcurrencyLimit, cfg.ConcurrencyLimit); err != nil {
		return Config{}, err
	}
	if cfg.FailureThreshold, err = positiveIntVar(envFailureThreshold, cfg.FailureThreshold); err != nil {
		return Config{}, err
	}
	if cfg.MaxRecoveryAttempts, err = positiveIntVar(envMaxRecoveryAttempts, cfg.MaxRecoveryAttempts); err != nil {
		return Config{}, err
	}
	if cfg.HealthPort, err = portVar(envHealthPort, cfg.HealthPort); err != nil {
		return Config{}, err
	}
	if cfg.MetricsPort, err = portVar(envMetricsPort, cfg.MetricsPort); err != nil {
		return Config{}, err
	}
	if cfg.NotifyDryRun, err = boolVar(envNotifyDryRun, cfg.NotifyDryRun); err != nil {
		return Config{}, err
	}
	if cfg.LimitedFraction, err = fractionVar(envLimitedFraction, cfg.LimitedFraction); err != nil {
		return Config{}, err
	}
	if cfg.Runtime, err = runtimeVar(envRuntime, cfg.Runtime); err != nil {
		return Config{}, err
	}

	if cfg.ManifestPath == "" && cfg.ManifestURL == "" {
		return Config{}, fmt.Errorf("one of %s or %s is required", envManifestPath, envManifestURL)
	}
	if cfg.ManifestPath != "" && cfg.ManifestURL != "" {
		return Config{}, fmt.Errorf("%s and %s are mutually exclusive", envManifestPath, envManifestURL)
	}
	if cfg.ManifestURL != "" {
		if err := validateURL(cfg.ManifestURL, envManifestURL); err != nil {
			return Config{}, err
		}
	}
	if cfg.SlackWebhookURL != "" {
		if err := validateURL(cfg.SlackWebhookURL, envSlackWebhookURL); err != nil {
			return Config{}, err
		}
	}
	if cfg.NotifyWebhookURL != "" {
		if err := validateURL(cfg.NotifyWebhookURL, envNotifyWebhookURL); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func loadDotEnvIfPresent(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return nil
	}

	return err
}

func durationVar(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero", key)
	}
	return parsed, nil
}

func positiveIntVar(key string, fallback int) (int, error) {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero", key)
	}
	return parsed, nil
}

func portVar(key string, fallback int) (int, error) {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed < 0 || parsed > 65535 {
		return 0, fmt.Errorf("%s must be between 0 and 65535", key)
	}
	return parsed, nil
}

func boolVar(key string, fallback bool) (bool, error) {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func fractionVar(key string, fallback float64) (float64, error) {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed <= 0 || parsed > 1 {
		return 0, fmt.Errorf("%s must be in (0, 1]", key)
	}
	return parsed, nil
}

func runtimeVar(key string, fallback RuntimeKind) (RuntimeKind, error) {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return fallback, nil
	}
	switch RuntimeKind(strings.ToLower(value)) {
	case RuntimeNone:
		return RuntimeNone, nil
	case RuntimeDocker:
		return RuntimeDocker, nil
	default:
		return "", fmt.Errorf("invalid %s: must be %s or %s", key, RuntimeNone, RuntimeDocker)
	}
}

func validateURL(value, name string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid %s: must include scheme and host", name)
	}
	return nil
}
