package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func baseConfig() Config {
	return Config{
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
}

func TestLoad_ValidationAndDefaults(t *testing.T) {
	cases := []struct {
		name    string
		env     map[string]string
		wantErr bool
		want    func() Config
	}{
		{
			name:    "missing manifest source",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name: "defaults applied",
			env: map[string]string{
				envManifestPath: "warden.yml",
			},
			want: func() Config {
				cfg := baseConfig()
				cfg.ManifestPath = "warden.yml"
				return cfg
			},
		},
		{
			name: "manifest path and url are mutually exclusive",
			env: map[string]string{
				envManifestPath: "warden.yml",
				envManifestURL:  "https://example.com/warden.yml",
			},
			wantErr: true,
		},
		{
			name: "manifest url missing scheme",
			env: map[string]string{
				envManifestURL: "example.com/warden.yml",
			},
			wantErr: true,
		},
		{
			name: "invalid poll interval",
			env: map[string]string{
				envManifestPath: "warden.yml",
				envPollInterval: "nope",
			},
			wantErr: true,
		},
		{
			name: "zero poll interval",
			env: map[string]string{
				envManifestPath: "warden.yml",
				envPollInterval: "0s",
			},
			wantErr: true,
		},
		{
			name: "negative start timeout",
			env: map[string]string{
				envManifestPath: "warden.yml",
				envStartTimeout: "-5s",
			},
			wantErr: true,
		},
		{
			name: "zero concurrency limit",
			env: map[string]string{
				envManifestPath:     "warden.yml",
				envConcurrencyLimit: "0",
			},
			wantErr: true,
		},
		{
			name: "port out of range",
			env: map[string]string{
				envManifestPath: "warden.yml",
				envHealthPort:   "70000",
			},
			wantErr: true,
		},
		{
			name: "fraction above one",
			env: map[string]string{
				envManifestPath:    "warden.yml",
				envLimitedFraction: "1.5",
			},
			wantErr: true,
		},
		{
			name: "unknown runtime",
			env: map[string]string{
				envManifestPath: "warden.yml",
				envRuntime:      "podman",
			},
			wantErr: true,
		},
		{
			name: "invalid slack webhook url",
			env: map[string]string{
				envManifestPath:    "warden.yml",
				envSlackWebhookURL: "not-a-url",
			},
			wantErr: true,
		},
		{
			name: "invalid notify webhook url",
			env: map[string]string{
				envManifestPath:     "warden.yml",
				envNotifyWebhookURL: "not-a-url",
			},
			wantErr: true,
		},
		{
			name: "environment lowercased",
			env: map[string]string{
				envManifestPath: "warden.yml",
				envEnvironment:  "  Staging ",
			},
			want: func() Config {
				cfg := baseConfig()
				cfg.ManifestPath = "warden.yml"
				cfg.Environment = "staging"
				return cfg
			},
		},
		{
			name: "full custom configuration",
			env: map[string]string{
				envManifestURL:         "https://example.com/warden.yml",
				envManifestTimeout:     "20s",
				envEnvironment:         "production",
				envOverridesPath:       "overrides.yml",
				envPollInterval:        "45s",
				envProbeTimeout:        "2s",
				envConcurrencyLimit:    "8",
				envFailureThreshold:    "5",
				envStartTimeout:        "1m",
				envStopTimeout:         "15s",
				envRecoveryTimeout:     "90s",
				envMaxRecoveryAttempts: "6",
				envHealthPort:          "9000",
				envMetricsPort:         "9000",
				envStatePath:           "/var/lib/warden/state.json",
				envSlackWebhookURL:     "https://hooks.slack.com/services/T00/B00/XXX",
				envNotifyWebhookURL:    "https://alerts.example.com/hook",
				envNotifyDryRun:        "true",
				envPrimaryDatastore:    "cockroach",
				envCacheService:        "memcached",
				envLimitedFraction:     "0.75",
				envLogLevel:            "debug",
				envRuntime:             "docker",
				envDockerHost:          "tcp://docker:2376",
				envDockerTLSCA:         "/certs/ca.pem",
				envDockerTLSCert:       "/certs/cert.pem",
				envDockerTLSKey:        "/certs/key.pem",
			},
			want: func() Config {
				return Config{
					Environment:         "production",
					ManifestURL:         "https://example.com/warden.yml",
					ManifestTimeout:     20 * time.Second,
					OverridesPath:       "overrides.yml",
					PollInterval:        45 * time.Second,
					ProbeTimeout:        2 * time.Second,
					ConcurrencyLimit:    8,
					FailureThreshold:    5,
					StartTimeout:        time.Minute,
					StopTimeout:         15 * time.Second,
					RecoveryTimeout:     90 * time.Second,
					MaxRecoveryAttempts: 6,
					HealthPort:          9000,
					MetricsPort:         9000,
					StatePath:           "/var/lib/warden/state.json",
					SlackWebhookURL:     "https://hooks.slack.com/services/T00/B00/XXX",
					NotifyWebhookURL:    "https://alerts.example.com/hook",
					NotifyDryRun:        true,
					PrimaryDatastore:    "cockroach",
					CacheService:        "memcached",
					LimitedFraction:     0.75,
					LogLevel:            "debug",
					Runtime:             RuntimeDocker,
					DockerHost:          "tcp://docker:2376",
					DockerTLSCA:         "/certs/ca.pem",
					DockerTLSCert:       "/certs/cert.pem",
					DockerTLSKey:        "/certs/key.pem",
				}
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			restoreDir := mustChdir(t, tmpDir)
			defer restoreDir()

			for key, value := range tc.env {
				t.Setenv(key, value)
			}

			got, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if want := tc.want(); got != want {
				t.Fatalf("unexpected config:\n got %+v\nwant %+v", got, want)
			}
		})
	}
}

func TestLoad_DotEnvAndEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	restoreDir := mustChdir(t, tmpDir)
	defer restoreDir()

	dotenv := []byte(`
# example .env
WARDEN_MANIFEST_URL=https://example.com/from-dotenv.yml
WARDEN_SLACK_WEBHOOK_URL=https://hooks.slack.com/services/test
WARDEN_POLL_INTERVAL=10s
`)

	if err := os.WriteFile(filepath.Join(tmpDir, ".env"), dotenv, 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	t.Setenv(envManifestURL, "https://example.com/from-env.yml")

	got, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.ManifestURL != "https://example.com/from-env.yml" {
		t.Fatalf("manifest url did not prefer env: %s", got.ManifestURL)
	}
	if got.SlackWebhookURL != "https://hooks.slack.com/services/test" {
		t.Fatalf("slack webhook url not loaded from .env: %s", got.SlackWebhookURL)
	}
	if got.PollInterval != 10*time.Second {
		t.Fatalf("poll interval not loaded from .env: %s", got.PollInterval)
	}
	if got.ManifestTimeout != defaultManifestTimeout {
		t.Fatalf("unexpected manifest timeout: %s", got.ManifestTimeout)
	}
}

func mustChdir(t *testing.T, dir string) func() {
	t.Helper()
	original, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	return func() {
		if err := os.Chdir(original); err != nil {
			t.Fatalf("restore dir: %v", err)
		}
	}
}
