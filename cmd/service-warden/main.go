package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/netra-systems/service-warden/internal/config"
	"github.com/netra-systems/service-warden/internal/degrade"
	"github.com/netra-systems/service-warden/internal/healthcheck"
	"github.com/netra-systems/service-warden/internal/logging"
	"github.com/netra-systems/service-warden/internal/manifest"
	"github.com/netra-systems/service-warden/internal/metrics"
	"github.com/netra-systems/service-warden/internal/monitor"
	"github.com/netra-systems/service-warden/internal/notify"
	"github.com/netra-systems/service-warden/internal/orchestrator"
	"github.com/netra-systems/service-warden/internal/priority"
	"github.com/netra-systems/service-warden/internal/probe"
	"github.com/netra-systems/service-warden/internal/registry"
	"github.com/netra-systems/service-warden/internal/runtime"
	"github.com/netra-systems/service-warden/internal/server"
	"github.com/netra-systems/service-warden/internal/state"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "service-warden:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.NewWithLevel(cfg.LogLevel)
	logger.Info().
		Str("environment", cfg.Environment).
		Str("runtime", string(cfg.Runtime)).
		Dur("poll_interval", cfg.PollInterval).
		Msg("service-warden starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetcher, err := buildFetcher(cfg)
	if err != nil {
		return err
	}
	fetched, err := fetcher.Fetch(ctx, "")
	if err != nil {
		return fmt.Errorf("fetch manifest: %w", err)
	}
	parsed, err := manifest.Parse(ctx, fetched.Body)
	if err != nil {
		return err
	}

	reg := registry.New()
	if err := parsed.Apply(reg); err != nil {
		return err
	}
	logger.Info().
		Int("services", reg.Len()).
		Str("fingerprint", parsed.Fingerprint).
		Msg("manifest loaded")

	overrides, err := priority.LoadOverrides(cfg.OverridesPath)
	if err != nil {
		return err
	}
	classifier := priority.NewClassifier(cfg.Environment,
		priority.WithExplicit(reg.ExplicitPriorities()),
		priority.WithOverrides(overrides),
	)
	logger.Debug().
		Strs("tiered_services", classifier.Known()).
		Msg("priority classifier ready")

	checkerOpts := []probe.CheckerOption{probe.WithConcurrency(cfg.ConcurrencyLimit)}
	if cfg.ProbeTimeout > 0 {
		checkerOpts = append(checkerOpts, probe.WithTimeout(cfg.ProbeTimeout))
	}
	checker := probe.NewChecker(logger, cfg.Environment, reg, classifier, checkerOpts...)
	defer checker.Close()

	manager := degrade.NewManager(logger, degrade.Config{
		PrimaryDatastore: cfg.PrimaryDatastore,
		CacheService:     cfg.CacheService,
		LimitedFraction:  cfg.LimitedFraction,
	})

	wardenMetrics := metrics.New()
	tracker := healthcheck.NewTracker()

	notifier, err := buildNotifier(logger, cfg)
	if err != nil {
		return err
	}

	monitorOpts := []monitor.Option{
		monitor.WithMetrics(wardenMetrics),
		monitor.WithTracker(tracker),
		monitor.WithNotifier(notifier),
		monitor.WithManifestFingerprint(parsed.Fingerprint),
	}
	if cfg.StatePath != "" {
		store := state.NewFileStore(cfg.StatePath, logger)
		monitorOpts = append(monitorOpts, monitor.WithStateStore(store, &sync.Mutex{}))
	}

	// Probe-only readiness: the priority assessment stands in for the
	// orchestrator until a runtime is managing services.
	criticalsReady := func() bool {
		return manager.Status().Assessment.CriticalHealthy
	}

	if cfg.Runtime == config.RuntimeDocker {
		rt, err := runtime.NewDockerRuntime(cfg.DockerHost, cfg.StopTimeout, runtime.TLSConfig{
			CAFile:   cfg.DockerTLSCA,
			CertFile: cfg.DockerTLSCert,
			KeyFile:  cfg.DockerTLSKey,
		}, logger)
		if err != nil {
			return fmt.Errorf("docker runtime: %w", err)
		}
		defer rt.Close()

		if err := rt.Ping(ctx); err != nil {
			return fmt.Errorf("docker ping: %w", err)
		}

		orch, err := orchestrator.New(logger, orchestrator.Config{
			ConcurrencyLimit:    cfg.ConcurrencyLimit,
			StartTimeout:        cfg.StartTimeout,
			StopTimeout:         cfg.StopTimeout,
			FailureThreshold:    cfg.FailureThreshold,
			RecoveryTimeout:     cfg.RecoveryTimeout,
			MaxRecoveryAttempts: cfg.MaxRecoveryAttempts,
		}, reg, rt)
		if err != nil {
			return err
		}

		report := orch.StartAll(ctx)
		logger.Info().
			Strs("started", report.Started).
			Strs("failed", report.Failed).
			Msg("startup pass complete")

		// Per-service stop timeouts bound the shutdown walk.
		defer orch.StopAll(context.Background())

		monitorOpts = append(monitorOpts, monitor.WithRecoverer(orch))
		criticalsReady = orchestratorReadiness(orch, reg, classifier)
	}

	server.Start(ctx, logger, server.Options{
		PollInterval:   cfg.PollInterval,
		Tracker:        tracker,
		Metrics:        wardenMetrics,
		Status:         manager.Status,
		CriticalsReady: criticalsReady,
		HealthPort:     cfg.HealthPort,
		MetricsPort:    cfg.MetricsPort,
	})

	mon := monitor.New(logger, cfg.Environment, cfg.PollInterval, checker, classifier, manager, monitorOpts...)
	return mon.Run(ctx)
}

func buildFetcher(cfg config.Config) (manifest.Fetcher, error) {
	if cfg.ManifestPath != "" {
		return manifest.NewFileFetcher(cfg.ManifestPath, 0)
	}
	return manifest.NewHTTPFetcher(cfg.ManifestURL, cfg.ManifestTimeout, 0, manifest.WithMaxRetries(2))
}

func buildNotifier(logger zerolog.Logger, cfg config.Config) (notify.Notifier, error) {
	var notifiers []notify.Notifier
	if cfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(logger, cfg.SlackWebhookURL))
	}
	if cfg.NotifyWebhookURL != "" {
		webhook, err := notify.NewWebhookNotifier(logger, cfg.NotifyWebhookURL, "")
		if err != nil {
			return nil, err
		}
		if webhook != nil {
			notifiers = append(notifiers, webhook)
		}
	}

	var notifier notify.Notifier
	switch len(notifiers) {
	case 0:
		notifier = notify.NewNoop(logger, "no notification webhooks configured")
	case 1:
		notifier = notifiers[0]
	default:
		notifier = notify.NewMultiNotifier(notifiers...)
	}
	if cfg.NotifyDryRun {
		return notify.NewDryRunNotifier(logger, notifier), nil
	}
	return notifier, nil
}

// orchestratorReadiness reports whether every enabled critical service
// is running or deliberately degraded.
func orchestratorReadiness(orch *orchestrator.Orchestrator, reg *registry.Registry, classifier *priority.Classifier) func() bool {
	return func() bool {
		for _, name := range reg.Names() {
			desc, err := reg.Get(name)
			if err != nil || desc.Disabled {
				continue
			}
			if classifier.For(name) != priority.Critical {
				continue
			}
			st, ok := orch.State(name)
			if !ok {
				return false
			}
			switch st.Status {
			case orchestrator.StatusRunning, orchestrator.StatusDegraded:
			default:
				return false
			}
		}
		return true
	}
}
