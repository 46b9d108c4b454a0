package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/skywatch/skywatch/internal/alerter"
	"github.com/skywatch/skywatch/internal/api"
	"github.com/skywatch/skywatch/internal/collector"
	"github.com/skywatch/skywatch/internal/config"
	"github.com/skywatch/skywatch/internal/evaluator"
	"github.com/skywatch/skywatch/internal/logbuffer"
	"github.com/skywatch/skywatch/internal/notifier"
	"github.com/skywatch/skywatch/internal/parameters"
	"github.com/skywatch/skywatch/internal/scheduler"
	"github.com/skywatch/skywatch/internal/store"
	"github.com/skywatch/skywatch/internal/telemetry"
	"github.com/skywatch/skywatch/internal/version"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "/config/skywatch.yaml", "Path to configuration file")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	// Keep the last 1000 log entries for the ops API
	logBuffer := logbuffer.New(1000)

	zerolog.TimeFieldFormat = time.RFC3339
	logLevelParsed, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logLevelParsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevelParsed)

	multiWriter := io.MultiWriter(os.Stdout, logBuffer)
	logger := zerolog.New(multiWriter).With().
		Timestamp().
		Str("version", version.Version).
		Str("commit", version.Commit).
		Logger()

	logger.Info().Str("build", version.GetFullVersion()).Msg("Starting SkyWatch")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("config_path", *configPath).
			Msg("Failed to load configuration")
	}

	registry, err := cfg.Registry()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build parameter registry")
	}

	logger.Info().
		Int("alert_count", len(cfg.Alerts)).
		Int("parameter_count", len(registry.Names())).
		Str("storage", cfg.Storage.Driver).
		Msg("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.InitTraceProvider(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName, version.Version, cfg.Tracing.Insecure)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("driver", cfg.Storage.Driver).
			Msg("Failed to open store")
	}

	if err := seedAlerts(ctx, st, cfg, registry, logger); err != nil {
		logger.Fatal().Err(err).Msg("Failed to seed alerts")
	}

	channels, closers, err := buildChannels(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build notification channels")
	}

	dispatcher := notifier.NewDispatcher(notifier.Options{
		QueueSize:   cfg.Notifier.QueueSize,
		Workers:     cfg.Notifier.Workers,
		SendTimeout: cfg.Notifier.SendTimeout,
	}, channels, st, logger)
	dispatcher.Start()

	if cfg.Notifier.RedeliverOnStart {
		n, err := dispatcher.Redeliver(ctx, st)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to redeliver pending notifications")
		} else if n > 0 {
			logger.Info().Int("count", n).Msg("Queued pending notifications for redelivery")
		}
	}

	provider := collector.NewTomorrowClient(collector.Options{
		BaseURL:           cfg.Provider.BaseURL,
		APIKey:            cfg.Provider.APIKey,
		Timeout:           cfg.Provider.Timeout,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
		Burst:             cfg.Provider.Burst,
	}, logger)

	mode, err := alerter.ParseFiringMode(cfg.Scheduler.FiringMode)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid firing mode")
	}
	alertEngine := alerter.NewEngine(mode, logger)
	eval := evaluator.NewEvaluator(registry, logger)

	orchestrator := scheduler.NewOrchestrator(
		st, st, provider, eval, alertEngine, dispatcher,
		scheduler.Options{Concurrency: cfg.Scheduler.Concurrency},
		logger,
	)

	schedule, err := scheduler.ResolveSchedule(cfg.Scheduler.Interval, cfg.Scheduler.Cron)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid schedule")
	}
	runner := scheduler.NewRunner(orchestrator, schedule, scheduler.RunnerOptions{
		AllowOverlap: cfg.Scheduler.AllowOverlap,
		RunOnStart:   cfg.Scheduler.RunOnStart,
	}, logger)
	if cfg.Scheduler.IsEnabled() {
		runner.Start()
	} else {
		logger.Warn().Msg("Scheduler disabled, cycles run only on demand via POST /api/run")
	}

	var apiServer *api.Server
	if cfg.API.IsEnabled() {
		apiPort := strconv.Itoa(cfg.API.Port)
		apiServer = api.NewServer(alertEngine, st, st, logger, apiPort)
		apiServer.SetLogBuffer(logBuffer)
		apiServer.SetCycleStatus(orchestrator)
		apiServer.SetProviderHealth(provider)
		apiServer.SetRunner(runner)

		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().
					Err(err).
					Msg("API server error")
			}
		}()

		logger.Info().
			Str("port", apiPort).
			Msg("Ops API available")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info().Msg("SkyWatch running, press Ctrl+C to stop")

	<-sigChan
	logger.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	select {
	case <-runner.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn().Msg("Timed out waiting for in-flight cycle")
	}

	if apiServer != nil {
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Error stopping API server")
		}
	}

	dispatcher.Stop()
	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing notification channel")
		}
	}

	if err := st.Close(); err != nil {
		logger.Error().Err(err).Msg("Error closing store")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error flushing traces")
	}

	cancel()
	logger.Info().Msg("SkyWatch stopped")
}

// openStore opens the configured store and creates the schema when asked
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Storage.Driver == "memory" {
		return store.NewMemoryStore(), nil
	}

	sqlStore, err := store.OpenSQL(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return nil, err
	}
	if err := sqlStore.Ping(ctx); err != nil {
		sqlStore.Close()
		return nil, err
	}
	if cfg.Storage.ShouldMigrate() {
		if err := sqlStore.EnsureSchema(ctx); err != nil {
			sqlStore.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}
	return sqlStore, nil
}

// seedAlerts writes alerts from alerts.yaml into the store, leaving
// existing rows untouched
func seedAlerts(ctx context.Context, st store.AlertStore, cfg *config.Config, registry *parameters.Registry, logger zerolog.Logger) error {
	created := 0
	for _, alert := range cfg.Alerts {
		if err := alert.Validate(registry); err != nil {
			return err
		}
		err := st.CreateAlert(ctx, alert)
		if errors.Is(err, store.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return fmt.Errorf("creating alert %s: %w", alert.ID, err)
		}
		created++
	}
	if len(cfg.Alerts) > 0 {
		logger.Info().
			Int("created", created).
			Int("configured", len(cfg.Alerts)).
			Msg("Seeded alerts")
	}
	return nil
}

// buildChannels creates notification channels in a stable order. Channels
// that hold connections are also returned as closers.
func buildChannels(cfg *config.Config, logger zerolog.Logger) ([]notifier.Channel, []io.Closer, error) {
	var channels []notifier.Channel
	var closers []io.Closer

	for _, name := range cfg.ChannelNames() {
		ch := cfg.Notifier.Channels[name]
		switch ch.Type {
		case "log":
			channels = append(channels, notifier.NewLogChannel(name, logger))
		case "apprise":
			apiURL := ""
			if ch.URLEnv != "" {
				apiURL = os.Getenv(ch.URLEnv)
			}
			channels = append(channels, notifier.NewAppriseChannel(name, apiURL, ch.Target, ch.Tag, logger))
		case "kafka":
			kc, err := notifier.NewKafkaChannel(name, notifier.KafkaOptions{
				Brokers:      ch.Brokers,
				Topic:        ch.Topic,
				Compression:  ch.Compression,
				WriteTimeout: ch.WriteTimeout,
				RequiredAcks: ch.RequiredAcks,
				MaxRetries:   ch.MaxRetries,
			})
			if err != nil {
				return nil, nil, fmt.Errorf("channel %s: %w", name, err)
			}
			channels = append(channels, kc)
			closers = append(closers, kc)
		default:
			return nil, nil, fmt.Errorf("channel %s: unknown type %q", name, ch.Type)
		}
	}
	return channels, closers, nil
}
