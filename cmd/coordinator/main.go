package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/0x6flab/namegenerator"
	"github.com/absmach/fedguard"
	"github.com/absmach/fedguard/coordinator"
	"github.com/absmach/fedguard/coordinator/api"
	"github.com/absmach/fedguard/coordinator/middleware"
	"github.com/absmach/fedguard/pkg/jaeger"
	"github.com/absmach/fedguard/pkg/mqtt"
	"github.com/absmach/fedguard/pkg/prometheus"
	"github.com/absmach/fedguard/pkg/sim"
	"github.com/absmach/fedguard/pkg/storage"
	"github.com/absmach/supermq/pkg/server"
	httpserver "github.com/absmach/supermq/pkg/server/http"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

const (
	svcName       = "coordinator"
	defHTTPPort   = "7070"
	envPrefixHTTP = "FEDGUARD_HTTP_"
	pathEnv       = ".env"
)

type envConfig struct {
	LogLevel   string  `env:"FEDGUARD_LOG_LEVEL"   envDefault:"info"`
	InstanceID string  `env:"FEDGUARD_INSTANCE_ID"`
	ConfigPath string  `env:"FEDGUARD_CONFIG"      envDefault:"run.toml"`
	OTELURL    url.URL `env:"FEDGUARD_OTEL_URL"`
	TraceRatio float64 `env:"FEDGUARD_TRACE_RATIO" envDefault:"0"`
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg := envConfig{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to load configuration : %s", err.Error())
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Fatalf("failed to parse log level: %s", err.Error())
	}
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	runCfg, err := loadRunConfig(cfg.ConfigPath, logger)
	if err != nil {
		logger.Error("failed to load run configuration", slog.String("path", cfg.ConfigPath), slog.String("error", err.Error()))

		return
	}
	runID := runCfg.Run.ID
	if runID == "" {
		runID = namegenerator.NewGenerator().Generate()
	}

	var tp trace.TracerProvider
	switch {
	case cfg.OTELURL == (url.URL{}):
		tp = noop.NewTracerProvider()
	default:
		sdktp, err := jaeger.NewProvider(ctx, svcName, cfg.OTELURL, cfg.InstanceID, cfg.TraceRatio)
		if err != nil {
			logger.Error("failed to initialize opentelemetry", slog.String("error", err.Error()))

			return
		}
		defer func() {
			if err := sdktp.Shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.Error("error shutting down tracer provider", slog.Any("error", err))
			}
		}()
		tp = sdktp
	}
	tracer := tp.Tracer(svcName)

	repos, err := storage.NewRepositories(runCfg.Storage)
	if err != nil {
		logger.Error("failed to initialize storage", slog.String("type", runCfg.Storage.Type), slog.String("error", err.Error()))

		return
	}
	if repos.Closer != nil {
		defer repos.Closer.Close()
	}

	fed, err := sim.NewFederation(runCfg.Simulation, runCfg.Run.Clients, runCfg.Run.LocalEpochs, runCfg.Run.Seed)
	if err != nil {
		logger.Error("failed to build federation", slog.String("error", err.Error()))

		return
	}

	pipeline, err := runCfg.Pipeline()
	if err != nil {
		logger.Error("failed to build defense pipeline", slog.String("error", err.Error()))

		return
	}
	selector, err := runCfg.Selector()
	if err != nil {
		logger.Error("failed to build client selector", slog.String("error", err.Error()))

		return
	}

	pacer, err := runCfg.Pacer()
	if err != nil {
		logger.Error("failed to parse round schedule", slog.String("error", err.Error()))

		return
	}

	gauges, err := prometheus.NewRoundGauges("fedguard", nil)
	if err != nil {
		logger.Error("failed to register round metrics", slog.String("error", err.Error()))

		return
	}
	notifiers := []coordinator.Notifier{gauges}

	if runCfg.MQTT.URL != "" {
		timeout := time.Duration(runCfg.MQTT.Timeout) * time.Second
		ps, err := mqtt.NewPubSub(runCfg.MQTT.URL, runCfg.MQTT.QoS, runCfg.MQTT.ClientID, runCfg.MQTT.Username, runCfg.MQTT.Password, runCfg.MQTT.BaseTopic, timeout, logger)
		if err != nil {
			logger.Error("failed to initialize mqtt pubsub", slog.String("error", err.Error()))

			return
		}
		defer func() {
			if err := ps.Disconnect(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("failed to disconnect from mqtt broker", slog.Any("error", err))
			}
		}()
		notifiers = append(notifiers, coordinator.NewMQTTNotifier(ps, runCfg.MQTT.BaseTopic))
	}

	opts := []coordinator.Option{
		coordinator.WithEvaluator(fed.Evaluator),
		coordinator.WithNotifier(coordinator.Notifiers(notifiers...)),
	}
	if pacer != nil {
		opts = append(opts, coordinator.WithPacer(pacer))
	}

	svc, err := coordinator.NewService(
		ctx,
		runCfg.Coordinator(runID),
		fed.Nodes,
		fed.Initial,
		pipeline,
		selector,
		repos.Rounds,
		repos.Models,
		logger,
		opts...,
	)
	if err != nil {
		logger.Error("failed to create coordinator", slog.String("error", err.Error()))

		return
	}
	svc = middleware.Logging(logger, svc)
	svc = middleware.Tracing(tracer, svc)
	counter, latency := prometheus.MakeMetrics(svcName, "api")
	svc = middleware.Metrics(counter, latency, svc)

	httpServerConfig := server.Config{Port: defHTTPPort}
	if err := env.ParseWithOptions(&httpServerConfig, env.Options{Prefix: envPrefixHTTP}); err != nil {
		logger.Error(fmt.Sprintf("failed to load %s HTTP server configuration : %s", svcName, err.Error()))

		return
	}

	hs := httpserver.NewServer(ctx, cancel, svcName, httpServerConfig, api.MakeHandler(svc, logger, cfg.InstanceID), logger)

	logger.Info("Starting run",
		slog.String("run_id", runID),
		slog.Uint64("rounds", runCfg.Run.Rounds),
		slog.Int("clients", runCfg.Run.Clients),
		slog.String("scorer", runCfg.Defense.Scorer),
		slog.String("thresholder", runCfg.Defense.Thresholder),
		slog.String("storage", runCfg.Storage.Type),
	)

	g.Go(func() error {
		if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		logger.Info("Run finished, history remains available over HTTP", slog.String("run_id", runID))

		return nil
	})

	g.Go(func() error {
		return hs.Start()
	})

	g.Go(func() error {
		return server.StopSignalHandler(ctx, cancel, logger, svcName, hs)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s service exited with error: %s", svcName, err))
	}
}

// loadRunConfig falls back to the defaults when the file does not exist.
func loadRunConfig(path string, logger *slog.Logger) (fedguard.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Warn("run configuration not found, using defaults", slog.String("path", path))

		return fedguard.DefaultConfig(), nil
	}

	cfg, err := fedguard.LoadConfig(path)
	if err != nil {
		return fedguard.Config{}, err
	}

	return *cfg, nil
}
