package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/verdictstack/verdict-engine/internal/api"
	"github.com/verdictstack/verdict-engine/internal/cache"
	"github.com/verdictstack/verdict-engine/internal/config"
	"github.com/verdictstack/verdict-engine/internal/engine"
	"github.com/verdictstack/verdict-engine/internal/metrics"
	"github.com/verdictstack/verdict-engine/internal/policy"
	"github.com/verdictstack/verdict-engine/internal/publish"
	"github.com/verdictstack/verdict-engine/internal/repo"
	"github.com/verdictstack/verdict-engine/internal/services"
	"github.com/verdictstack/verdict-engine/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting verdict-engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled {
		switch cfg.Cache.Backend {
		case "valkey":
			provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
				Addr:         cfg.Cache.Addr,
				Username:     cfg.Cache.Username,
				Password:     cfg.Cache.Password,
				DB:           cfg.Cache.DB,
				DialTimeout:  cfg.Cache.DialTimeout,
				ReadTimeout:  cfg.Cache.ReadTimeout,
				WriteTimeout: cfg.Cache.WriteTimeout,
				MaxRetries:   cfg.Cache.MaxRetries,
				TLS:          cfg.Cache.TLS,
			})
			if err != nil {
				logger.Warn("valkey cache unavailable", slog.Any("error", err))
			} else {
				cacheProvider = provider
			}
		default:
			cacheProvider = cache.NewMemoryProvider(cfg.Cache.DefaultTTL)
		}
	}
	defer cacheProvider.Close()

	definition, err := policy.LoadPack(cfg.Policy.PackPath)
	if err != nil {
		logger.Error("failed to load policy pack", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("policy pack loaded",
		slog.String("version", definition.Version),
		slog.Int("rules", len(definition.Rules)))

	var (
		verdictStore  repo.VerdictStore
		eventStore    repo.EventStore
		snapshotStore policy.SnapshotStore
		ready         api.ReadinessFunc
	)
	switch cfg.Storage.Driver {
	case "postgres":
		db, err := repo.OpenPostgres(cfg.Storage.DSN, repo.PostgresOptions{
			MaxOpenConns:    cfg.Storage.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open postgres", slog.Any("error", err))
			os.Exit(1)
		}
		defer db.Close()
		verdictStore = repo.NewPostgresVerdictStore(db, logger)
		eventStore = repo.NewPostgresEventStore(db, cfg.History.TTL, logger)
		snapshotStore = repo.NewPostgresSnapshotStore(db, logger)
		ready = db.PingContext
	case "memory", "":
		verdictStore = repo.NewMemoryVerdictStore()
		eventStore = repo.NewMemoryEventStore(cfg.History.TTL)
		snapshotStore = repo.NewMemorySnapshotStore()
	default:
		logger.Error("unknown storage driver", slog.String("driver", cfg.Storage.Driver))
		os.Exit(1)
	}

	manager, err := policy.NewSnapshotManager(definition, snapshotStore, cfg.Policy.SnapshotCache, logger)
	if err != nil {
		logger.Error("failed to create snapshot manager", slog.Any("error", err))
		os.Exit(1)
	}

	var verdictPublisher engine.VerdictPublisher
	if cfg.Publisher.Enabled && cfg.Publisher.URL != "" {
		publisher, err := publish.NewNATSPublisher(cfg.Publisher.URL, cfg.Publisher.Subject, logger)
		if err != nil {
			logger.Warn("verdict publisher unavailable", slog.Any("error", err))
		} else {
			verdictPublisher = publisher
			defer publisher.Close()
		}
	}

	pipeline := engine.NewPipeline(logger, manager, verdictStore, eventStore, verdictPublisher)
	verdictService := services.NewVerdictService(
		logger,
		pipeline,
		verdictStore,
		eventStore,
		manager,
		cacheProvider,
		cfg.Cache.StatsTTL,
		cfg.Cache.ReportsTTL,
	)

	handler := api.NewHandler(logger, verdictService, ready)
	server, err := api.NewServer(cfg.Server, handler)
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("HTTP server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("verdict-engine stopped")
}
