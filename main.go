package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/stepflow/internal/config"
	"github.com/Kocoro-lab/stepflow/internal/dispatch"
	"github.com/Kocoro-lab/stepflow/internal/health"
	"github.com/Kocoro-lab/stepflow/internal/httpapi"
	_ "github.com/Kocoro-lab/stepflow/internal/metrics" // Import for side effects
	"github.com/Kocoro-lab/stepflow/internal/plan"
	"github.com/Kocoro-lab/stepflow/internal/session"
	"github.com/Kocoro-lab/stepflow/internal/storage"
	"github.com/Kocoro-lab/stepflow/internal/streaming"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := cfg.Logging.Build()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	store, pinger, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open session store", zap.Error(err))
	}
	defer store.Close()

	// In-process fan-out backs the SSE surface; Redis carries the same
	// events across processes when enabled.
	events := streaming.NewManager(cfg.Execution.EventBuffer)
	publisher := streaming.Publisher(events)
	var redisClient redis.UniversalClient
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		publisher = streaming.Fanout{events, streaming.NewRedisManager(redisClient, logger)}
		logger.Info("Redis event broadcast enabled", zap.String("addr", cfg.Redis.Addr))
	}

	plans := plan.NewDirSource(cfg.Plans.Dir)
	manager := session.NewManager(store, plans, dispatch.FuncMap{}, publisher, logger, session.ManagerOptions{
		StepTimeout: cfg.Execution.StepTimeout,
	})

	hm := health.NewManager(logger)
	hm.Register("store", true, pinger)
	if redisClient != nil {
		hm.Register("redis", false, func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	mux := http.NewServeMux()
	hm.RegisterRoutes(mux)
	httpapi.NewSessionsHandler(manager, logger).RegisterRoutes(mux)
	httpapi.NewEventsHandler(events, logger).RegisterRoutes(mux)

	apiServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Service.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE connections stay open
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.Service.Port))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("API server failed", zap.Error(err))
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Service.MetricsPort),
		Handler: metricsMux,
	}
	go func() {
		logger.Info("Metrics server listening", zap.Int("port", cfg.Service.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	logger.Info("Stepflow engine started",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("plans_dir", cfg.Plans.Dir),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Service.GracefulTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown failed", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Metrics server shutdown failed", zap.Error(err))
	}
}

// openStore builds the configured session store and its health probe.
func openStore(cfg *config.Config, logger *zap.Logger) (session.Store, health.CheckFunc, error) {
	switch cfg.Storage.Backend {
	case config.BackendFile:
		st, err := storage.NewFileStore(cfg.Storage.Dir, logger)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Ping, nil
	case config.BackendSQLite:
		st, err := storage.NewSQLiteStore(cfg.Storage.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Ping, nil
	case config.BackendPostgres:
		pg := cfg.Storage.Postgres
		st, err := storage.NewPostgresStore(storage.PostgresConfig{
			Host:     pg.Host,
			Port:     pg.Port,
			User:     pg.User,
			Password: pg.Password,
			Database: pg.Database,
			SSLMode:  pg.SSLMode,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Ping, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
