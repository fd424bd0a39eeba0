package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/order-reports/internal/bootstrap"
	"github.com/cuongbtq/order-reports/internal/config"
	"github.com/cuongbtq/order-reports/internal/dispatch"
	"github.com/cuongbtq/order-reports/internal/metrics"
	"github.com/cuongbtq/order-reports/internal/storage"
	"github.com/cuongbtq/order-reports/internal/worker"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.Logger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	workerID := bootstrap.WorkerID(cfg.Worker.ID, "worker")
	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("worker_id", workerID),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := bootstrap.PostgreSQL(ctx, &cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	artifacts, closeArtifacts, err := bootstrap.ArtifactStore(ctx, &cfg.Artifacts, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize artifact store: %w", err)
	}
	defer closeArtifacts()

	rabbitClient, err := bootstrap.RabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(prometheus.NewRegistry())
	}

	jobStorage := storage.NewJobStorage(dbClient.GetDB(), appLogger.Component("job-storage"))

	executor := worker.NewExecutor(&worker.ExecutorConfig{
		Logger:            appLogger.Component("executor"),
		Jobs:              jobStorage,
		Orders:            storage.NewOrderStorage(dbClient.GetDB()),
		Artifacts:         artifacts,
		Metrics:           collector,
		WorkerID:          workerID,
		JobTimeout:        cfg.Worker.JobTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
	})

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:        appLogger.Component("worker"),
		Broker:        rabbitClient,
		Executor:      executor,
		Concurrency:   cfg.Worker.Concurrency,
		PrefetchCount: cfg.Worker.PrefetchCount,
		WorkerID:      workerID,
	})

	reaper := worker.NewReaper(&worker.ReaperConfig{
		Logger:       appLogger.Component("reaper"),
		Jobs:         jobStorage,
		Metrics:      collector,
		StaleAfter:   cfg.Worker.StaleAfter,
		Interval:     cfg.Worker.ReapInterval,
		Dispatcher:   dispatch.NewRabbitDispatcher(rabbitClient),
		PendingAfter: cfg.Worker.PendingAfter,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return workerInstance.Start(gctx) })
	g.Go(func() error { return reaper.Run(gctx) })

	if collector != nil {
		metricsSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           collector.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			appLogger.Info("Serving metrics", slog.String("address", metricsSrv.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	appLogger.Info("Worker service started successfully")

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return finish(appLogger.Logger, err)
	case <-gctx.Done():
	}

	appLogger.Info("Shutting down gracefully, draining in-flight report jobs",
		slog.Duration("timeout", cfg.Worker.ShutdownTimeout),
	)
	workerInstance.Stop()

	select {
	case err := <-done:
		return finish(appLogger.Logger, err)
	case <-time.After(cfg.Worker.ShutdownTimeout):
		// Jobs still PROCESSING are failed by the reaper once their heartbeat goes stale
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
		return nil
	}
}

func finish(logger *slog.Logger, err error) error {
	if err != nil {
		logger.Error("Worker error", slog.Any("error", err))
		return err
	}
	logger.Info("Worker service shutdown complete")
	return nil
}
