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

	"github.com/cuongbtq/order-reports/internal/api/handler"
	"github.com/cuongbtq/order-reports/internal/api/router"
	"github.com/cuongbtq/order-reports/internal/bootstrap"
	"github.com/cuongbtq/order-reports/internal/config"
	"github.com/cuongbtq/order-reports/internal/dispatch"
	"github.com/cuongbtq/order-reports/internal/metrics"
	"github.com/cuongbtq/order-reports/internal/service"
	"github.com/cuongbtq/order-reports/internal/storage"
	"github.com/cuongbtq/order-reports/internal/worker"
	"github.com/cuongbtq/order-reports/shared/rabbitmq"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.Logger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("dispatch_mode", cfg.Dispatch.Mode),
		slog.String("artifacts_backend", cfg.Artifacts.Backend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := bootstrap.PostgreSQL(ctx, &cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	if cfg.Database.AutoMigrate {
		if err := storage.Migrate(ctx, dbClient.GetDB()); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		appLogger.Info("Database schema is up to date")
	}

	artifacts, closeArtifacts, err := bootstrap.ArtifactStore(ctx, &cfg.Artifacts, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize artifact store: %w", err)
	}
	defer closeArtifacts()

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(prometheus.NewRegistry())
	}

	jobStorage := storage.NewJobStorage(dbClient.GetDB(), appLogger.Component("job-storage"))
	orderStorage := storage.NewOrderStorage(dbClient.GetDB())

	g, gctx := errgroup.WithContext(ctx)

	var (
		dispatcher   service.Dispatcher
		local        *dispatch.LocalDispatcher
		rabbitClient *rabbitmq.Client
	)
	switch cfg.Dispatch.Mode {
	case config.DispatchLocal:
		executor := worker.NewExecutor(&worker.ExecutorConfig{
			Logger:            appLogger.Component("executor"),
			Jobs:              jobStorage,
			Orders:            orderStorage,
			Artifacts:         artifacts,
			Metrics:           collector,
			WorkerID:          bootstrap.WorkerID(cfg.Worker.ID, "api"),
			JobTimeout:        cfg.Worker.JobTimeout,
			HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		})
		local = dispatch.NewLocalDispatcher(ctx, executor, appLogger.Component("dispatch"))
		dispatcher = local

		// No worker service runs in local mode, so the API reaps its own jobs
		reaper := worker.NewReaper(&worker.ReaperConfig{
			Logger:       appLogger.Component("reaper"),
			Jobs:         jobStorage,
			Metrics:      collector,
			StaleAfter:   cfg.Worker.StaleAfter,
			Interval:     cfg.Worker.ReapInterval,
			Dispatcher:   local,
			PendingAfter: cfg.Worker.PendingAfter,
		})
		g.Go(func() error { return reaper.Run(gctx) })
	default:
		rabbitClient, err = bootstrap.RabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()
		appLogger.Info("RabbitMQ connection established")
		dispatcher = dispatch.NewRabbitDispatcher(rabbitClient)
	}

	reportService := service.NewReportService(&service.Config{
		Logger:     appLogger.Component("report-service"),
		Jobs:       jobStorage,
		Orders:     orderStorage,
		Artifacts:  artifacts,
		Dispatcher: dispatcher,
		Metrics:    collector,
	})

	bootstrap.GinMode(cfg.App.Environment)
	r := router.SetupRouter(&handler.Dependencies{
		Logger:  appLogger.Logger,
		Service: reportService,
		Metrics: collector,
	}, func() error {
		if err := dbClient.HealthCheck(context.Background()); err != nil {
			return err
		}
		if rabbitClient != nil && !rabbitClient.IsConnected() {
			return rabbitmq.ErrNotConnected
		}
		return nil
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g.Go(func() error {
		appLogger.Info("Starting HTTP server",
			slog.String("address", addr),
			slog.Duration("read_timeout", cfg.Server.ReadTimeout),
			slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Server forced to shutdown", slog.Any("error", err))
		}
		if local != nil {
			if err := local.Shutdown(shutdownCtx); err != nil {
				appLogger.Warn("Local report jobs still running at exit", slog.Any("error", err))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}
