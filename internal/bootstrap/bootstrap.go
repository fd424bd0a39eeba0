// Package bootstrap builds the shared infrastructure clients from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cuongbtq/order-reports/internal/artifact"
	"github.com/cuongbtq/order-reports/internal/config"
	"github.com/cuongbtq/order-reports/shared/logger"
	"github.com/cuongbtq/order-reports/shared/postgresql"
	"github.com/cuongbtq/order-reports/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Logger initializes and configures the application logger
func Logger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// PostgreSQL initializes the PostgreSQL database client
func PostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(ctx, &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnectAttempts: 5,
		ConnectInterval: 2 * time.Second,
	}, logger)
}

// RabbitMQ initializes the RabbitMQ client
func RabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
}

// ArtifactStore opens the configured artifact backend. The returned close
// function releases its connection, if any.
func ArtifactStore(ctx context.Context, cfg *config.ArtifactsConfig, logger *slog.Logger) (artifact.Store, func() error, error) {
	switch cfg.Backend {
	case config.ArtifactsRedis:
		client, err := artifact.NewRedisClient(ctx, artifact.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Artifact store initialized",
			slog.String("backend", cfg.Backend),
			slog.String("addr", cfg.Redis.Addr),
		)
		return artifact.NewRedisStore(client, cfg.Redis.KeyPrefix, cfg.Redis.TTL), client.Close, nil
	case config.ArtifactsFilesystem:
		store, err := artifact.NewFileStore(cfg.Directory)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Artifact store initialized",
			slog.String("backend", cfg.Backend),
			slog.String("directory", cfg.Directory),
		)
		return store, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown artifacts backend: %q", cfg.Backend)
	}
}

// GinMode sets the Gin mode based on environment
func GinMode(environment string) {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
}

// WorkerID returns the configured ID, or hostname plus a random suffix
func WorkerID(configured, fallbackHost string) string {
	if configured != "" {
		return configured
	}
	host, err := os.Hostname()
	if err != nil {
		host = fallbackHost
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
