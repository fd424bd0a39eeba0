package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Dispatch modes
const (
	DispatchLocal    = "local"
	DispatchRabbitMQ = "rabbitmq"
)

// Artifact backends
const (
	ArtifactsFilesystem = "filesystem"
	ArtifactsRedis      = "redis"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Worker    WorkerConfig    `yaml:"worker"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"DATABASE_HOST"`
	Port            int           `yaml:"port" env:"DATABASE_PORT"`
	User            string        `yaml:"user" env:"DATABASE_USER"`
	Password        string        `yaml:"password" env:"DATABASE_PASSWORD"`
	Database        string        `yaml:"database" env:"DATABASE_NAME"`
	SSLMode         string        `yaml:"sslmode" env:"DATABASE_SSLMODE"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"DATABASE_AUTO_MIGRATE"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host" env:"RABBITMQ_HOST"`
	Port       int              `yaml:"port" env:"RABBITMQ_PORT"`
	User       string           `yaml:"user" env:"RABBITMQ_USER"`
	Password   string           `yaml:"password" env:"RABBITMQ_PASSWORD"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" env:"LOG_LEVEL"`
	Format       string `yaml:"format" env:"LOG_FORMAT"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment" env:"APP_ENV"`
}

// WorkerConfig holds executor and worker service configuration
type WorkerConfig struct {
	ID                string        `yaml:"id" env:"WORKER_ID"`
	Concurrency       int           `yaml:"concurrency" env:"WORKER_CONCURRENCY"`
	PrefetchCount     int           `yaml:"prefetch_count"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StaleAfter        time.Duration `yaml:"stale_after"`
	ReapInterval      time.Duration `yaml:"reap_interval"`
	PendingAfter      time.Duration `yaml:"pending_after"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// DispatchConfig selects how the API hands jobs to the executor
type DispatchConfig struct {
	Mode string `yaml:"mode" env:"DISPATCH_MODE"`
}

// ArtifactsConfig selects where report bytes are stored
type ArtifactsConfig struct {
	Backend   string      `yaml:"backend" env:"ARTIFACTS_BACKEND"`
	Directory string      `yaml:"directory" env:"ARTIFACTS_DIR"`
	Redis     RedisConfig `yaml:"redis"`
}

// RedisConfig holds the artifact Redis connection
type RedisConfig struct {
	Addr      string        `yaml:"addr" env:"REDIS_ADDR"`
	Password  string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB        int           `yaml:"db" env:"REDIS_DB"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"METRICS_ENABLED"`
	Port    int  `yaml:"port" env:"METRICS_PORT"`
}

// Load reads and parses the configuration file, then applies environment
// overrides
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("failed to parse environment overrides: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Dispatch.Mode == "" {
		c.Dispatch.Mode = DispatchRabbitMQ
	}
	if c.Artifacts.Backend == "" {
		c.Artifacts.Backend = ArtifactsFilesystem
	}
	if c.Artifacts.Redis.KeyPrefix == "" {
		c.Artifacts.Redis.KeyPrefix = "report-artifacts"
	}
	if c.Worker.JobTimeout <= 0 {
		c.Worker.JobTimeout = 5 * time.Minute
	}
	if c.Worker.HeartbeatInterval <= 0 {
		c.Worker.HeartbeatInterval = 30 * time.Second
	}
	if c.Worker.StaleAfter <= 0 {
		c.Worker.StaleAfter = 4 * c.Worker.HeartbeatInterval
	}
	if c.Worker.ReapInterval <= 0 {
		c.Worker.ReapInterval = c.Worker.HeartbeatInterval
	}
	if c.Worker.PendingAfter <= 0 {
		c.Worker.PendingAfter = 5 * time.Minute
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9090
	}
	if c.Worker.ShutdownTimeout <= 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}
}

// Validate checks the settings both services share
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	switch c.Artifacts.Backend {
	case ArtifactsFilesystem:
		if c.Artifacts.Directory == "" {
			return fmt.Errorf("artifacts directory is required for the filesystem backend")
		}
	case ArtifactsRedis:
		if c.Artifacts.Redis.Addr == "" {
			return fmt.Errorf("artifacts redis addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown artifacts backend: %q", c.Artifacts.Backend)
	}

	if c.Metrics.Enabled && c.Metrics.Port != 0 && (c.Metrics.Port < MinPort || c.Metrics.Port > MaxPort) {
		return fmt.Errorf("invalid metrics port: %d (must be between %d and %d)", c.Metrics.Port, MinPort, MaxPort)
	}

	if c.Worker.HeartbeatInterval > 0 && c.Worker.StaleAfter > 0 && c.Worker.StaleAfter <= c.Worker.HeartbeatInterval {
		return fmt.Errorf("worker stale_after (%s) must be greater than heartbeat_interval (%s)", c.Worker.StaleAfter, c.Worker.HeartbeatInterval)
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

// ValidateAPIConfig checks the api-service configuration
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.Validate(); err != nil {
		return err
	}

	switch c.Dispatch.Mode {
	case DispatchRabbitMQ:
		return c.validateRabbitMQ()
	case DispatchLocal:
		return nil
	default:
		return fmt.Errorf("unknown dispatch mode: %q (expected %s or %s)", c.Dispatch.Mode, DispatchLocal, DispatchRabbitMQ)
	}
}

// ValidateWorkerConfig checks the worker-service configuration
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.PrefetchCount < 0 {
		return fmt.Errorf("worker prefetch_count must not be negative")
	}

	return nil
}
