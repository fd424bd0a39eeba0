package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "orders_db", cfg.Database.Database)
				assert.Equal(t, "report_jobs_exchange", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "report_jobs_queue", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, "report-api-service", cfg.App.Name)
				assert.Equal(t, DispatchRabbitMQ, cfg.Dispatch.Mode)
				assert.Equal(t, ArtifactsFilesystem, cfg.Artifacts.Backend)
				assert.Equal(t, 168*time.Hour, cfg.Artifacts.Redis.TTL)
				assert.Equal(t, 2*time.Minute, cfg.Worker.JobTimeout)
				assert.Equal(t, time.Minute, cfg.Worker.StaleAfter)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("testdata/minimal_local.yaml")
	require.NoError(t, err)

	assert.Equal(t, DispatchLocal, cfg.Dispatch.Mode)
	assert.Equal(t, ArtifactsFilesystem, cfg.Artifacts.Backend)
	assert.Equal(t, "report-artifacts", cfg.Artifacts.Redis.KeyPrefix)
	assert.Equal(t, 5*time.Minute, cfg.Worker.JobTimeout)
	assert.Equal(t, 30*time.Second, cfg.Worker.HeartbeatInterval)
	assert.Equal(t, 2*time.Minute, cfg.Worker.StaleAfter)
	assert.Equal(t, 30*time.Second, cfg.Worker.ReapInterval)
	assert.Equal(t, 5*time.Minute, cfg.Worker.PendingAfter)

	require.NoError(t, cfg.ValidateAPIConfig(), "local dispatch needs no rabbitmq settings")
	assert.Error(t, cfg.ValidateWorkerConfig())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("DATABASE_PASSWORD", "from-env")
	t.Setenv("RABBITMQ_PASSWORD", "rabbit-secret")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("DISPATCH_MODE", "local")
	t.Setenv("WORKER_CONCURRENCY", "12")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Database.Password)
	assert.Equal(t, "rabbit-secret", cfg.RabbitMQ.Password)
	assert.Equal(t, "redis:6380", cfg.Artifacts.Redis.Addr)
	assert.Equal(t, DispatchLocal, cfg.Dispatch.Mode)
	assert.Equal(t, 12, cfg.Worker.Concurrency)

	// Unset variables keep the file values
	assert.Equal(t, "postgres", cfg.Database.User)
}

func TestLoad_InvalidEnvironmentOverride(t *testing.T) {
	t.Setenv("DATABASE_PORT", "not-a-number")

	_, err := Load("testdata/valid_config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse environment overrides")
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "orders_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "report_jobs_exchange"},
			Queue:    QueueConfig{Name: "report_jobs_queue"},
		},
		Worker:    WorkerConfig{Concurrency: 2, HeartbeatInterval: 10 * time.Second, StaleAfter: time.Minute},
		Dispatch:  DispatchConfig{Mode: DispatchRabbitMQ},
		Artifacts: ArtifactsConfig{Backend: ArtifactsFilesystem, Directory: "/tmp/reports"},
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "invalid server port - too low", mutate: func(c *Config) { c.Server.Port = 0 }, errString: "invalid server port"},
		{name: "invalid server port - too high", mutate: func(c *Config) { c.Server.Port = 70000 }, errString: "invalid server port"},
		{name: "empty database host", mutate: func(c *Config) { c.Database.Host = "" }, errString: "database host is required"},
		{name: "empty database name", mutate: func(c *Config) { c.Database.Database = "" }, errString: "database name is required"},
		{name: "empty rabbitmq host", mutate: func(c *Config) { c.RabbitMQ.Host = "" }, errString: "rabbitmq host is required"},
		{name: "empty exchange name", mutate: func(c *Config) { c.RabbitMQ.Exchange.Name = "" }, errString: "rabbitmq exchange name is required"},
		{name: "empty queue name", mutate: func(c *Config) { c.RabbitMQ.Queue.Name = "" }, errString: "rabbitmq queue name is required"},
		{name: "local dispatch ignores rabbitmq", mutate: func(c *Config) {
			c.Dispatch.Mode = DispatchLocal
			c.RabbitMQ = RabbitMQConfig{}
		}},
		{name: "unknown dispatch mode", mutate: func(c *Config) { c.Dispatch.Mode = "celery" }, errString: "unknown dispatch mode"},
		{name: "missing artifacts directory", mutate: func(c *Config) { c.Artifacts.Directory = "" }, errString: "artifacts directory is required"},
		{name: "redis backend without addr", mutate: func(c *Config) { c.Artifacts.Backend = ArtifactsRedis }, errString: "artifacts redis addr is required"},
		{name: "redis backend", mutate: func(c *Config) {
			c.Artifacts.Backend = ArtifactsRedis
			c.Artifacts.Redis.Addr = "localhost:6379"
		}},
		{name: "unknown artifacts backend", mutate: func(c *Config) { c.Artifacts.Backend = "s3" }, errString: "unknown artifacts backend"},
		{name: "stale_after not above heartbeat", mutate: func(c *Config) { c.Worker.StaleAfter = 5 * time.Second }, errString: "stale_after"},
		{name: "invalid metrics port", mutate: func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Port = 70000
		}, errString: "invalid metrics port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "server port not required", mutate: func(c *Config) { c.Server.Port = 0 }},
		{name: "zero concurrency", mutate: func(c *Config) { c.Worker.Concurrency = 0 }, errString: "worker concurrency must be greater than 0"},
		{name: "negative prefetch", mutate: func(c *Config) { c.Worker.PrefetchCount = -1 }, errString: "prefetch_count"},
		{name: "rabbitmq required", mutate: func(c *Config) { c.RabbitMQ.Host = "" }, errString: "rabbitmq host is required"},
		{name: "database required", mutate: func(c *Config) { c.Database.Host = "" }, errString: "database host is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}

func TestPortConstants(t *testing.T) {
	assert.Equal(t, 1, MinPort)
	assert.Equal(t, 65535, MaxPort)
}

func TestLoad_ShippedConfigs(t *testing.T) {
	api, err := Load("../../configs/api-service/config.yaml")
	require.NoError(t, err)
	require.NoError(t, api.ValidateAPIConfig())
	assert.Equal(t, 9090, api.Metrics.Port)

	wrk, err := Load("../../configs/worker-service/config.yaml")
	require.NoError(t, err)
	require.NoError(t, wrk.ValidateWorkerConfig())
	assert.Equal(t, api.Artifacts.Directory, wrk.Artifacts.Directory)
	assert.Equal(t, api.RabbitMQ.Queue.Name, wrk.RabbitMQ.Queue.Name)
}
