package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "jobgate_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host: "localhost",
			Port: 5672,
			Exchange: ExchangeConfig{
				Name: "jobgate_exchange",
			},
			Queue: QueueConfig{
				Name: "jobgate_dispatch_queue",
			},
		},
		JobClasses: map[string]JobClassConfig{
			"entitler":      {Policy: PolicyThrottle, ThrottleLimit: 7},
			"refresh_pools": {Policy: PolicyUniquePerOwner},
		},
	}
}

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

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "jobgate_db", cfg.Database.Database)
				assert.Equal(t, "jobgate_exchange", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "jobgate_dispatch_queue", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, "jobgate-api-service", cfg.App.Name)

				require.Contains(t, cfg.JobClasses, "entitler")
				assert.Equal(t, PolicyThrottle, cfg.JobClasses["entitler"].Policy)
				assert.Equal(t, 7, cfg.JobClasses["entitler"].ThrottleLimit)
				require.Contains(t, cfg.JobClasses, "refresh_pools")
				assert.Equal(t, PolicyUniquePerOwner, cfg.JobClasses["refresh_pools"].Policy)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(cfg *Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(cfg *Config) {},
			wantErr: false,
		},
		{
			name: "invalid server port - too low",
			mutate: func(cfg *Config) {
				cfg.Server.Port = 0
			},
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name: "invalid server port - too high",
			mutate: func(cfg *Config) {
				cfg.Server.Port = 70000
			},
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name: "empty database host",
			mutate: func(cfg *Config) {
				cfg.Database.Host = ""
			},
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name: "empty database name",
			mutate: func(cfg *Config) {
				cfg.Database.Database = ""
			},
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name: "empty rabbitmq host",
			mutate: func(cfg *Config) {
				cfg.RabbitMQ.Host = ""
			},
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name: "empty exchange name",
			mutate: func(cfg *Config) {
				cfg.RabbitMQ.Exchange.Name = ""
			},
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name: "empty queue name",
			mutate: func(cfg *Config) {
				cfg.RabbitMQ.Queue.Name = ""
			},
			wantErr:   true,
			errString: "rabbitmq queue name is required",
		},
		{
			name: "no job classes",
			mutate: func(cfg *Config) {
				cfg.JobClasses = nil
			},
			wantErr:   true,
			errString: "at least one job class",
		},
		{
			name: "throttle limit zero",
			mutate: func(cfg *Config) {
				cfg.JobClasses["entitler"] = JobClassConfig{Policy: PolicyThrottle, ThrottleLimit: 0}
			},
			wantErr:   true,
			errString: "throttle_limit must be at least 1",
		},
		{
			name: "throttle limit negative",
			mutate: func(cfg *Config) {
				cfg.JobClasses["entitler"] = JobClassConfig{Policy: PolicyThrottle, ThrottleLimit: -1}
			},
			wantErr:   true,
			errString: "throttle_limit must be at least 1",
		},
		{
			name: "throttle limit on unique policy",
			mutate: func(cfg *Config) {
				cfg.JobClasses["refresh_pools"] = JobClassConfig{Policy: PolicyUniquePerOwner, ThrottleLimit: 2}
			},
			wantErr:   true,
			errString: "throttle_limit is not valid",
		},
		{
			name: "missing policy",
			mutate: func(cfg *Config) {
				cfg.JobClasses["entitler"] = JobClassConfig{}
			},
			wantErr:   true,
			errString: "policy is required",
		},
		{
			name: "unknown policy",
			mutate: func(cfg *Config) {
				cfg.JobClasses["entitler"] = JobClassConfig{Policy: "round_robin"}
			},
			wantErr:   true,
			errString: "unknown policy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorker(t *testing.T) {
	valid := WorkerConfig{
		Concurrency:       5,
		JobTimeout:        5 * time.Minute,
		HeartbeatInterval: 30 * time.Second,
		ShutdownTimeout:   30 * time.Second,
	}

	tests := []struct {
		name      string
		mutate    func(w *WorkerConfig)
		errString string
	}{
		{
			name:   "valid worker config",
			mutate: func(w *WorkerConfig) {},
		},
		{
			name: "zero concurrency",
			mutate: func(w *WorkerConfig) {
				w.Concurrency = 0
			},
			errString: "concurrency must be greater than 0",
		},
		{
			name: "zero job timeout",
			mutate: func(w *WorkerConfig) {
				w.JobTimeout = 0
			},
			errString: "job_timeout must be greater than 0",
		},
		{
			name: "zero heartbeat interval",
			mutate: func(w *WorkerConfig) {
				w.HeartbeatInterval = 0
			},
			errString: "heartbeat_interval must be greater than 0",
		},
		{
			name: "zero shutdown timeout",
			mutate: func(w *WorkerConfig) {
				w.ShutdownTimeout = 0
			},
			errString: "shutdown_timeout must be greater than 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Worker = valid
			tt.mutate(&cfg.Worker)

			err := cfg.ValidateWorker()

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

		err = cfg.Validate()
		require.NoError(t, err)

		err = cfg.ValidateWorker()
		require.NoError(t, err)
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
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
