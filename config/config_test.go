package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Transport: "http",
			HTTPPort:  8080,
		},
		Staging: StagingConfig{
			Dir: "/tmp/taskdock",
		},
		Runner: RunnerConfig{
			DefaultTimeoutSec: 3600,
			WaitTimeoutSec:    10,
		},
		Storage: StorageConfig{
			Endpoint: "localhost:9000",
		},
		Logging: LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		// Test that a valid config does not fail validation
		cfg := validConfig()

		err := cfg.validate()
		require.NoError(t, err)
	})

	t.Run("InvalidServerTransport", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Transport = "invalid" // Invalid transport

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server.transport")
	})

	t.Run("EmptyStagingDir", func(t *testing.T) {
		cfg := validConfig()
		cfg.Staging.Dir = ""

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "staging.dir must not be empty")
	})

	t.Run("InvalidDefaultTimeout", func(t *testing.T) {
		cfg := validConfig()
		cfg.Runner.DefaultTimeoutSec = 0 // Invalid: must be positive

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "runner.default_timeout_sec must be positive")
	})

	t.Run("InvalidWaitTimeout", func(t *testing.T) {
		cfg := validConfig()
		cfg.Runner.WaitTimeoutSec = -1 // Invalid: must be positive

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "runner.wait_timeout_sec must be positive")
	})

	t.Run("EmptyStorageEndpoint", func(t *testing.T) {
		cfg := validConfig()
		cfg.Storage.Endpoint = ""

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "storage.endpoint must not be empty")
	})

	t.Run("InvalidLoggingMode", func(t *testing.T) {
		cfg := validConfig()
		cfg.Logging.Mode = "invalid_mode" // Invalid mode

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid logging.mode")
	})

	t.Run("InvalidLogLevel", func(t *testing.T) {
		cfg := validConfig()
		cfg.Logging.Level = "invalid_level" // Invalid level

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid logging.level")
	})
}

func TestConfigDurations(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, time.Hour, cfg.DefaultTimeout())
	assert.Equal(t, 10*time.Second, cfg.WaitTimeout())
}
