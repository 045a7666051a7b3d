package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Staging StagingConfig `mapstructure:"staging"`
	Runner  RunnerConfig  `mapstructure:"runner"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// StagingConfig holds local staging configuration
type StagingConfig struct {
	// Dir is the base directory under which each task run stages its
	// inputs and outputs; every run gets its own subdirectory.
	Dir string `mapstructure:"dir"`
}

// RunnerConfig holds task-runner configuration
type RunnerConfig struct {
	// DefaultTimeoutSec applies to task specs that carry no timeout.
	DefaultTimeoutSec int `mapstructure:"default_timeout_sec"`

	// WaitTimeoutSec bounds the exit-code query after a run's log stream
	// closes.
	WaitTimeoutSec int `mapstructure:"wait_timeout_sec"`
}

// StorageConfig holds object-storage connection settings
type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set default values
	viper.SetDefault("server.transport", "stdio")
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("staging.dir", "/tmp/taskdock")
	viper.SetDefault("runner.default_timeout_sec", 3600)
	viper.SetDefault("runner.wait_timeout_sec", 10)
	viper.SetDefault("storage.endpoint", "localhost:9000")
	viper.SetDefault("storage.access_key", "")
	viper.SetDefault("storage.secret_key", "")
	viper.SetDefault("storage.use_ssl", false)
	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Staging.Dir == "" {
		return fmt.Errorf("staging.dir must not be empty")
	}

	if c.Runner.DefaultTimeoutSec <= 0 {
		return fmt.Errorf("runner.default_timeout_sec must be positive, got: %d", c.Runner.DefaultTimeoutSec)
	}

	if c.Runner.WaitTimeoutSec <= 0 {
		return fmt.Errorf("runner.wait_timeout_sec must be positive, got: %d", c.Runner.WaitTimeoutSec)
	}

	if c.Storage.Endpoint == "" {
		return fmt.Errorf("storage.endpoint must not be empty")
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	return nil
}

// DefaultTimeout returns the default task timeout as a duration
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.Runner.DefaultTimeoutSec) * time.Second
}

// WaitTimeout returns the exit-code query bound as a duration
func (c *Config) WaitTimeout() time.Duration {
	return time.Duration(c.Runner.WaitTimeoutSec) * time.Second
}
