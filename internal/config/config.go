// Package config loads the engine configuration from a YAML file with
// environment overrides (STEPFLOW_* variables).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Storage backends accepted in configuration.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config is the engine configuration.
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Plans     PlansConfig     `mapstructure:"plans"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServiceConfig contains the operational HTTP surface settings.
type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	MetricsPort     int           `mapstructure:"metrics_port"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

// PlansConfig locates plan documents served to the engine.
type PlansConfig struct {
	Dir string `mapstructure:"dir"`
}

// StorageConfig selects and configures the session store backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	// Dir holds session files for the file backend.
	Dir string `mapstructure:"dir"`
	// Path is the database file for the sqlite backend.
	Path     string         `mapstructure:"path"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig mirrors the postgres store connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// RedisConfig configures the optional Redis Streams event broadcast.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ExecutionConfig tunes session execution.
type ExecutionConfig struct {
	// StepTimeout bounds each function-call dispatch; 0 disables it.
	StepTimeout time.Duration `mapstructure:"step_timeout"`
	// EventBuffer is the in-memory event history per session.
	EventBuffer int `mapstructure:"event_buffer"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// Build constructs the zap logger described by the configuration.
func (c LoggingConfig) Build() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", c.Level, err)
	}
	zc := zap.NewProductionConfig()
	if c.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// Load reads configuration from STEPFLOW_CONFIG_PATH (default
// ./config/stepflow.yaml) with STEPFLOW_* environment overrides. A
// missing file yields the defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("STEPFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfgPath := os.Getenv("STEPFLOW_CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/stepflow.yaml"
	}
	if _, err := os.Stat(cfgPath); err == nil {
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that would only fail at first use.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendFile, BackendSQLite, BackendPostgres:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == BackendFile && c.Storage.Dir == "" {
		return fmt.Errorf("storage.dir is required for the file backend")
	}
	if c.Storage.Backend == BackendSQLite && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for the sqlite backend")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.port", 8085)
	v.SetDefault("service.metrics_port", 2115)
	v.SetDefault("service.graceful_timeout", 10*time.Second)
	v.SetDefault("plans.dir", "plans")
	v.SetDefault("storage.backend", BackendFile)
	v.SetDefault("storage.dir", "data/sessions")
	v.SetDefault("storage.path", "data/stepflow.db")
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.ssl_mode", "disable")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("execution.step_timeout", 0)
	v.SetDefault("execution.event_buffer", 256)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
