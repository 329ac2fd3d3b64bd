// Package config handles YAML configuration loading with environment
// variable expansion, plus environment-based overrides for host/port/log
// level consumed at process startup.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level conductor configuration.
type Config struct {
	Server    ServerConfig                 `yaml:"server"`
	Conductor ConductorConfig              `yaml:"conductor"`
	Models    map[string]map[string]string `yaml:"models"`
	Providers map[string]ProviderEntry     `yaml:"providers"`
	Telemetry TelemetryConfig              `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings. Addr, and the log level, may be
// overridden by CONDUCTOR_HOST / CONDUCTOR_PORT / CONDUCTOR_LOG_LEVEL.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	LogLevel        string        `yaml:"log_level"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ConductorConfig holds the scheduling/dispatch tunables.
type ConductorConfig struct {
	SchedulingStrategy string  `yaml:"scheduling_strategy"`
	RequestTimeout     float64 `yaml:"request_timeout"` // seconds
	MaxRetries         int     `yaml:"max_retries"`
	RetryDelay         float64 `yaml:"retry_delay"` // seconds
}

// RequestTimeoutDuration returns RequestTimeout as a time.Duration.
func (c ConductorConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout * float64(time.Second))
}

// RetryDelayDuration returns RetryDelay as a time.Duration.
func (c ConductorConfig) RetryDelayDuration() time.Duration {
	return time.Duration(c.RetryDelay * float64(time.Second))
}

// ProviderEntry is one upstream provider's configuration.
type ProviderEntry struct {
	Enabled  bool       `yaml:"enabled"`
	BaseURL  string     `yaml:"base_url"`
	ChatPath string     `yaml:"chat_path"`
	Keys     []KeyEntry `yaml:"keys"`
}

// KeyEntry is one API key belonging to a provider.
type KeyEntry struct {
	Name              string `yaml:"name"`
	APIKey            string `yaml:"api_key"`
	RequestsPerMinute int64  `yaml:"requests_per_minute"`
	TokensPerMinute   int64  `yaml:"tokens_per_minute"`
}

// TelemetryConfig holds observability settings, carried regardless of which
// scheduling features are in scope: the scheduler still needs operational
// visibility.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, expanding environment variables,
// then applies CONDUCTOR_HOST / CONDUCTOR_PORT / CONDUCTOR_LOG_LEVEL
// overrides. path itself may be overridden by CONDUCTOR_CONFIG_PATH before
// this is called (see cmd/conductor).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			LogLevel:        "info",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Conductor: ConductorConfig{
			SchedulingStrategy: "round_robin",
			RequestTimeout:     120,
			MaxRetries:         3,
			RetryDelay:         1.0,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides layers CONDUCTOR_HOST / CONDUCTOR_PORT /
// CONDUCTOR_LOG_LEVEL on top of whatever the YAML file set.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("CONDUCTOR_HOST"); ok {
		cfg.Server.Host = v
	}
	if v, ok := os.LookupEnv("CONDUCTOR_PORT"); ok {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v, ok := os.LookupEnv("CONDUCTOR_LOG_LEVEL"); ok {
		cfg.Server.LogLevel = v
	}
}

// ResolveConfigPath returns CONDUCTOR_CONFIG_PATH if set, otherwise fallback.
func ResolveConfigPath(fallback string) string {
	if v, ok := os.LookupEnv("CONDUCTOR_CONFIG_PATH"); ok && v != "" {
		return v
	}
	return fallback
}
