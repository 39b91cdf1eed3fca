// Package config loads and validates the valuation backend configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment variables.
// Environment variables use the VV_ prefix (VV_DATABASE_HOST overrides database.host), so
// the same binary runs from a config.yaml locally and from pure environment variables in
// containers.
//
// The session signing secret is not part of this struct; it is read from VV_JWT_SECRET by
// auth.LoadJWTSecret so it never appears in a config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Rate limiter storage backends.
const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Security   SecurityConfig   `mapstructure:"security"`
	Payments   PaymentsConfig   `mapstructure:"payments"`
	Intake     IntakeConfig     `mapstructure:"intake"`
	Valuation  ValuationConfig  `mapstructure:"valuation"`
	VINDecoder VINDecoderConfig `mapstructure:"vin_decoder"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// RedisConfig locates the Redis server used by the shared rate limiter store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig configures the three named limiters. Each limit is the number of
// calls one identity may make per Interval.
type RateLimitingConfig struct {
	Enabled                bool          `mapstructure:"enabled"`
	Backend                string        `mapstructure:"backend"`
	Interval               time.Duration `mapstructure:"interval"`
	UniqueTokenPerInterval int           `mapstructure:"unique_token_per_interval"`
	APILimit               int           `mapstructure:"api_limit"`
	IntakeLimit            int           `mapstructure:"intake_limit"`
	ValuationLimit         int           `mapstructure:"valuation_limit"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// PaymentsConfig controls payment enforcement in the report gate.
type PaymentsConfig struct {
	// DisablePaymentCheck lets unpaid reports through the gate. Never set in production.
	DisablePaymentCheck bool `mapstructure:"disable_payment_check"`
}

// IntakeConfig tunes anonymous report creation.
type IntakeConfig struct {
	DuplicateWindow   time.Duration `mapstructure:"duplicate_window"`
	EnrichmentTimeout time.Duration `mapstructure:"enrichment_timeout"`
}

// ValuationConfig points at the third-party market valuation API.
type ValuationConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// VINDecoderConfig points at the NHTSA vPIC API.
type VINDecoderConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// envKeys lists every key that may be overridden from the environment.
// AutomaticEnv alone does not reach nested keys during Unmarshal.
var envKeys = []string{
	"server.host",
	"server.port",
	"server.read_timeout",
	"server.write_timeout",
	"server.shutdown_timeout",

	"database.host",
	"database.port",
	"database.name",
	"database.user",
	"database.password",
	"database.ssl_mode",
	"database.max_connections",
	"database.min_idle_connections",

	"redis.addr",
	"redis.password",
	"redis.db",

	"security.cors.allowed_origins",
	"security.cors.allowed_methods",
	"security.rate_limiting.enabled",
	"security.rate_limiting.backend",
	"security.rate_limiting.interval",
	"security.rate_limiting.unique_token_per_interval",
	"security.rate_limiting.api_limit",
	"security.rate_limiting.intake_limit",
	"security.rate_limiting.valuation_limit",
	"security.tls.enabled",
	"security.tls.cert_file",
	"security.tls.key_file",

	"payments.disable_payment_check",

	"intake.duplicate_window",
	"intake.enrichment_timeout",

	"valuation.base_url",
	"valuation.api_key",
	"valuation.timeout",

	"vin_decoder.base_url",
	"vin_decoder.timeout",

	"logging.level",
	"logging.format",

	"telemetry.service_name",
	"telemetry.metrics.enabled",
	"telemetry.metrics.prometheus_port",
}

func bindEnvVars(v *viper.Viper) error {
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/valuation-backend")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("VV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Valuation.APIKey = expandEnv(cfg.Valuation.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "vehicle_valuation")
	v.SetDefault("database.user", "valuation")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.backend", RateLimitBackendMemory)
	v.SetDefault("security.rate_limiting.interval", "60s")
	v.SetDefault("security.rate_limiting.unique_token_per_interval", 500)
	v.SetDefault("security.rate_limiting.api_limit", 60)
	v.SetDefault("security.rate_limiting.intake_limit", 5)
	v.SetDefault("security.rate_limiting.valuation_limit", 10)
	v.SetDefault("security.tls.enabled", false)

	v.SetDefault("payments.disable_payment_check", false)

	v.SetDefault("intake.duplicate_window", "5m")
	v.SetDefault("intake.enrichment_timeout", "15s")

	v.SetDefault("valuation.base_url", "")
	v.SetDefault("valuation.timeout", "15s")

	v.SetDefault("vin_decoder.base_url", "https://vpic.nhtsa.dot.gov/api")
	v.SetDefault("vin_decoder.timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("telemetry.service_name", "valuation-backend")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	if err := c.Security.RateLimiting.validate(c.Redis); err != nil {
		return err
	}

	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	if c.Intake.DuplicateWindow <= 0 {
		return fmt.Errorf("intake.duplicate_window must be positive")
	}

	if c.Telemetry.Metrics.Enabled {
		port := c.Telemetry.Metrics.PrometheusPort
		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid telemetry.metrics.prometheus_port: %d", port)
		}
		if port == c.Server.Port {
			return fmt.Errorf("telemetry.metrics.prometheus_port must differ from server.port")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

func (r *RateLimitingConfig) validate(redis RedisConfig) error {
	if !r.Enabled {
		return nil
	}
	switch r.Backend {
	case RateLimitBackendMemory:
	case RateLimitBackendRedis:
		if redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when the rate limiting backend is redis")
		}
	default:
		return fmt.Errorf("invalid rate limiting backend: %s (must be memory or redis)", r.Backend)
	}
	if r.Interval <= 0 {
		return fmt.Errorf("security.rate_limiting.interval must be positive")
	}
	if r.APILimit <= 0 || r.IntakeLimit <= 0 || r.ValuationLimit <= 0 {
		return fmt.Errorf("security.rate_limiting limits must be positive")
	}
	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
