package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	GoEnv string `env:"GO_ENV" default:"development"`

	// Relay listener
	RelayHost string `env:"RELAY_HOST" default:""`
	RelayPort int    `env:"RELAY_PORT" default:"8088"`

	// Connection handling
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" default:"30s"`
	WriteWait         time.Duration `env:"WRITE_WAIT" default:"10s"`
	MaxMessageSize    int64         `env:"MAX_MESSAGE_SIZE" default:"1048576"`
	SendBufferSize    int           `env:"SEND_BUFFER_SIZE" default:"256"`
	RateLimit         float64       `env:"RATE_LIMIT" default:"0"` // msgs/sec per connection, 0 = off
	RateBurst         int           `env:"RATE_BURST" default:"20"`
	AllowedOrigins    []string      `env:"ALLOWED_ORIGINS"` // empty = any origin

	// Telemetry
	TelemetrySinks         []string      `env:"TELEMETRY_SINKS" default:"log"`
	TelemetryMeasurement   string        `env:"TELEMETRY_MEASUREMENT" default:"ws_message"`
	TelemetryQueueSize     int           `env:"TELEMETRY_QUEUE_SIZE" default:"10000"`
	TelemetryWorkers       int           `env:"TELEMETRY_WORKERS" default:"2"`
	TelemetryWriteTimeout  time.Duration `env:"TELEMETRY_WRITE_TIMEOUT" default:"5s"`
	TelemetryShutdownGrace time.Duration `env:"TELEMETRY_SHUTDOWN_GRACE" default:"5s"`

	// InfluxDB v2
	InfluxURL    string `env:"INFLUX_URL"`
	InfluxToken  string `env:"INFLUX_TOKEN"`
	InfluxOrg    string `env:"INFLUX_ORG"`
	InfluxBucket string `env:"INFLUX_BUCKET"`

	// Redis stream
	RedisURL             string `env:"REDIS_URL" default:"redis://localhost:6379"`
	TelemetryRedisStream string `env:"TELEMETRY_REDIS_STREAM" default:"relay:telemetry"`
	TelemetryRedisMaxLen int64  `env:"TELEMETRY_REDIS_MAXLEN" default:"100000"`

	// Postgres / TimescaleDB
	DatabaseURL string `env:"DATABASE_URL"`

	// NATS
	NATSURL              string `env:"NATS_URL" default:"nats://localhost:4222"`
	TelemetryNATSSubject string `env:"TELEMETRY_NATS_SUBJECT" default:"relay.telemetry"`

	// Monitoring
	PrometheusEnabled bool `env:"PROMETHEUS_ENABLED" default:"false"`
	MetricsPort       int  `env:"METRICS_PORT" default:"9090"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"json"`
}

// Sink names accepted in TELEMETRY_SINKS.
const (
	SinkLog      = "log"
	SinkNone     = "none"
	SinkInflux   = "influx"
	SinkRedis    = "redis"
	SinkPostgres = "postgres"
	SinkNATS     = "nats"
)

var validSinks = []string{SinkLog, SinkNone, SinkInflux, SinkRedis, SinkPostgres, SinkNATS}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// .env is optional, system env vars still apply
	if err := godotenv.Load(".env"); err != nil {
		slog.Debug("dotenv_not_loaded", "error", err.Error())
	}

	config := &Config{}

	if err := loadEnvString(&config.GoEnv, "GO_ENV", "development"); err != nil {
		return nil, err
	}

	// Listener
	if err := loadEnvString(&config.RelayHost, "RELAY_HOST", ""); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.RelayPort, "RELAY_PORT", 8088); err != nil {
		return nil, err
	}

	// Connection handling
	if err := loadEnvDuration(&config.HeartbeatInterval, "HEARTBEAT_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.WriteWait, "WRITE_WAIT", 10*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvInt64(&config.MaxMessageSize, "MAX_MESSAGE_SIZE", 1024*1024); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.SendBufferSize, "SEND_BUFFER_SIZE", 256); err != nil {
		return nil, err
	}
	if err := loadEnvFloat(&config.RateLimit, "RATE_LIMIT", 0); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.RateBurst, "RATE_BURST", 20); err != nil {
		return nil, err
	}
	if err := loadEnvStringSlice(&config.AllowedOrigins, "ALLOWED_ORIGINS", nil); err != nil {
		return nil, err
	}

	// Telemetry
	if err := loadEnvStringSlice(&config.TelemetrySinks, "TELEMETRY_SINKS", []string{SinkLog}); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.TelemetryMeasurement, "TELEMETRY_MEASUREMENT", "ws_message"); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.TelemetryQueueSize, "TELEMETRY_QUEUE_SIZE", 10000); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.TelemetryWorkers, "TELEMETRY_WORKERS", 2); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.TelemetryWriteTimeout, "TELEMETRY_WRITE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.TelemetryShutdownGrace, "TELEMETRY_SHUTDOWN_GRACE", 5*time.Second); err != nil {
		return nil, err
	}

	// InfluxDB
	if err := loadEnvString(&config.InfluxURL, "INFLUX_URL", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.InfluxToken, "INFLUX_TOKEN", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.InfluxOrg, "INFLUX_ORG", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.InfluxBucket, "INFLUX_BUCKET", ""); err != nil {
		return nil, err
	}

	// Redis
	if err := loadEnvString(&config.RedisURL, "REDIS_URL", "redis://localhost:6379"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.TelemetryRedisStream, "TELEMETRY_REDIS_STREAM", "relay:telemetry"); err != nil {
		return nil, err
	}
	if err := loadEnvInt64(&config.TelemetryRedisMaxLen, "TELEMETRY_REDIS_MAXLEN", 100000); err != nil {
		return nil, err
	}

	// Postgres
	if err := loadEnvString(&config.DatabaseURL, "DATABASE_URL", ""); err != nil {
		return nil, err
	}

	// NATS
	if err := loadEnvString(&config.NATSURL, "NATS_URL", "nats://localhost:4222"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.TelemetryNATSSubject, "TELEMETRY_NATS_SUBJECT", "relay.telemetry"); err != nil {
		return nil, err
	}

	// Monitoring
	if err := loadEnvBool(&config.PrometheusEnabled, "PROMETHEUS_ENABLED", false); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.MetricsPort, "METRICS_PORT", 9090); err != nil {
		return nil, err
	}

	// Logging
	if err := loadEnvString(&config.LogLevel, "LOG_LEVEL", "info"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LogFormat, "LOG_FORMAT", "json"); err != nil {
		return nil, err
	}

	for i, s := range config.TelemetrySinks {
		config.TelemetrySinks[i] = strings.ToLower(s)
	}
	return config, nil
}

// Helper functions for type conversion and validation
func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt64(target *int64, key string, defaultValue int64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvFloat(target *float64, key string, defaultValue float64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvBool(target *bool, key string, defaultValue bool) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvStringSlice(target *[]string, key string, defaultValue []string) error {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, v := range parts {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
		*target = out
	} else {
		*target = defaultValue
	}
	return nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	if c.RelayPort < 1 || c.RelayPort > 65535 {
		errors = append(errors, "RELAY_PORT must be between 1 and 65535")
	}
	if c.PrometheusEnabled && (c.MetricsPort < 1 || c.MetricsPort > 65535) {
		errors = append(errors, "METRICS_PORT must be between 1 and 65535")
	}
	if c.PrometheusEnabled && c.MetricsPort == c.RelayPort {
		errors = append(errors, "METRICS_PORT must differ from RELAY_PORT")
	}

	if c.HeartbeatInterval <= 0 {
		errors = append(errors, "HEARTBEAT_INTERVAL must be positive")
	}
	if c.WriteWait <= 0 {
		errors = append(errors, "WRITE_WAIT must be positive")
	}
	if c.MaxMessageSize <= 0 {
		errors = append(errors, "MAX_MESSAGE_SIZE must be positive")
	}
	if c.SendBufferSize < 1 {
		errors = append(errors, "SEND_BUFFER_SIZE must be at least 1")
	}
	if c.RateLimit < 0 {
		errors = append(errors, "RATE_LIMIT must not be negative")
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		errors = append(errors, "RATE_BURST must be at least 1 when RATE_LIMIT is set")
	}

	if c.TelemetryQueueSize < 1 {
		errors = append(errors, "TELEMETRY_QUEUE_SIZE must be at least 1")
	}
	if c.TelemetryWorkers < 1 {
		errors = append(errors, "TELEMETRY_WORKERS must be at least 1")
	}
	if c.TelemetryMeasurement == "" {
		errors = append(errors, "TELEMETRY_MEASUREMENT must not be empty")
	}
	for _, sink := range c.TelemetrySinks {
		if !contains(validSinks, sink) {
			errors = append(errors, fmt.Sprintf("TELEMETRY_SINKS entry %q must be one of: %s", sink, strings.Join(validSinks, ", ")))
		}
	}
	if c.HasSink(SinkInflux) {
		if c.InfluxURL == "" || c.InfluxToken == "" || c.InfluxOrg == "" || c.InfluxBucket == "" {
			errors = append(errors, "INFLUX_URL, INFLUX_TOKEN, INFLUX_ORG and INFLUX_BUCKET are required for the influx sink")
		}
	}
	if c.HasSink(SinkPostgres) && c.DatabaseURL == "" {
		errors = append(errors, "DATABASE_URL is required for the postgres sink")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

// IsProduction returns true if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.GoEnv == "production"
}

// RelayAddr is the host:port the relay listens on.
func (c *Config) RelayAddr() string {
	return fmt.Sprintf("%s:%d", c.RelayHost, c.RelayPort)
}

// MetricsAddr is the host:port of the Prometheus endpoint.
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.RelayHost, c.MetricsPort)
}

// HasSink reports whether the named telemetry backend is enabled.
func (c *Config) HasSink(name string) bool {
	return contains(c.TelemetrySinks, name)
}

// SlogLevel maps LOG_LEVEL onto a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
