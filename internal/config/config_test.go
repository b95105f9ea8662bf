package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.RelayPort)
	assert.Equal(t, ":8088", cfg.RelayAddr())
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 10*time.Second, cfg.WriteWait)
	assert.Equal(t, int64(1024*1024), cfg.MaxMessageSize)
	assert.Equal(t, []string{SinkLog}, cfg.TelemetrySinks)
	assert.Equal(t, "ws_message", cfg.TelemetryMeasurement)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.False(t, cfg.PrometheusEnabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("RELAY_PORT", "9100")
	t.Setenv("HEARTBEAT_INTERVAL", "5s")
	t.Setenv("RATE_LIMIT", "2.5")
	t.Setenv("TELEMETRY_SINKS", "Influx, redis ,")
	t.Setenv("ALLOWED_ORIGINS", "http://localhost:3000, https://fleet.example.com")
	t.Setenv("INFLUX_URL", "http://localhost:8086")
	t.Setenv("INFLUX_TOKEN", "token")
	t.Setenv("INFLUX_ORG", "fleet")
	t.Setenv("INFLUX_BUCKET", "rover_info")
	t.Setenv("PROMETHEUS_ENABLED", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.RelayPort)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 2.5, cfg.RateLimit)
	assert.Equal(t, []string{SinkInflux, SinkRedis}, cfg.TelemetrySinks)
	assert.Equal(t, []string{"http://localhost:3000", "https://fleet.example.com"}, cfg.AllowedOrigins)
	assert.True(t, cfg.HasSink(SinkInflux))
	assert.False(t, cfg.HasSink(SinkNATS))
	assert.True(t, cfg.PrometheusEnabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"port", "RELAY_PORT", "abc"},
		{"duration", "HEARTBEAT_INTERVAL", "thirty"},
		{"bool", "PROMETHEUS_ENABLED", "maybe"},
		{"float", "RATE_LIMIT", "fast"},
		{"int64", "MAX_MESSAGE_SIZE", "1MB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := LoadConfig()
			assert.ErrorContains(t, err, tt.key)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			RelayPort:            8088,
			MetricsPort:          9090,
			HeartbeatInterval:    30 * time.Second,
			WriteWait:            10 * time.Second,
			MaxMessageSize:       1024,
			SendBufferSize:       16,
			TelemetrySinks:       []string{SinkLog},
			TelemetryMeasurement: "ws_message",
			TelemetryQueueSize:   10,
			TelemetryWorkers:     1,
			LogLevel:             "info",
			LogFormat:            "json",
		}
	}

	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("BadPort", func(t *testing.T) {
		cfg := valid()
		cfg.RelayPort = 70000
		assert.ErrorContains(t, cfg.Validate(), "RELAY_PORT")
	})

	t.Run("UnknownSink", func(t *testing.T) {
		cfg := valid()
		cfg.TelemetrySinks = []string{"kafka"}
		assert.ErrorContains(t, cfg.Validate(), "kafka")
	})

	t.Run("InfluxMissingSettings", func(t *testing.T) {
		cfg := valid()
		cfg.TelemetrySinks = []string{SinkInflux}
		cfg.InfluxURL = "http://localhost:8086"
		assert.ErrorContains(t, cfg.Validate(), "INFLUX_TOKEN")
	})

	t.Run("PostgresMissingURL", func(t *testing.T) {
		cfg := valid()
		cfg.TelemetrySinks = []string{SinkPostgres}
		assert.ErrorContains(t, cfg.Validate(), "DATABASE_URL")
	})

	t.Run("MetricsPortClash", func(t *testing.T) {
		cfg := valid()
		cfg.PrometheusEnabled = true
		cfg.MetricsPort = cfg.RelayPort
		assert.ErrorContains(t, cfg.Validate(), "METRICS_PORT")
	})

	t.Run("AggregatesErrors", func(t *testing.T) {
		cfg := valid()
		cfg.HeartbeatInterval = 0
		cfg.LogFormat = "xml"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HEARTBEAT_INTERVAL")
		assert.Contains(t, err.Error(), "LOG_FORMAT")
	})
}

func TestSlogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for level, want := range cases {
		cfg := &Config{LogLevel: level}
		assert.Equal(t, want, cfg.SlogLevel(), level)
	}
}

func TestConfig_Environment(t *testing.T) {
	dev := &Config{GoEnv: "development"}
	assert.True(t, dev.IsDevelopment())
	assert.False(t, dev.IsProduction())

	prod := &Config{GoEnv: "production"}
	assert.True(t, prod.IsProduction())
	assert.False(t, prod.IsDevelopment())
}
