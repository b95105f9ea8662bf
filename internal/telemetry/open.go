package telemetry

import (
	"context"
	"log/slog"

	"fleetrelay/internal/config"
)

// Open builds the sink(s) named in TELEMETRY_SINKS. Telemetry never stops the
// relay from starting: a backend that cannot be reached is logged and skipped,
// and if nothing is left points go to the log.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) Sink {
	if logger == nil {
		logger = slog.Default()
	}

	var sinks MultiSink
	for _, name := range cfg.TelemetrySinks {
		sink, err := openOne(ctx, name, cfg, logger)
		if err != nil {
			logger.Error("telemetry_sink_unavailable",
				"sink", name,
				"error", err.Error(),
			)
			continue
		}
		if sink != nil {
			sinks = append(sinks, sink)
		}
	}

	switch len(sinks) {
	case 0:
		if cfg.HasSink(config.SinkNone) {
			return NopSink{}
		}
		return NewLogSink(logger)
	case 1:
		return sinks[0]
	default:
		return sinks
	}
}

// openOne returns a nil sink for "none".
func openOne(ctx context.Context, name string, cfg *config.Config, logger *slog.Logger) (Sink, error) {
	switch name {
	case config.SinkLog:
		return NewLogSink(logger), nil
	case config.SinkNone:
		return nil, nil
	case config.SinkInflux:
		return NewInfluxSink(InfluxConfig{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		}, logger)
	case config.SinkRedis:
		return NewRedisSink(RedisConfig{
			URL:    cfg.RedisURL,
			Stream: cfg.TelemetryRedisStream,
			MaxLen: cfg.TelemetryRedisMaxLen,
		})
	case config.SinkPostgres:
		return NewPostgresSink(ctx, PostgresConfig{URL: cfg.DatabaseURL}, logger)
	case config.SinkNATS:
		return NewNATSSink(NATSConfig{
			URL:     cfg.NATSURL,
			Subject: cfg.TelemetryNATSSubject,
		}, logger)
	default:
		return nil, &UnknownSinkError{Name: name}
	}
}

// UnknownSinkError reports a TELEMETRY_SINKS entry with no backend.
type UnknownSinkError struct {
	Name string
}

func (e *UnknownSinkError) Error() string {
	return "unknown telemetry sink " + e.Name
}
