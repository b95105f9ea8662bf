package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	DefaultMeasurement = "ws_message" // measurement every relayed frame is written under
	SourceTag          = "source"     // tag: sender role
	PayloadField       = "payload"    // field: raw JSON frame
)

// Point is one relayed frame as written to the time-series store.
type Point struct {
	Measurement string
	Source      string
	Payload     []byte
	Time        time.Time
}

// Sink is a write-only time-series backend.
type Sink interface {
	Write(ctx context.Context, p Point) error
	Close() error
}

// LogSink writes points to a structured logger. It is the default backend
// when no external store is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(ctx context.Context, p Point) error {
	s.logger.InfoContext(ctx, "telemetry_point",
		"measurement", p.Measurement,
		SourceTag, p.Source,
		PayloadField, string(p.Payload),
		"time", p.Time,
	)
	return nil
}

func (s *LogSink) Close() error { return nil }

// NopSink discards every point.
type NopSink struct{}

func (NopSink) Write(context.Context, Point) error { return nil }
func (NopSink) Close() error                       { return nil }

// MultiSink writes each point to every backend. One backend failing does not
// stop the others.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, p Point) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
