package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig addresses the NATS server and base subject.
type NATSConfig struct {
	URL     string
	Subject string
}

// NATSSink publishes each point on <subject>.<source>. The raw frame is the
// message body; measurement and timestamp travel as headers.
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

// NewNATSSink connects to NATS with unlimited reconnects.
func NewNATSSink(cfg NATSConfig, logger *slog.Logger) (*NATSSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("fleet-relay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats_disconnected", "error", err.Error())
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return NewNATSSinkWithConn(nc, cfg.Subject), nil
}

// NewNATSSinkWithConn wraps an existing connection.
func NewNATSSinkWithConn(nc *nats.Conn, subject string) *NATSSink {
	if subject == "" {
		subject = "relay.telemetry"
	}
	return &NATSSink{conn: nc, subject: subject}
}

func (s *NATSSink) Write(_ context.Context, p Point) error {
	msg := nats.NewMsg(subjectFor(s.subject, p.Source))
	msg.Data = p.Payload
	msg.Header.Set("Measurement", p.Measurement)
	msg.Header.Set("Timestamp", p.Time.UTC().Format(time.RFC3339Nano))
	if err := s.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Close drains pending publishes before closing the connection.
func (s *NATSSink) Close() error {
	return s.conn.Drain()
}

func subjectFor(base, source string) string {
	if source == "" {
		source = "unknown"
	}
	return base + "." + source
}
