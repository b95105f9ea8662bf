package relay

import (
	"context"
	"log/slog"
	"time"
)

// DefaultHeartbeatInterval is the ping cycle. A peer that misses one full
// cycle is evicted on the next.
const DefaultHeartbeatInterval = 30 * time.Second

// LivenessMonitor pings every connection each interval and evicts the ones
// that did not answer the previous ping.
type LivenessMonitor struct {
	registry *Registry
	interval time.Duration
	metrics  *Metrics
	logger   *slog.Logger
}

// NewLivenessMonitor creates a monitor over registry.
func NewLivenessMonitor(registry *Registry, interval time.Duration, metrics *Metrics, logger *slog.Logger) *LivenessMonitor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LivenessMonitor{
		registry: registry,
		interval: interval,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (m *LivenessMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("liveness_monitor_started", "interval", m.interval.String())
	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-ctx.Done():
			m.logger.Info("liveness_monitor_stopped")
			return nil
		}
	}
}

// Sweep runs one heartbeat cycle and reports how many connections were
// pinged and evicted.
func (m *LivenessMonitor) Sweep() (pinged, evicted int) {
	for _, c := range m.registry.All() {
		if !c.beginHeartbeat() {
			// no pong since the last ping
			c.Close()
			m.registry.Remove(c)
			evicted++
			m.logger.Warn("client_evicted",
				"client_id", c.ID,
				"role", c.Role().String(),
			)
			continue
		}
		if err := c.Ping(); err != nil {
			// a failed ping leaves alive cleared, so the next sweep evicts
			m.logger.Debug("client_ping_failed",
				"client_id", c.ID,
				"error", err.Error(),
			)
			continue
		}
		pinged++
	}

	m.metrics.sweep(evicted)
	m.metrics.observeConnections(m.registry.CountByRole())
	return pinged, evicted
}
