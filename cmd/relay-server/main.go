package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"fleetrelay/internal/config"
	"fleetrelay/internal/microservices/relay"
	"fleetrelay/internal/telemetry"
)

func main() {
	// Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config validation failed: %v", err)
	}

	// Setup structured logging
	logger := cfg.NewLogger()
	slog.SetDefault(logger)
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server_error", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Telemetry
	sink := telemetry.Open(ctx, cfg, logger)
	recorder := telemetry.NewRecorder(sink, telemetry.RecorderConfig{
		Measurement:  cfg.TelemetryMeasurement,
		QueueSize:    cfg.TelemetryQueueSize,
		Workers:      cfg.TelemetryWorkers,
		WriteTimeout: cfg.TelemetryWriteTimeout,
	}, logger)

	// Metrics
	var metrics *relay.Metrics
	var metricsServer *http.Server
	if cfg.PrometheusEnabled {
		registry, m := relay.NewMetricsRegistry()
		metrics = m
		mux := http.NewServeMux()
		mux.Handle("/metrics", relay.MetricsHandler(registry))
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr(),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	server := relay.NewServer(relay.Options{
		Addr: cfg.RelayAddr(),
		Connection: relay.ConnectionOptions{
			WriteWait:      cfg.WriteWait,
			MaxMessageSize: cfg.MaxMessageSize,
			SendBufferSize: cfg.SendBufferSize,
			RateLimit:      cfg.RateLimit,
			RateBurst:      cfg.RateBurst,
		},
		AllowedOrigins: cfg.AllowedOrigins,
		Metrics:        metrics,
		Logger:         logger,
	}, recorder)
	if cfg.IsProduction() && len(cfg.AllowedOrigins) == 0 {
		logger.Warn("allowed_origins_unset", "hint", "any browser origin may connect")
	}
	monitor := relay.NewLivenessMonitor(server.Registry, cfg.HeartbeatInterval, metrics, logger)

	logger.Info("starting_relay_server",
		"addr", cfg.RelayAddr(),
		"env", cfg.GoEnv,
		"telemetry_sinks", cfg.TelemetrySinks,
		"heartbeat_interval", cfg.HeartbeatInterval.String(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error { return monitor.Run(gctx) })
	if metricsServer != nil {
		g.Go(func() error {
			logger.Info("metrics_server_started", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	// Wait for shutdown signal or a component failure
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("received_shutdown_signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Warn("relay_server_stop_error", "error", err.Error())
		}
		if metricsServer != nil {
			metricsServer.Shutdown(shutdownCtx)
		}
		return nil
	})

	err := g.Wait()

	// in-flight telemetry gets a bounded grace period, the rest is abandoned
	graceCtx, cancel := context.WithTimeout(context.Background(), cfg.TelemetryShutdownGrace)
	defer cancel()
	if cerr := recorder.Close(graceCtx); cerr != nil {
		logger.Warn("telemetry_close_error", "error", cerr.Error())
	}

	logger.Info("server_stopped_gracefully")
	return err
}
