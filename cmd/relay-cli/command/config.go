package command

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"fleetrelay/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the relay configuration resolved from .env and the environment",
	Long: `Load the relay server configuration the same way relay-server does
(.env file first, then environment variables), validate it and print the
effective values. Secrets are masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Printf("environment:        %s\n", cfg.GoEnv)
		fmt.Printf("relay address:      %s\n", cfg.RelayAddr())
		fmt.Printf("heartbeat interval: %s\n", cfg.HeartbeatInterval)
		fmt.Printf("max message size:   %d bytes\n", cfg.MaxMessageSize)
		fmt.Printf("send buffer:        %d frames\n", cfg.SendBufferSize)
		if cfg.RateLimit > 0 {
			fmt.Printf("rate limit:         %.1f/s (burst %d)\n", cfg.RateLimit, cfg.RateBurst)
		} else {
			fmt.Println("rate limit:         off")
		}
		fmt.Printf("allowed origins:    %v\n", cfg.AllowedOrigins)
		fmt.Printf("telemetry sinks:    %v\n", cfg.TelemetrySinks)
		fmt.Printf("measurement:        %s\n", cfg.TelemetryMeasurement)
		if cfg.HasSink(config.SinkInflux) {
			fmt.Printf("influx:             %s org=%s bucket=%s token=%s\n", cfg.InfluxURL, cfg.InfluxOrg, cfg.InfluxBucket, mask(cfg.InfluxToken))
		}
		if cfg.HasSink(config.SinkRedis) {
			fmt.Printf("redis stream:       %s (maxlen %d)\n", cfg.TelemetryRedisStream, cfg.TelemetryRedisMaxLen)
		}
		if cfg.HasSink(config.SinkPostgres) {
			fmt.Printf("database:           %s\n", mask(cfg.DatabaseURL))
		}
		if cfg.HasSink(config.SinkNATS) {
			fmt.Printf("nats:               %s subject=%s\n", cfg.NATSURL, cfg.TelemetryNATSSubject)
		}
		if cfg.PrometheusEnabled {
			fmt.Printf("metrics:            %s/metrics\n", cfg.MetricsAddr())
		}
		fmt.Printf("log:                %s (%s)\n", cfg.LogLevel, cfg.LogFormat)

		if err := cfg.Validate(); err != nil {
			color.Red("✖ %v", err)
			return err
		}
		color.Green("✔ configuration is valid")
		return nil
	},
}

func mask(secret string) string {
	if secret == "" {
		return "(unset)"
	}
	return "****"
}

func init() {
	rootCmd.AddCommand(configCmd)
}
