package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// InfluxConfig addresses an InfluxDB v2 bucket.
type InfluxConfig struct {
	URL           string
	Token         string
	Org           string
	Bucket        string
	BatchSize     uint
	FlushInterval time.Duration
}

// pointWriter is the part of the influx non-blocking WriteAPI the sink uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
	Errors() <-chan error
}

// InfluxSink writes points through the influx client's batching WriteAPI.
// Write never waits on the network; failed batches surface on the client's
// error channel and are logged.
type InfluxSink struct {
	client influxdb2.Client // nil in tests
	writer pointWriter
	logger *slog.Logger

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInfluxSink creates the influx client. No connection is made until the
// first batch is flushed.
func NewInfluxSink(cfg InfluxConfig, logger *slog.Logger) (*InfluxSink, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("influx url, org and bucket are required")
	}
	opts := influxdb2.DefaultOptions().SetPrecision(time.Nanosecond)
	if cfg.BatchSize > 0 {
		opts.SetBatchSize(cfg.BatchSize)
	}
	if cfg.FlushInterval > 0 {
		opts.SetFlushInterval(uint(cfg.FlushInterval.Milliseconds()))
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	s := newInfluxSink(client, client.WriteAPI(cfg.Org, cfg.Bucket), logger)
	s.logger.Info("influx_sink_ready",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return s, nil
}

func newInfluxSink(client influxdb2.Client, writer pointWriter, logger *slog.Logger) *InfluxSink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &InfluxSink{
		client: client,
		writer: writer,
		logger: logger,
		done:   make(chan struct{}),
	}
	// the error channel is unbuffered and must be drained or writes stall
	errs := writer.Errors()
	s.wg.Add(1)
	go s.drainErrors(errs)
	return s
}

// Write enqueues the point in the client's write buffer.
func (s *InfluxSink) Write(_ context.Context, p Point) error {
	s.writer.WritePoint(influxPoint(p))
	return nil
}

// Close flushes buffered points and shuts the client down.
func (s *InfluxSink) Close() error {
	s.closeOnce.Do(func() {
		s.writer.Flush()
		if s.client != nil {
			s.client.Close()
		}
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

func (s *InfluxSink) drainErrors(errs <-chan error) {
	defer s.wg.Done()
	for {
		select {
		case err, ok := <-errs:
			if !ok {
				return
			}
			s.logger.Error("influx_write_failed", "error", err.Error())
		case <-s.done:
			return
		}
	}
}

func influxPoint(p Point) *write.Point {
	return influxdb2.NewPoint(
		p.Measurement,
		map[string]string{SourceTag: p.Source},
		map[string]interface{}{PayloadField: string(p.Payload)},
		p.Time,
	)
}
