package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var ErrRecorderClosed = errors.New("telemetry recorder is closed")

// RecorderConfig sizes the recorder's queue and worker pool.
type RecorderConfig struct {
	Measurement  string
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
}

func (c RecorderConfig) withDefaults() RecorderConfig {
	if c.Measurement == "" {
		c.Measurement = DefaultMeasurement
	}
	if c.QueueSize < 1 {
		c.QueueSize = 10000
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

// Stats counts what happened to recorded points.
type Stats struct {
	Recorded uint64 // accepted into the queue
	Written  uint64 // acknowledged by the sink
	Failed   uint64 // sink returned an error
	Dropped  uint64 // queue full, recorder closed, or abandoned at shutdown
}

// Recorder mirrors relayed frames into a Sink without ever blocking the
// caller. Points are queued and written by a small worker pool; a full queue
// drops the point. Delivery is best-effort.
type Recorder struct {
	sink   Sink
	cfg    RecorderConfig
	logger *slog.Logger

	queue  chan Point
	mu     sync.RWMutex // guards closed against sends on a closed queue
	closed bool

	ctx    context.Context // cancelled when the shutdown grace runs out
	cancel context.CancelFunc
	wg     sync.WaitGroup

	recorded atomic.Uint64
	written  atomic.Uint64
	failed   atomic.Uint64
	dropped  atomic.Uint64
}

// NewRecorder starts a recorder writing to sink.
func NewRecorder(sink Sink, cfg RecorderConfig, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	r := &Recorder{
		sink:   sink,
		cfg:    cfg,
		logger: logger,
		queue:  make(chan Point, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	logger.Info("telemetry_recorder_started",
		"workers", cfg.Workers,
		"queue_size", cfg.QueueSize,
		"measurement", cfg.Measurement,
	)
	return r
}

// Record queues a point tagged with source, timestamped now. payload must not
// be modified afterwards.
func (r *Recorder) Record(source string, payload []byte) {
	p := Point{
		Measurement: r.cfg.Measurement,
		Source:      source,
		Payload:     payload,
		Time:        time.Now(),
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}

	select {
	case r.queue <- p:
		r.recorded.Add(1)
	default:
		r.dropped.Add(1)
		r.logger.Warn("telemetry_queue_full",
			"source", source,
			"queue_size", cap(r.queue),
		)
	}

	// Monitor queue depth, once per crossing of the half mark
	if depth := len(r.queue); cap(r.queue) > 1 && depth == cap(r.queue)/2 {
		r.logger.Warn("telemetry_queue_high_watermark", "queue_depth", depth)
	}
}

// Close stops accepting points and drains the queue until ctx expires. Points
// still queued after that are abandoned. The sink is closed last.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRecorderClosed
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("telemetry_drain_abandoned", "remaining", len(r.queue))
		r.cancel()
		<-done
	}
	r.cancel()

	s := r.Stats()
	r.logger.Info("telemetry_recorder_stopped",
		"recorded", s.Recorded,
		"written", s.Written,
		"failed", s.Failed,
		"dropped", s.Dropped,
	)
	return r.sink.Close()
}

// Stats returns the current counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Recorded: r.recorded.Load(),
		Written:  r.written.Load(),
		Failed:   r.failed.Load(),
		Dropped:  r.dropped.Load(),
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for p := range r.queue {
		if r.ctx.Err() != nil {
			r.dropped.Add(1)
			continue
		}
		r.write(p)
	}
}

func (r *Recorder) write(p Point) {
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.WriteTimeout)
	defer cancel()

	if err := r.sink.Write(ctx, p); err != nil {
		r.failed.Add(1)
		r.logger.Error("telemetry_write_failed",
			"source", p.Source,
			"error", err.Error(),
		)
		return
	}
	r.written.Add(1)
}
