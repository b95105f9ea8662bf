package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createRelayMessages = `
	CREATE TABLE IF NOT EXISTS relay_messages (
		time        TIMESTAMPTZ NOT NULL,
		measurement TEXT        NOT NULL,
		source      TEXT        NOT NULL,
		payload     JSONB       NOT NULL
	)`

const insertRelayMessage = `
	INSERT INTO relay_messages (time, measurement, source, payload)
	VALUES ($1, $2, $3, $4)`

// PostgresConfig addresses a Postgres or TimescaleDB database.
type PostgresConfig struct {
	URL           string
	BatchSize     int
	FlushInterval time.Duration
}

// pgExecer is the part of *pgxpool.Pool the sink writes through.
type pgExecer interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSink buffers points and inserts them in batches into the
// relay_messages table. A batch the database refuses is retried row by row,
// so one bad payload only costs its own row.
type PostgresSink struct {
	pool   *pgxpool.Pool // nil in tests
	db     pgExecer
	cfg    PostgresConfig
	logger *slog.Logger

	rejected atomic.Uint64

	// Batching
	batch   []Point
	batchMu sync.Mutex

	// Lifecycle
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewPostgresSink connects, ensures the table exists and starts the flush loop.
func NewPostgresSink(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*PostgresSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, createRelayMessages); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create relay_messages: %w", err)
	}

	s := newPostgresSink(pool, cfg, logger)
	s.pool = pool
	s.wg.Add(1)
	go s.flushLoop()

	logger.Info("postgres_sink_ready",
		"batch_size", s.cfg.BatchSize,
		"flush_interval", cfg.FlushInterval.String(),
	)
	return s, nil
}

func newPostgresSink(db pgExecer, cfg PostgresConfig, logger *slog.Logger) *PostgresSink {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 500
	}
	return &PostgresSink{
		db:     db,
		cfg:    cfg,
		logger: logger,
		batch:  make([]Point, 0, cfg.BatchSize),
		done:   make(chan struct{}),
	}
}

// Rejected returns how many rows the database refused.
func (s *PostgresSink) Rejected() uint64 {
	return s.rejected.Load()
}

// Write adds the point to the current batch, flushing when it is full.
func (s *PostgresSink) Write(ctx context.Context, p Point) error {
	s.batchMu.Lock()
	s.batch = append(s.batch, p)
	shouldFlush := len(s.batch) >= s.cfg.BatchSize
	s.batchMu.Unlock()

	if shouldFlush {
		return s.flush(ctx)
	}
	return nil
}

// Close stops the flush loop, writes what is left and closes the pool.
func (s *PostgresSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = s.flush(ctx)
		if s.pool != nil {
			s.pool.Close()
		}
	})
	return err
}

// flushLoop periodically flushes the batch.
func (s *PostgresSink) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := s.flush(ctx); err != nil {
				s.logger.Error("postgres_flush_failed", "error", err.Error())
			}
			cancel()
		case <-s.done:
			return
		}
	}
}

// flush takes ownership of the current batch and inserts it.
func (s *PostgresSink) flush(ctx context.Context) error {
	s.batchMu.Lock()
	if len(s.batch) == 0 {
		s.batchMu.Unlock()
		return nil
	}
	rows := s.batch
	s.batch = make([]Point, 0, s.cfg.BatchSize)
	s.batchMu.Unlock()

	start := time.Now()
	if err := s.sendBatch(ctx, rows); err != nil {
		// the batch runs in one implicit transaction, so nothing from it landed
		s.logger.Warn("postgres_batch_failed",
			"count", len(rows),
			"error", err.Error(),
		)
		return s.insertEach(ctx, rows)
	}

	s.logger.Debug("flushed_relay_messages",
		"count", len(rows),
		"duration", time.Since(start),
	)
	return nil
}

func (s *PostgresSink) sendBatch(ctx context.Context, rows []Point) error {
	batch := &pgx.Batch{}
	for _, p := range rows {
		batch.Queue(insertRelayMessage, p.Time, p.Measurement, p.Source, json.RawMessage(p.Payload))
	}

	results := s.db.SendBatch(ctx, batch)
	for range rows {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return err
		}
	}
	return results.Close()
}

// insertEach writes rows one at a time, skipping the ones the database
// refuses. It fails only when no row could be written.
func (s *PostgresSink) insertEach(ctx context.Context, rows []Point) error {
	var written int
	var lastErr error
	for i, p := range rows {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			s.rejected.Add(uint64(len(rows) - i))
			break
		}
		_, err := s.db.Exec(ctx, insertRelayMessage, p.Time, p.Measurement, p.Source, json.RawMessage(p.Payload))
		if err != nil {
			lastErr = err
			s.rejected.Add(1)
			s.logger.Error("postgres_row_rejected",
				"source", p.Source,
				"error", err.Error(),
			)
			continue
		}
		written++
	}

	if written == 0 && lastErr != nil {
		return fmt.Errorf("insert relay_messages (%d rows): %w", len(rows), lastErr)
	}
	return nil
}
