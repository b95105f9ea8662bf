package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig addresses the stream relayed frames are appended to.
type RedisConfig struct {
	URL    string
	Stream string
	MaxLen int64 // approximate cap on stream length, 0 = unbounded
}

// RedisSink appends each point to a Redis stream with XADD.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(cfg RedisConfig) (*RedisSink, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	rdb := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisSinkWithClient(rdb, cfg.Stream, cfg.MaxLen), nil
}

// NewRedisSinkWithClient wraps an existing client.
func NewRedisSinkWithClient(client *redis.Client, stream string, maxLen int64) *RedisSink {
	if stream == "" {
		stream = "relay:telemetry"
	}
	return &RedisSink{
		client: client,
		stream: stream,
		maxLen: maxLen,
	}
}

func (s *RedisSink) Write(ctx context.Context, p Point) error {
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"measurement": p.Measurement,
			SourceTag:     p.Source,
			PayloadField:  string(p.Payload),
			"time":        p.Time.UTC().Format(time.RFC3339Nano),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis xadd: %w", err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
