package recorder

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash the Redis recorder increments.
const DefaultRedisKey = "flowstore:checkpoint:stats"

// Redis accumulates checkpoint write totals in a Redis hash so several
// nodes can publish into one place. Fields:
//
//	checkpoints             number of writes
//	checkpoint_state_bytes  total checkpoint state bytes
//	flow_state_bytes        total flow state bytes
//
// A failed update is logged and dropped; it never fails the checkpoint
// write.
type Redis struct {
	client  redis.UniversalClient
	key     string
	timeout time.Duration
	logger  *slog.Logger
}

// RedisOption configures a Redis recorder.
type RedisOption func(*Redis)

// WithRedisKey sets the hash key.
func WithRedisKey(key string) RedisOption {
	return func(r *Redis) {
		r.key = key
	}
}

// WithRedisTimeout bounds each update. Default 250ms.
func WithRedisTimeout(d time.Duration) RedisOption {
	return func(r *Redis) {
		r.timeout = d
	}
}

// WithRedisLogger sets the logger for dropped updates.
func WithRedisLogger(logger *slog.Logger) RedisOption {
	return func(r *Redis) {
		r.logger = logger
	}
}

// NewRedis creates a recorder writing through client.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client:  client,
		key:     DefaultRedisKey,
		timeout: 250 * time.Millisecond,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record adds one write to the totals. All fields change in a single
// pipeline round trip.
func (r *Redis) Record(checkpointState, flowState []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	pipe := r.client.Pipeline()
	pipe.HIncrBy(ctx, r.key, "checkpoints", 1)
	pipe.HIncrBy(ctx, r.key, partCheckpointState+"_bytes", int64(len(checkpointState)))
	pipe.HIncrBy(ctx, r.key, partFlowState+"_bytes", int64(len(flowState)))

	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("failed to record checkpoint stats", "key", r.key, "error", err)
	}
}
