package transcripts

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSink appends transcripts to a stream and keeps the latest one per
// chain in a hash.
type RedisSink struct {
	client    RedisPipelineClient
	stream    string
	keyPrefix string
	ttl       time.Duration
	maxLen    int64
}

// RedisPipelineClient is the minimal client surface used by RedisSink.
type RedisPipelineClient interface {
	Pipeline() RedisPipeliner
}

// RedisPipeliner is the subset of commands used within a pipeline.
type RedisPipeliner interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Exec(ctx context.Context) ([]redis.Cmder, error)
}

// NewRedisSink constructs a Redis-backed transcript sink.
func NewRedisSink(client RedisPipelineClient, stream string, ttl time.Duration, maxLen int64) *RedisSink {
	if stream == "" {
		stream = "gateway_transcripts"
	}
	return &RedisSink{
		client:    client,
		stream:    stream,
		keyPrefix: "transcript:",
		ttl:       ttl,
		maxLen:    maxLen,
	}
}

// Record writes the transcript to the chain hash and appends it to the stream.
// Transcripts without a chain id only go to the stream.
func (r *RedisSink) Record(ctx context.Context, t Transcript) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	captured := t.CapturedAt
	if captured.IsZero() {
		captured = time.Now()
	}
	values := map[string]any{
		"chain_id":    t.ChainID,
		"gateway":     t.Gateway,
		"body":        t.Body,
		"captured_at": captured.UTC().Format(time.RFC3339Nano),
	}

	pipe := r.client.Pipeline()
	if t.ChainID != "" {
		key := r.keyPrefix + t.ChainID
		pipe.HSet(ctx, key, values)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
	}

	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: values,
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	pipe.XAdd(ctx, args)

	_, err := pipe.Exec(ctx)
	return err
}

// NewClientAdapter exposes a go-redis client as a RedisPipelineClient.
func NewClientAdapter(client redis.UniversalClient) RedisPipelineClient {
	return redisClientAdapter{client: client}
}

type redisClientAdapter struct {
	client redis.UniversalClient
}

func (a redisClientAdapter) Pipeline() RedisPipeliner {
	return redisPipelineAdapter{pipe: a.client.Pipeline()}
}

type redisPipelineAdapter struct {
	pipe redis.Pipeliner
}

func (p redisPipelineAdapter) HSet(ctx context.Context, key string, values ...any) *redis.IntCmd {
	return p.pipe.HSet(ctx, key, values...)
}

func (p redisPipelineAdapter) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	return p.pipe.Expire(ctx, key, expiration)
}

func (p redisPipelineAdapter) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	return p.pipe.XAdd(ctx, a)
}

func (p redisPipelineAdapter) Exec(ctx context.Context) ([]redis.Cmder, error) {
	return p.pipe.Exec(ctx)
}
