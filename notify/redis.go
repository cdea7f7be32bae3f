package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"escrow-backend/core/escrow"
	"escrow-backend/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	DefaultStream    = "escrow:events"
	DefaultMaxLen    = 100_000
	redisSendTimeout = 2 * time.Second
)

// RedisStream appends each event to a Redis stream with XADD, trimming the
// stream approximately to MaxLen entries.
type RedisStream struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

func NewRedisStream(client redis.UniversalClient, stream string, maxLen int64) *RedisStream {
	if stream == "" {
		stream = DefaultStream
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &RedisStream{client: client, stream: stream, maxLen: maxLen}
}

// DialRedis parses a redis:// URL and checks the connection.
func DialRedis(ctx context.Context, url string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (r *RedisStream) Notify(ctx context.Context, events []escrow.EventRecord) {
	// detached from the caller's cancellation, bounded by its own deadline
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), redisSendTimeout)
	defer cancel()

	pipe := r.client.Pipeline()
	for _, ev := range events {
		payload, err := json.Marshal(ev.Event)
		if err != nil {
			metrics.RecordNotifyFailure("redis")
			log.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("encode event for redis")
			continue
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: r.stream,
			MaxLen: r.maxLen,
			Approx: true,
			Values: map[string]any{
				"id":      ev.ID.String(),
				"seq":     strconv.FormatUint(ev.Seq, 10),
				"kind":    string(ev.Kind),
				"task_id": ev.TaskID.String(),
				"time":    ev.Time.Format(time.RFC3339Nano),
				"payload": string(payload),
			},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		metrics.RecordNotifyFailure("redis")
		log.Warn().Err(err).Str("stream", r.stream).Int("events", len(events)).Msg("redis stream publish failed")
	}
}
