package fiscal

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// DefaultQueue is the redis list the emitter pops from.
const DefaultQueue = "jobs:fiscal"

// Pusher is the slice of the redis client the notifier needs.
type Pusher interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// job is the envelope the emitter decodes.
type job struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// RedisNotifier pushes new entry ids onto a redis list.
type RedisNotifier struct {
	rdb   Pusher
	queue string
}

func NewRedisNotifier(rdb Pusher, queue string) *RedisNotifier {
	if queue == "" {
		queue = DefaultQueue
	}
	return &RedisNotifier{rdb: rdb, queue: queue}
}

func (n *RedisNotifier) Notify(ctx context.Context, entryID string) error {
	payload, err := json.Marshal(map[string]string{"entry_id": entryID})
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(job{Type: "fiscal_emission", Payload: payload})
	if err != nil {
		return err
	}
	return n.rdb.LPush(ctx, n.queue, encoded).Err()
}

// NewRedis parses redisURL and verifies connectivity.
func NewRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return rdb, nil
}
