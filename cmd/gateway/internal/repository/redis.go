package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix   = "trade:"
	snapshotTTL = 1 * time.Hour
)

// Compile-time check to ensure RedisStore implements SnapshotStore
var _ SnapshotStore = (*RedisStore)(nil)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// SaveSnapshot overwrites the latest payload for a symbol. The TTL lets
// stale symbols age out when the feed stops tracking them.
func (r *RedisStore) SaveSnapshot(ctx context.Context, symbol string, payload []byte) error {
	return r.client.Set(ctx, keyPrefix+symbol, payload, snapshotTTL).Err()
}

// GetSnapshots fetches the latest payload for a list of symbols (MGET)
func (r *RedisStore) GetSnapshots(ctx context.Context, symbols []string) ([]string, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	keys := make([]string, len(symbols))
	for i, sym := range symbols {
		keys[i] = keyPrefix + sym
	}

	results, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var snapshots []string
	for _, val := range results {
		if payload, ok := val.(string); ok && payload != "" {
			snapshots = append(snapshots, payload)
		}
	}
	return snapshots, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
