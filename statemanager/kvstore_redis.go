package statemanager

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/facilitycore/orchestrator/platform"
)

// RedisStore implements platform.KVStore over go-redis/v8. Grounded
// directly on gomind's orchestration.RedisStateStore: a wrapped
// *redis.Client, string values, context-scoped calls. The TTL is the one
// passed to each Set call; the store holds no default TTL.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an already-configured *redis.Client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get implements platform.KVStore.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, platform.NewFrameworkError("statemanager.RedisStore.Get", "state", platform.ErrKVUnavailable)
	}
	return val, true, nil
}

// Set implements platform.KVStore. A zero ttl means no expiry.
func (s *RedisStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return platform.NewFrameworkError("statemanager.RedisStore.Set", "state", platform.ErrKVUnavailable)
	}
	return nil
}

// Delete implements platform.KVStore.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return platform.NewFrameworkError("statemanager.RedisStore.Delete", "state", platform.ErrKVUnavailable)
	}
	return nil
}

var _ platform.KVStore = (*RedisStore)(nil)
