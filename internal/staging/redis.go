package staging

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKey = "staging:uploads"

// RedisRegistry keeps staged names in a sorted set scored by expiry (unix seconds).
type RedisRegistry struct {
	client *redis.Client
	key    string
}

// NewRedisRegistry connects to redisURL and verifies the connection.
func NewRedisRegistry(redisURL string) (*RedisRegistry, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisRegistry{client: client, key: defaultKey}, nil
}

// NewRedisRegistryWithClient wraps an existing client.
func NewRedisRegistryWithClient(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client, key: defaultKey}
}

func (r *RedisRegistry) Stage(ctx context.Context, name string, expiresAt time.Time) error {
	if err := r.client.ZAdd(ctx, r.key, redis.Z{Score: float64(expiresAt.Unix()), Member: name}).Err(); err != nil {
		return fmt.Errorf("stage upload %s: %w", name, err)
	}
	return nil
}

func (r *RedisRegistry) Claim(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	members := make([]any, len(names))
	for i, name := range names {
		members[i] = name
	}
	if err := r.client.ZRem(ctx, r.key, members...).Err(); err != nil {
		return fmt.Errorf("claim uploads: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Expired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	opt := &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	names, err := r.client.ZRangeByScore(ctx, r.key, opt).Result()
	if err != nil {
		return nil, fmt.Errorf("list expired uploads: %w", err)
	}
	return names, nil
}

func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
