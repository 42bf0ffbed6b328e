package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "faber:checkpoint:"

// RedisStore persists checkpoints as Redis string values. Fast and shared,
// but only as durable as the Redis persistence configuration.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the given Redis URL
// (redis://[user:pass@]host:port/db).
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Put(ctx context.Context, threadID string, state []byte) error {
	if err := s.client.Set(ctx, redisKeyPrefix+threadID, state, 0).Err(); err != nil {
		return fmt.Errorf("put checkpoint %s: %w", threadID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, threadID string) ([]byte, error) {
	state, err := s.client.Get(ctx, redisKeyPrefix+threadID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint %s: %w", threadID, err)
	}
	return state, nil
}

func (s *RedisStore) Delete(ctx context.Context, threadID string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+threadID).Err(); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", threadID, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), redisKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
