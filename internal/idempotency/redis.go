package idempotency

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "reservio:idempotency:"

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	if client == nil {
		return nil
	}
	return &RedisStore{client: client}
}

func (s *RedisStore) Claim(ctx context.Context, key string, ttl time.Duration) error {
	if s == nil || s.client == nil {
		return errors.New("idempotency redis client not configured")
	}
	if key == "" {
		return errors.New("idempotency key is empty")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	ok, err := s.client.SetNX(ctx, keyPrefix+key, "1", ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyClaimed
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return nil
	}
	if key == "" {
		return nil
	}
	return s.client.Del(ctx, keyPrefix+key).Err()
}
