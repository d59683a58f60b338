package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisBackend struct {
	client    *redis.Client
	keyPrefix string
	timeout   time.Duration
}

func OpenRedis(rawURL string, opts Options) (*RedisBackend, error) {
	redisOpts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	timeout := opts.timeout()
	redisOpts.DialTimeout = timeout
	redisOpts.ReadTimeout = timeout
	redisOpts.WriteTimeout = timeout
	redisOpts.ContextTimeoutEnabled = true
	return NewRedis(redis.NewClient(redisOpts), opts), nil
}

func NewRedis(client *redis.Client, opts Options) *RedisBackend {
	return &RedisBackend{client: client, keyPrefix: opts.KeyPrefix, timeout: opts.timeout()}
}

func (r *RedisBackend) Name() string {
	return "redis"
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	payload, err := r.client.Get(ctx, r.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("redis get", err)
	}
	return payload, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.client.Set(ctx, r.keyPrefix+key, payload, ttl).Err(); err != nil {
		return unavailable("redis set", err)
	}
	return nil
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.client.Del(ctx, r.keyPrefix+key).Err(); err != nil {
		return unavailable("redis delete", err)
	}
	return nil
}

func (r *RedisBackend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return unavailable("redis ping", err)
	}
	return nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
