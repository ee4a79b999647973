package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fluentlens/fluentlens/internal/config"
)

const defaultScanCount = 256

// Redis implements Store on top of a shared Redis server.
type Redis struct {
	client    *redis.Client
	scanCount int64
}

// OpenRedis connects to Redis and verifies the connection with PING.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}

	return NewRedis(client), nil
}

// NewRedis wraps an existing client. The Redis store takes ownership and
// closes the client on Close.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, scanCount: defaultScanCount}
}

func (r *Redis) Get(ctx context.Context, key string) (int64, bool, error) {
	value, err := r.client.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, true, nil
}

func (r *Redis) SetNX(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

func (r *Redis) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	value, err := r.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incrby %s: %w", key, err)
	}
	return value, nil
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("redis expire %s: %w", key, err)
	}
	return nil
}

func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, false, fmt.Errorf("redis ttl %s: %w", key, err)
	}
	// -1 means no expiry, -2 means the key does not exist.
	if ttl < 0 {
		return 0, false, nil
	}
	return ttl, true, nil
}

func (r *Redis) Scan(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}
	iter := r.client.Scan(ctx, 0, escapeGlob(prefix)+"*", r.scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s*: %w", prefix, err)
	}
	return keys, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

// escapeGlob quotes the characters Redis MATCH treats specially.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, ch := range s {
		switch ch {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(ch)
	}
	return b.String()
}
