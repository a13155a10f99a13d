package kvs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces build-data keys in a shared Redis.
const DefaultRedisPrefix = "buildcheck:"

// Redis is a Store backed by Redis string keys of the form
// <prefix><key>:<scopeKey>.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// NewRedisFromAddr creates a client for a single Redis server.
func NewRedisFromAddr(addr, password string, db int, prefix string) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedis(rdb, prefix)
}

func (r *Redis) redisKey(key, scopeKey string) (string, error) {
	flat, err := JoinKey(key, scopeKey)
	if err != nil {
		return "", err
	}
	return r.prefix + flat, nil
}

func (r *Redis) Get(ctx context.Context, key, scopeKey string) (string, bool, error) {
	k, err := r.redisKey(key, scopeKey)
	if err != nil {
		return "", false, err
	}
	v, err := r.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", k, err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key, scopeKey, value string) error {
	k, err := r.redisKey(key, scopeKey)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, k, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", k, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key, scopeKey string) error {
	k, err := r.redisKey(key, scopeKey)
	if err != nil {
		return err
	}
	if err := r.client.Del(ctx, k).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", k, err)
	}
	return nil
}

func (r *Redis) List(ctx context.Context, key string) (map[string]string, error) {
	base, err := r.redisKey(key, "")
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	iter := r.client.Scan(ctx, 0, escapeGlob(base)+"*", 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		v, err := r.client.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			continue // deleted between SCAN and GET
		}
		if err != nil {
			return nil, fmt.Errorf("redis get %s: %w", k, err)
		}
		out[strings.TrimPrefix(k, base)] = v
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s*: %w", base, err)
	}
	return out, nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
