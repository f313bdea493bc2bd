package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marcogenualdo/sso-session/internal/config"
	"github.com/redis/go-redis/v9"
)

const redisConnectTimeout = 5 * time.Second

// RedisCache shares state between browsing contexts served by separate
// processes, for example several gateway replicas behind one origin.
type RedisCache struct {
	client *redis.Client
}

func redisOptions(cfg config.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  redisConnectTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisCache connects to cfg.Address and fails fast when the server does
// not answer a PING, so a misconfigured store is caught at startup rather
// than on the first sign-in.
func NewRedisCache(cfg config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(redisOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to session store at %s: %w", cfg.Address, err)
	}

	return &RedisCache{client: client}, nil
}

func (rc *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := rc.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("session store get %q: %w", key, err)
	}
	return val, nil
}

// Set stores value under key. A ttl of zero or less keeps it until deleted,
// matching the lifetime of the browser storage the store stands in for.
func (rc *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := rc.client.Set(ctx, key, value, max(ttl, 0)).Err(); err != nil {
		return fmt.Errorf("session store set %q: %w", key, err)
	}
	return nil
}

func (rc *RedisCache) Delete(ctx context.Context, key string) error {
	if err := rc.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("session store delete %q: %w", key, err)
	}
	return nil
}

func (rc *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := rc.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("session store exists %q: %w", key, err)
	}
	return n > 0, nil
}

func (rc *RedisCache) Close() error {
	return rc.client.Close()
}
