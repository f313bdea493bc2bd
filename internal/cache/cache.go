// Package cache holds the storage shared by every browsing context of one
// origin: a byte store with memory and Redis backends, and the per-context
// Mirror that pulls and pushes the session keys.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/marcogenualdo/sso-session/internal/config"
)

var ErrNotFound = errors.New("key not found")

// Cache is the shared backing store every browsing context of one origin
// reads and writes. A ttl of zero or less keeps the entry until deleted.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}

func New(cfg config.CacheConfig) (Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryCache(), nil
	case "redis":
		if cfg.Redis == nil {
			return nil, errors.New("redis config is required for redis cache type")
		}
		return NewRedisCache(*cfg.Redis)
	default:
		return nil, errors.New("unsupported cache type: " + cfg.Type)
	}
}
