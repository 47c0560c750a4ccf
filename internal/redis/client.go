// Package redis creates the cache client used by health checks and the
// distributed backup lock.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/siteops/internal/config"
)

// ErrEmptyURL is returned when the Redis URL is not configured.
var ErrEmptyURL = errors.New("redis url is required")

// connectionTimeout is the timeout for verifying the Redis connection.
const connectionTimeout = 5 * time.Second

// NewClient parses cfg.URL and returns a connected client.
func NewClient(cfg config.RedisConfig) (*redis.Client, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", pingErr)
	}

	return client, nil
}

// NewLazyClient returns a client without verifying the connection. The health
// probe uses it so an unreachable cache is reported rather than fatal.
func NewLazyClient(cfg config.RedisConfig) (*redis.Client, error) {
	return newClient(cfg)
}

func newClient(cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, ErrEmptyURL
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	return redis.NewClient(opts), nil
}
