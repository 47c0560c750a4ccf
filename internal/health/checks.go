package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DatabaseCheckName is the key of the storage reachability check.
	DatabaseCheckName = "database"
	// CacheCheckName is the key of the cache reachability check.
	CacheCheckName = "redis"

	sentinelValue = "ok"
)

// ErrCacheMismatch is returned when the sentinel read back differs from the write.
var ErrCacheMismatch = errors.New("cache test failed")

// Querier runs a single-row query. *sqlx.DB satisfies it.
type Querier interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

// DatabaseCheck issues SELECT 1 and requires the round trip to return 1.
func DatabaseCheck(db Querier) Check {
	return NewCheck(DatabaseCheckName, func(ctx context.Context) error {
		var one int
		if err := db.GetContext(ctx, &one, "SELECT 1"); err != nil {
			return err
		}
		if one != 1 {
			return fmt.Errorf("unexpected result %d", one)
		}
		return nil
	})
}

// CacheCheck writes a sentinel key with a short ttl and reads it back.
func CacheCheck(client redis.Cmdable, key string, ttl time.Duration) Check {
	return NewCheck(CacheCheckName, func(ctx context.Context) error {
		if err := client.Set(ctx, key, sentinelValue, ttl).Err(); err != nil {
			return err
		}

		got, err := client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return ErrCacheMismatch
		}
		if err != nil {
			return err
		}
		if got != sentinelValue {
			return ErrCacheMismatch
		}
		return nil
	})
}
