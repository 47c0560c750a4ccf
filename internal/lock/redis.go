package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/siteops/internal/logger"
)

const (
	// DefaultTTL is the lock lifetime between keepalive extensions.
	DefaultTTL = 2 * time.Minute

	keyPrefix      = "siteops:lock:"
	releaseTimeout = 5 * time.Second
)

// ErrNotHeld is returned when releasing or extending a lock this holder lost.
var ErrNotHeld = errors.New("lock not held")

var (
	unlockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	extendScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// RedisLocker guards keys across every instance sharing a Redis.
// A held lock is extended every ttl/3 until released, so a crashed holder
// frees the key within one ttl.
type RedisLocker struct {
	client redis.Cmdable
	ttl    time.Duration
	log    logger.Logger
}

// NewRedisLocker creates a distributed locker. A non-positive ttl uses DefaultTTL.
func NewRedisLocker(client redis.Cmdable, ttl time.Duration, log logger.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &RedisLocker{client: client, ttl: ttl, log: log}
}

// TryLock implements Locker.
func (l *RedisLocker) TryLock(ctx context.Context, key string) (Release, error) {
	redisKey := keyPrefix + key
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(redisKey, token, stop, done)

	var (
		once       sync.Once
		releaseErr error
	)
	return func() error {
		once.Do(func() {
			close(stop)
			<-done

			// The caller's context may already be cancelled; release anyway.
			releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			releaseErr = l.unlock(releaseCtx, redisKey, token)
		})
		return releaseErr
	}, nil
}

func (l *RedisLocker) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			err := l.extend(ctx, key, token)
			cancel()
			if err != nil {
				l.log.Warn("Failed to extend lock",
					logger.String("key", key),
					logger.Error(err),
				)
				if errors.Is(err, ErrNotHeld) {
					return
				}
			}
		}
	}
}

func (l *RedisLocker) unlock(ctx context.Context, key, token string) error {
	result, err := unlockScript.Run(ctx, l.client, []string{key}, token).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if result == 0 {
		return ErrNotHeld
	}
	return nil
}

func (l *RedisLocker) extend(ctx context.Context, key, token string) error {
	result, err := extendScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to extend lock: %w", err)
	}
	if result == 0 {
		return ErrNotHeld
	}
	return nil
}
