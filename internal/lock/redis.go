package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockTimeout is returned when a Redis lock could not be acquired in time.
var ErrLockTimeout = errors.New("lock: timed out waiting for key")

// releaseScript deletes the key only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every API instance. The TTL bounds how long
// a crashed holder can block a key.
type RedisLocker struct {
	rdb      *redis.Client
	prefix   string
	ttl      time.Duration
	wait     time.Duration
	interval time.Duration
	logger   *zap.Logger
}

func NewRedisLocker(rdb *redis.Client, prefix string, ttl, wait time.Duration, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{
		rdb:      rdb,
		prefix:   prefix,
		ttl:      ttl,
		wait:     wait,
		interval: 25 * time.Millisecond,
		logger:   logger,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	fullKey := l.prefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.rdb.SetNX(ctx, fullKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock: redis setnx: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.interval):
		}
	}

	return func() {
		// Background context: release must run even if the request was cancelled.
		l.release(context.Background(), fullKey, token)
	}, nil
}

// release drops the key if token still owns it. A failed release leaves the
// key held until its TTL runs out.
func (l *RedisLocker) release(ctx context.Context, key, token string) {
	deleted, err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Int()
	if err != nil {
		l.logger.Error("redis lock release failed",
			zap.String("key", key),
			zap.Duration("held_until_ttl", l.ttl),
			zap.Error(err),
		)
		return
	}
	if deleted == 0 {
		l.logger.Warn("redis lock expired before release", zap.String("key", key))
	}
}
