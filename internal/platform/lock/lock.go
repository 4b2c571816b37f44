package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "lock:"

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another holder is never released by us.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

const releaseTimeout = 5 * time.Second

// RedisLocker is a best-effort distributed mutex built on SET NX with a TTL.
type RedisLocker struct {
	rdb   redis.Cmdable
	ttl   time.Duration
	log   *zap.Logger
	token func() string
}

func NewRedisLocker(rdb redis.Cmdable, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{
		rdb:   rdb,
		ttl:   ttl,
		log:   logger.Named("lock"),
		token: uuid.NewString,
	}
}

// Acquire tries once to take the lock. acquired is false when another holder
// owns it; callers decide whether to retry.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), bool, error) {
	redisKey := keyPrefix + key
	token := l.token()
	ok, err := l.rdb.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis setnx %s: %w", redisKey, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := l.rdb.Eval(ctx, releaseScript, []string{redisKey}, token).Err(); err != nil {
			l.log.Warn("lock release failed", zap.String("key", redisKey), zap.Error(err))
		}
	}
	return release, true, nil
}

// Connect opens a client and verifies it with a ping.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}
