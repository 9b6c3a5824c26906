package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lockKeyPrefix = "laoweather:lock:"

// releaseScript deletes the key only if it still holds our token, so an expired
// lock re-acquired by another instance is never released by us.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SweepLock is a cross-process mutual exclusion lock backed by SET NX PX.
type SweepLock struct {
	client *goredis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewSweepLock creates a lock whose keys expire after ttl.
func NewSweepLock(client *goredis.Client, ttl time.Duration, logger *zap.Logger) *SweepLock {
	return &SweepLock{client: client, ttl: ttl, logger: logger}
}

// TryLock attempts to acquire name without waiting.
func (l *SweepLock) TryLock(ctx context.Context, name string) (func(), bool, error) {
	key := lockKeyPrefix + name
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis: failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// The caller's context may already be cancelled by shutdown.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Warn("failed to release lock", zap.String("lock", name), zap.Error(err))
		}
	}
	return release, true, nil
}

// Ping checks Redis connectivity.
func (l *SweepLock) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping failed: %w", err)
	}
	return nil
}
