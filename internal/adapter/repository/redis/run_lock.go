package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const runLockKey = "fuel_importer:run_lock"

// releaseScript deletes the lock only if it is still owned by the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLock implements domain.RunLock with a single Redis key (SET NX PX).
type RunLock struct {
	client *redis.Client
	logger *slog.Logger
	key    string
}

// NewRunLock creates a new Redis-backed run lock.
func NewRunLock(client *redis.Client, logger *slog.Logger) *RunLock {
	return &RunLock{
		client: client,
		logger: logger.With("component", "run_lock"),
		key:    runLockKey,
	}
}

// Acquire tries to take the lock for ttl. ok is false when another instance holds it.
// The returned release func only deletes the key while it still carries this holder's token.
func (l *RunLock) Acquire(ctx context.Context, ttl time.Duration) (func(context.Context) error, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to SETNX run lock: %w", err)
	}
	if !ok {
		l.logger.Debug("run lock held elsewhere", "key", l.key)
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		deleted, err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Int64()
		if err != nil {
			return fmt.Errorf("failed to release run lock: %w", err)
		}
		if deleted == 0 {
			l.logger.Warn("run lock expired before release", "key", l.key, "ttl", ttl)
		}
		return nil
	}
	return release, true, nil
}
