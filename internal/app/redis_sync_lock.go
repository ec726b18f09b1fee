package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseSyncLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisSyncLock is a best-effort distributed lock plus a completed-version marker
// for the startup sync. The lock expires on its own so a crashed holder cannot
// block later runs forever.
type RedisSyncLock struct {
	client redis.UniversalClient
	owner  string
}

func NewRedisSyncLock(client redis.UniversalClient) *RedisSyncLock {
	return &RedisSyncLock{
		client: client,
		owner:  uuid.NewString(),
	}
}

// Acquire takes the lock if nobody holds it. It returns false when another owner does.
func (l *RedisSyncLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if l == nil || l.client == nil {
		return false, errors.New("redis sync lock is not configured")
	}
	ok, err := l.client.SetNX(ctx, normalizeKey(key), l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire sync lock: %w", err)
	}
	return ok, nil
}

// Release drops the lock if this instance still owns it.
func (l *RedisSyncLock) Release(ctx context.Context, key string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if err := releaseSyncLockScript.Run(ctx, l.client, []string{normalizeKey(key)}, l.owner).Err(); err != nil {
		return fmt.Errorf("release sync lock: %w", err)
	}
	return nil
}

// ForceRelease drops the lock whoever holds it.
func (l *RedisSyncLock) ForceRelease(ctx context.Context, key string) error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Del(ctx, normalizeKey(key)).Err()
}

// Version returns the stored sync version and whether one was present.
func (l *RedisSyncLock) Version(ctx context.Context, key string) (int, bool, error) {
	if l == nil || l.client == nil {
		return 0, false, nil
	}
	v, err := l.client.Get(ctx, normalizeKey(key)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read sync version: %w", err)
	}
	return v, true, nil
}

func (l *RedisSyncLock) SetVersion(ctx context.Context, key string, version int, ttl time.Duration) error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Set(ctx, normalizeKey(key), version, ttl).Err()
}

func (l *RedisSyncLock) ClearVersion(ctx context.Context, key string) error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Del(ctx, normalizeKey(key)).Err()
}

func normalizeKey(key string) string {
	return strings.TrimSpace(key)
}
