package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
)

// PeriodLockKey builds redis keys for period critical sections.
func PeriodLockKey(periodID int64) string {
	return fmt.Sprintf("audithub:period:%d:lock", periodID)
}

// ReleaseFunc releases a held lock.
type ReleaseFunc func(ctx context.Context) error

// Locker guards critical sections shared by every service instance.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error)
}

// RedisLocker implements Locker on top of redislock.
type RedisLocker struct {
	client *redislock.Client
}

// NewRedisLocker wraps a redis client.
func NewRedisLocker(client redislock.RedisClient) *RedisLocker {
	return &RedisLocker{client: redislock.New(client)}
}

// Acquire obtains key without waiting. A held key yields ErrLockNotObtained.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("locker not initialised")
	}
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrLockNotObtained
		}
		return nil, err
	}
	return func(ctx context.Context) error {
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return err
		}
		return nil
	}, nil
}
