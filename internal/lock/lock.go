// Package lock provides single-flight guards for scheduled batch jobs.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "broiler:job:"

// ErrHeld means another process currently runs the job.
var ErrHeld = errors.New("job lock held elsewhere")

// Release gives a lock back.
type Release func(ctx context.Context) error

// Locker guards a named job for at most ttl.
type Locker interface {
	Acquire(ctx context.Context, job string, ttl time.Duration) (Release, error)
}

// Key is the redis key guarding job.
func Key(job string) string { return keyPrefix + job }

// RedisLocker obtains locks through redislock.
type RedisLocker struct {
	client *redislock.Client
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: redislock.New(client)}
}

func (l *RedisLocker) Acquire(ctx context.Context, job string, ttl time.Duration) (Release, error) {
	lk, err := l.client.Obtain(ctx, Key(job), ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrHeld
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", Key(job), err)
	}
	return func(ctx context.Context) error {
		if err := lk.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return fmt.Errorf("release lock %s: %w", Key(job), err)
		}
		return nil
	}, nil
}

// Nop always grants the lock. Used when no Redis is configured.
type Nop struct{}

func (Nop) Acquire(context.Context, string, time.Duration) (Release, error) {
	return func(context.Context) error { return nil }, nil
}
