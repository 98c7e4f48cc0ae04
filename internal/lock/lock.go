package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
)

var ErrNotObtained = errors.New("lock not obtained")

// Locker serialises rare, cross-instance operations such as shift rotation.
// The store transaction still guards correctness; the lock keeps competing
// rotations from burning retries against each other.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

type Noop struct{}

func (Noop) Acquire(_ context.Context, _ string, _ time.Duration) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

type Redis struct {
	locker *redislock.Client
	retry  redislock.RetryStrategy
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{
		locker: redislock.New(client),
		retry:  redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 20),
	}
}

func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	l, err := r.locker.Obtain(ctx, key, ttl, &redislock.Options{RetryStrategy: r.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrNotObtained, key)
	}
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		if err := l.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return err
		}
		return nil
	}, nil
}
