package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	pkgredis "github.com/angelmondragon/todolimpio-backend/pkg/redis"
)

// Lock keeps maintenance cycles exclusive across worker replicas.
type Lock interface {
	// Acquire returns an owner token when the lock was taken.
	Acquire(ctx context.Context) (owner string, ok bool, err error)
	// Release frees the lock if owner still holds it.
	Release(ctx context.Context, owner string) error
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisLock is a SETNX lease that expires on its own if a worker dies
// mid-cycle.
type RedisLock struct {
	store lockStore
	key   string
	ttl   time.Duration
}

func NewRedisLock(store lockStore, key string, ttl time.Duration) (*RedisLock, error) {
	if store == nil {
		return nil, errors.New("redis client required for lock")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}
	return &RedisLock{store: store, key: key, ttl: ttl}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (string, bool, error) {
	owner := uuid.NewString()
	ok, err := l.store.SetNX(ctx, l.key, owner, l.ttl)
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return "", false, nil
	}
	return owner, true, nil
}

func (l *RedisLock) Release(ctx context.Context, owner string) error {
	if owner == "" {
		return nil
	}
	current, err := l.store.Get(ctx, l.key)
	if errors.Is(err, pkgredis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read lock owner: %w", err)
	}
	// The lease expired and another worker took it.
	if current != owner {
		return nil
	}
	if err := l.store.Del(ctx, l.key); err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}
