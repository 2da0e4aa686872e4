package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultLockTTL = 10 * time.Minute

// Lock coordinates exclusive cron cycles across worker replicas.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	// Extend pushes the lease out by the lock TTL. False means ownership was lost.
	Extend(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
	TTL() time.Duration
}

type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	ExtendIfValue(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	DeleteIfValue(ctx context.Context, key, value string) (bool, error)
}

// RedisLock is a lease keyed by a random owner token. Extend and Release only
// touch the key while it still carries that token.
type RedisLock struct {
	client redisStore
	key    string
	ttl    time.Duration

	mu    sync.Mutex
	owner string
}

func NewRedisLock(client redisStore, key string, ttl time.Duration) (*RedisLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{client: client, key: key, ttl: ttl}, nil
}

func (l *RedisLock) TTL() time.Duration { return l.ttl }

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if ok {
		l.mu.Lock()
		l.owner = token
		l.mu.Unlock()
	}
	return ok, nil
}

func (l *RedisLock) Extend(ctx context.Context) (bool, error) {
	token := l.token()
	if token == "" {
		return false, nil
	}
	ok, err := l.client.ExtendIfValue(ctx, l.key, token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("extend %s: %w", l.key, err)
	}
	if !ok {
		l.clear(token)
	}
	return ok, nil
}

func (l *RedisLock) Release(ctx context.Context) error {
	token := l.token()
	if token == "" {
		return nil
	}
	if _, err := l.client.DeleteIfValue(ctx, l.key, token); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	l.clear(token)
	return nil
}

func (l *RedisLock) token() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner
}

func (l *RedisLock) clear(token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner == token {
		l.owner = ""
	}
}
