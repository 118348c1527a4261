package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
)

// Locker serialises work on a key, typically one user's balance.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// RedisLocker hands out redsync mutexes so several app instances share the lock.
type RedisLocker struct {
	rs     *redsync.Redsync
	key    func(parts ...string) string
	ttl    time.Duration
	logger *slog.Logger
}

// NewLocker builds a distributed locker on top of the Redis client.
func NewLocker(r *Redis, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	pool := goredis.NewPool(r.Client())
	return &RedisLocker{
		rs:     redsync.New(pool),
		key:    r.Key,
		ttl:    ttl,
		logger: logger.With("component", "locker"),
	}
}

// Lock acquires the redsync mutex for key and returns its release func.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	mutex := l.rs.NewMutex(l.key("lock", key),
		redsync.WithExpiry(l.ttl),
		redsync.WithTries(32),
		redsync.WithRetryDelay(50*time.Millisecond),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return func() {
		// The caller's context may already be cancelled by the time we unlock.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := mutex.UnlockContext(unlockCtx); err != nil {
			l.logger.Warn("release lock failed", "key", key, "error", err)
		}
	}, nil
}

// LocalLocker is an in-process keyed mutex used when Redis is not configured.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker returns a Locker for single-process deployments.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: map[string]*localLock{}}
}

// Lock blocks until key is free or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, lk)
		return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lk.ch
			l.release(key, lk)
		})
	}, nil
}

func (l *LocalLocker) release(key string, lk *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, key)
	}
}
