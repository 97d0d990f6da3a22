package promotion

import (
	"context"
	"sync"
	"time"
)

// KeyLocker serializes work per natural key. The redis locker satisfies this
// across processes; MutexLocker covers single-process deployments.
type KeyLocker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func() error) error
}

// MutexLocker is an in-process KeyLocker backed by one mutex per key.
// Keys are never evicted; sessions are short-lived relative to process life.
type MutexLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMutexLocker creates a new in-process key locker
func NewMutexLocker() *MutexLocker {
	return &MutexLocker{
		locks: map[string]*sync.Mutex{},
	}
}

func (l *MutexLocker) lockFor(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.locks[key]; ok {
		return m
	}
	m := &sync.Mutex{}
	l.locks[key] = m
	return m
}

// WithLock executes fn while holding the per-key mutex. ttl is ignored; an
// in-process lock cannot outlive its holder.
func (l *MutexLocker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := l.lockFor(key)
	m.Lock()
	defer m.Unlock()
	return fn()
}
