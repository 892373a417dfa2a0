package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/OFFIS-RIT/triage/pkg/leaselock"
)

// Locker serializes work per document. fn runs while the lock for key is
// held and receives a context that is canceled if the lock is lost.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// KeyedLocker is an in-process Locker. Waiting honors ctx.
type KeyedLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{slots: make(map[string]*slot)}
}

func (l *KeyedLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	s := l.acquireSlot(key)
	defer l.releaseSlot(key, s)

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.ch }()

	return fn(ctx)
}

func (l *KeyedLocker) acquireSlot(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *KeyedLocker) releaseSlot(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// LeaseLocker is a Locker shared by every process using the same database.
type LeaseLocker struct {
	client *leaselock.Client
	opts   leaselock.Options
}

func NewLeaseLocker(client *leaselock.Client, ttl time.Duration) *LeaseLocker {
	return &LeaseLocker{
		client: client,
		opts: leaselock.Options{
			TTL:          ttl,
			Wait:         true,
			WaitInterval: 250 * time.Millisecond,
			WaitJitter:   100 * time.Millisecond,
			TokenPrefix:  "ingest-",
		},
	}
}

func (l *LeaseLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return l.client.WithLease(ctx, "ingest:"+key, l.opts, fn)
}
