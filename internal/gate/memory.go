package gate

import (
	"context"
	"sync"
	"time"
)

// keyLock is the lock object for one key. refs counts the holder plus all
// waiters; the entry leaves the map when refs drops to zero.
type keyLock struct {
	sem  chan struct{}
	refs int
}

// Memory is an in-process Gate. Blocked callers for a key are queued on a
// channel send and are admitted in arrival order.
type Memory struct {
	mu      sync.Mutex
	locks   map[string]*keyLock
	timeout time.Duration
}

type MemoryOption func(*Memory)

// WithTimeout bounds how long Acquire waits. Zero disables the bound.
func WithTimeout(d time.Duration) MemoryOption {
	return func(m *Memory) {
		m.timeout = d
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{locks: make(map[string]*keyLock)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Acquire(ctx context.Context, key string) (Lease, error) {
	l := m.ref(key)

	select {
	case l.sem <- struct{}{}:
		return m.releaser(key, l), nil
	default:
	}

	var expired <-chan time.Time
	if m.timeout > 0 {
		timer := time.NewTimer(m.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case l.sem <- struct{}{}:
		return m.releaser(key, l), nil
	case <-ctx.Done():
		m.unref(key, l)
		return nil, ctx.Err()
	case <-expired:
		m.unref(key, l)
		return nil, ErrTimeout
	}
}

// Len returns the number of keys with a holder or waiter.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *Memory) ref(key string) *keyLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	return l
}

func (m *Memory) unref(key string, l *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}

func (m *Memory) releaser(key string, l *keyLock) Lease {
	return &localLease{release: func() {
		<-l.sem
		m.unref(key, l)
	}}
}
