// Package gate provides per-key mutual exclusion for admission decisions.
//
// A Gate serialises callers that share a key and lets callers with different
// keys proceed in parallel. Memory keeps locks in process; Postgres and Redis
// hold them in shared storage for deployments that run several replicas.
package gate

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrTimeout is returned when a bounded wait for a key expires.
	ErrTimeout = errors.New("gate: timed out waiting for lock")
	// ErrLeaseLost means a held key may already belong to someone else.
	ErrLeaseLost = errors.New("gate: lease lost")
)

// Lease is exclusive ownership of one key.
type Lease interface {
	// Release gives up the key. Calling it more than once is a no-op.
	Release()
	// Valid returns ErrLeaseLost once the lease no longer excludes other
	// holders. Callers check it before making a decision durable.
	Valid(ctx context.Context) error
}

// Gate grants exclusive ownership of a key until the returned Lease is
// released.
type Gate interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

// IsWaitExpired reports whether err means the caller gave up waiting, either
// through the gate's own timeout or the caller's context.
func IsWaitExpired(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// localLease is a lease that cannot be lost while the process lives.
type localLease struct {
	once    sync.Once
	release func()
}

func (l *localLease) Release() { l.once.Do(l.release) }

func (l *localLease) Valid(context.Context) error { return nil }
