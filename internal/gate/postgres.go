package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/race-admission/internal/sl"
)

// Postgres is a Gate backed by session-level advisory locks. Waiters poll
// pg_try_advisory_lock and hand their connection back between attempts, so
// only holders pin a pooled connection. Give the gate its own pool: a holder
// that queries through a pool it has itself exhausted cannot make progress.
//
// Keys are hashed into the bigint lock space with hashtextextended. Two keys
// whose hashes collide share one lock and serialise each other.
type Postgres struct {
	pool          *pgxpool.Pool
	timeout       time.Duration
	retryInterval time.Duration
	log           *slog.Logger
}

type PostgresConfig struct {
	Timeout       time.Duration
	RetryInterval time.Duration
}

func NewPostgres(pool *pgxpool.Pool, cfg PostgresConfig, log *slog.Logger) *Postgres {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 25 * time.Millisecond
	}
	return &Postgres{
		pool:          pool,
		timeout:       cfg.Timeout,
		retryInterval: cfg.RetryInterval,
		log:           log.With(sl.Module("gate.postgres")),
	}
}

func (p *Postgres) Acquire(ctx context.Context, key string) (Lease, error) {
	waitCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeoutCause(ctx, p.timeout, ErrTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(p.retryInterval)
	defer ticker.Stop()

	for {
		lease, err := p.tryLock(waitCtx, key)
		if err != nil {
			return nil, p.waitErr(waitCtx, err)
		}
		if lease != nil {
			return lease, nil
		}

		select {
		case <-waitCtx.Done():
			return nil, context.Cause(waitCtx)
		case <-ticker.C:
		}
	}
}

// tryLock returns a nil lease without error when another session holds key.
func (p *Postgres) tryLock(ctx context.Context, key string) (*pgLease, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	var locked bool
	err = conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtextextended($1, 0))`, key).Scan(&locked)
	if err != nil {
		// The lock may have been granted before the error surfaced.
		conn.Hijack().Close(context.Background())
		return nil, fmt.Errorf("try advisory lock: %w", err)
	}
	if !locked {
		conn.Release()
		return nil, nil
	}
	return &pgLease{conn: conn, key: key, log: p.log}, nil
}

func (p *Postgres) waitErr(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil {
		return fmt.Errorf("%w: %w", cause, err)
	}
	return err
}

// pgLease pins the session that holds the advisory lock.
type pgLease struct {
	once sync.Once
	conn *pgxpool.Conn
	key  string
	log  *slog.Logger
}

func (l *pgLease) Release() {
	l.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := l.conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, l.key); err != nil {
			l.log.Error("advisory unlock failed, dropping connection", slog.String("key", l.key), sl.Err(err))
			l.conn.Hijack().Close(ctx)
			return
		}
		l.conn.Release()
	})
}

// Valid pings the pinned session. The lock dies with the session.
func (l *pgLease) Valid(ctx context.Context) error {
	if err := l.conn.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrLeaseLost, err)
	}
	return nil
}
