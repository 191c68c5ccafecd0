package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Shivanand-hulikatti/race-admission/internal/sl"
)

// releaseScript deletes the lease only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript pushes the expiry out only if the lease still carries our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

const defaultLeaseTTL = 10 * time.Second

// Redis is a Gate backed by expiring leases. The TTL caps how long a crashed
// holder can block a key. A live holder renews its lease every third of the
// TTL until release; if a renewal finds the lease gone, Valid reports
// ErrLeaseLost from then on.
type Redis struct {
	client        redis.UniversalClient
	prefix        string
	ttl           time.Duration
	retryInterval time.Duration
	timeout       time.Duration
	log           *slog.Logger
}

type RedisConfig struct {
	Prefix        string
	LeaseTTL      time.Duration
	RetryInterval time.Duration
	Timeout       time.Duration
}

func NewRedis(client redis.UniversalClient, cfg RedisConfig, log *slog.Logger) *Redis {
	if cfg.Prefix == "" {
		cfg.Prefix = "gate:"
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaultLeaseTTL
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 25 * time.Millisecond
	}
	return &Redis{
		client:        client,
		prefix:        cfg.Prefix,
		ttl:           cfg.LeaseTTL,
		retryInterval: cfg.RetryInterval,
		timeout:       cfg.Timeout,
		log:           log.With(sl.Module("gate.redis")),
	}
}

func (r *Redis) Acquire(ctx context.Context, key string) (Lease, error) {
	leaseKey := r.prefix + key
	token := uuid.NewString()

	var deadline <-chan time.Time
	if r.timeout > 0 {
		timer := time.NewTimer(r.timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(r.retryInterval)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, leaseKey, token, r.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("set lease: %w", err)
		}
		if ok {
			return r.hold(leaseKey, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, ErrTimeout
		case <-ticker.C:
		}
	}
}

func (r *Redis) hold(leaseKey, token string) *redisLease {
	l := &redisLease{
		r:     r,
		key:   leaseKey,
		token: token,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go l.keepAlive()
	return l
}

type redisLease struct {
	r     *Redis
	key   string
	token string
	lost  atomic.Bool
	once  sync.Once
	stop  chan struct{}
	done  chan struct{}
}

func (l *redisLease) keepAlive() {
	defer close(l.done)
	ticker := time.NewTicker(l.r.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}
		err := l.renew(context.Background())
		switch {
		case errors.Is(err, ErrLeaseLost):
			l.r.log.Error("lease lost while held", slog.String("key", l.key))
			return
		case err != nil:
			// Retried on the next tick; the lease survives until its TTL.
			l.r.log.Warn("lease renewal failed", slog.String("key", l.key), sl.Err(err))
		}
	}
}

func (l *redisLease) renew(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.r.ttl/3)
	defer cancel()
	n, err := renewScript.Run(ctx, l.r.client, []string{l.key}, l.token, l.r.ttl.Milliseconds()).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("renew lease: %w", err)
	}
	if n == 0 {
		l.lost.Store(true)
		return ErrLeaseLost
	}
	return nil
}

// Valid renews the lease once more, so a nil result leaves a full TTL ahead.
func (l *redisLease) Valid(ctx context.Context) error {
	if l.lost.Load() {
		return ErrLeaseLost
	}
	return l.renew(ctx)
}

func (l *redisLease) Release() {
	l.once.Do(func() {
		close(l.stop)
		<-l.done

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		deleted, err := releaseScript.Run(ctx, l.r.client, []string{l.key}, l.token).Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			l.r.log.Error("lease release failed", slog.String("key", l.key), sl.Err(err))
			return
		}
		if deleted == 0 {
			l.r.log.Warn("lease expired before release", slog.String("key", l.key))
		}
	})
}
