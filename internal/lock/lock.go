// Package lock serialises the first resolution of a conversation across
// replicas. Locking is best effort: callers proceed unlocked when it fails.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kailera/acertaia-api/internal/observer"
	"github.com/kailera/acertaia-api/pkg/logger"
)

// ErrNotAcquired is returned when the wait budget ran out while another
// holder kept the lock.
var ErrNotAcquired = errors.New("conversation lock not acquired")

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context)
}

// Locker hands out per conversation leases.
type Locker interface {
	Acquire(ctx context.Context, conversationID string) (Lease, error)
}

type noopLease struct{}

func (noopLease) Release(context.Context) {}

// NoopLocker never blocks. Used when redis locking is disabled.
type NoopLocker struct{}

// Acquire implements Locker.
func (NoopLocker) Acquire(context.Context, string) (Lease, error) { return noopLease{}, nil }

const keyPrefix = "acertaia:lock:conversation:"

// releaseScript deletes the key only if it still holds our token, so a lease
// that outlived its TTL cannot free somebody else's lock.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// RedisLocker implements Locker with SET NX PX.
type RedisLocker struct {
	rdb      redis.Cmdable
	ttl      time.Duration
	wait     time.Duration
	interval time.Duration
	newToken func() string
}

// NewRedisLocker creates a locker whose leases expire after ttl and whose
// Acquire gives up after wait.
func NewRedisLocker(rdb redis.Cmdable, ttl, wait time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &RedisLocker{
		rdb:      rdb,
		ttl:      ttl,
		wait:     wait,
		interval: 50 * time.Millisecond,
		newToken: uuid.NewString,
	}
}

func lockKey(conversationID string) string {
	return keyPrefix + conversationID
}

// Acquire polls SET NX until it wins or the wait budget is spent.
func (l *RedisLocker) Acquire(ctx context.Context, conversationID string) (Lease, error) {
	key := lockKey(conversationID)
	token := l.newToken()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			observer.IncConversationLock("error")
			return nil, fmt.Errorf("acquire conversation lock: %w", err)
		}
		if ok {
			observer.IncConversationLock("acquired")
			return &redisLease{locker: l, key: key, token: token}, nil
		}
		if !time.Now().Add(l.interval).Before(deadline) {
			observer.IncConversationLock("contended")
			return nil, ErrNotAcquired
		}

		select {
		case <-ctx.Done():
			observer.IncConversationLock("error")
			return nil, ctx.Err()
		case <-time.After(l.interval):
		}
	}
}

type redisLease struct {
	locker *RedisLocker
	key    string
	token  string
}

// Release frees the lock; failures only cost the remaining TTL.
func (r *redisLease) Release(ctx context.Context) {
	if err := r.locker.rdb.Eval(ctx, releaseScript, []string{r.key}, r.token).Err(); err != nil {
		logger.FromContext(ctx).Warn("Failed to release conversation lock",
			zap.String("key", r.key), zap.Error(err))
	}
}
