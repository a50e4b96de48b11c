package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only if this holder still owns it, so an
// expired-and-reacquired lease is never released by the old holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0
`)

// Lease is a short-lived mutual-exclusion lease with TTL. Overlapping
// sweeper instances race SETNX; the loser skips the tick instead of
// double-draining.
type Lease struct {
	rdb   *redis.Client
	key   string
	ttl   time.Duration
	owner string
}

func NewLease(rdb *redis.Client, key string, ttl time.Duration) *Lease {
	return &Lease{rdb: rdb, key: key, ttl: ttl, owner: uuid.NewString()}
}

// TryAcquire returns false without error when another holder has the lease.
func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lease acquire: %w", err)
	}
	return ok, nil
}

// Release is a no-op when the lease already expired or changed hands.
func (l *Lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("lease release: %w", err)
	}
	return nil
}

// Extend renews the TTL while a long drain is still running.
func (l *Lease) Extend(ctx context.Context) error {
	ok, err := l.rdb.Expire(ctx, l.key, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("lease extend: %w", err)
	}
	if !ok {
		return fmt.Errorf("lease extend: lease lost")
	}
	return nil
}
