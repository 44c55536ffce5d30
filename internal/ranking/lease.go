package ranking

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PrepareLease is the distributed mutex around season/round preparation.
// Replicas race on SetNX; the loser skips the tick and re-checks the
// prepared state on the next one. The TTL bounds how long a crashed holder
// can block preparation.
type PrepareLease struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewPrepareLease(rdb *redis.Client, ttl time.Duration) *PrepareLease {
	return &PrepareLease{rdb: rdb, ttl: ttl}
}

func leaseKey(seasonID, roundID int) string {
	return fmt.Sprintf("arena:prepare:%d:%d", seasonID, roundID)
}

// Acquire returns true if this process now holds the lease.
func (l *PrepareLease) Acquire(ctx context.Context, seasonID, roundID int) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, leaseKey(seasonID, roundID), "1", l.ttl).Result()
	if err != nil {
		return false, ioErr("setnx lease", err)
	}
	return ok, nil
}

// Release drops the lease. Safe to call when not held; preparation is
// idempotent so a stray release only lets another replica re-verify.
func (l *PrepareLease) Release(ctx context.Context, seasonID, roundID int) error {
	if err := l.rdb.Del(ctx, leaseKey(seasonID, roundID)).Err(); err != nil {
		return ioErr("del lease", err)
	}
	return nil
}
