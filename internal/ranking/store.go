package ranking

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"arenarank/internal/model"
)

// Status gates every read of a ranking. Readers refuse to proceed unless the
// status is DONE; writers flip to DONE only after the population is complete,
// so an observer of DONE never sees a partial set.
type Status string

const (
	StatusInitializing Status = "INITIALIZING"
	StatusCopying      Status = "COPYING_IN_PROGRESS"
	StatusDone         Status = "DONE"
	StatusMissing      Status = ""
)

// Config carries the cache-wide tuning shared by all ranking scopes.
type Config struct {
	// BlockIntervalSeconds is the expected seconds per block on the chain.
	BlockIntervalSeconds int
	// RetentionRounds is how many rounds of history a key outlives; the
	// TTL of every ranking key is roundInterval*BlockIntervalSeconds*RetentionRounds.
	RetentionRounds int
}

func DefaultConfig() Config {
	return Config{BlockIntervalSeconds: 8, RetentionRounds: 5}
}

// TTL returns the expiry applied to every key of a ranking with the given
// round interval.
func (c Config) TTL(roundInterval int) time.Duration {
	return time.Duration(roundInterval*c.BlockIntervalSeconds*c.RetentionRounds) * time.Second
}

// Entry is one member of a ranking.
type Entry struct {
	AvatarAddress model.Address
	Score         int
}

// RankedEntry is an Entry with its computed rank. Tied scores share the rank
// value (count of strictly higher scores, 1-indexed).
type RankedEntry struct {
	AvatarAddress model.Address
	Score         int
	Rank          int
}

// Store is the global per-(season,round) ranking over a redis sorted set.
type Store struct {
	rdb *redis.Client
	cfg Config
}

func NewStore(rdb *redis.Client, cfg Config) *Store {
	return &Store{rdb: rdb, cfg: cfg}
}

func rankingKey(seasonID, roundID int) string {
	return fmt.Sprintf("season:%d:round:%d:ranking", seasonID, roundID)
}

func rankingStatusKey(seasonID, roundID int) string {
	return rankingKey(seasonID, roundID) + ":status"
}

func memberKey(addr model.Address) string {
	return "participant:" + strings.ToLower(addr.String())
}

func memberAddress(member string) model.Address {
	return model.Address(strings.TrimPrefix(member, "participant:"))
}

func ioErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrCacheIO, op, err)
}

// Status returns the gate value for a ranking, StatusMissing if unset.
func (s *Store) Status(ctx context.Context, seasonID, roundID int) (Status, error) {
	v, err := s.rdb.Get(ctx, rankingStatusKey(seasonID, roundID)).Result()
	if err == redis.Nil {
		return StatusMissing, nil
	}
	if err != nil {
		return StatusMissing, ioErr("get status", err)
	}
	return Status(v), nil
}

func (s *Store) ensureDone(ctx context.Context, seasonID, roundID int) error {
	st, err := s.Status(ctx, seasonID, roundID)
	if err != nil {
		return err
	}
	if st != StatusDone {
		return fmt.Errorf("%w: season %d round %d status %q", ErrCacheUnavailable, seasonID, roundID, st)
	}
	return nil
}

// UpdateScore atomically increments a member's score. The ranking must be
// DONE; settlement is the only caller.
func (s *Store) UpdateScore(ctx context.Context, addr model.Address, seasonID, roundID, delta int) error {
	if err := s.ensureDone(ctx, seasonID, roundID); err != nil {
		return err
	}
	if err := s.rdb.ZIncrBy(ctx, rankingKey(seasonID, roundID), float64(delta), memberKey(addr)).Err(); err != nil {
		return ioErr("zincrby", err)
	}
	return nil
}

// GetRank returns the member's 1-indexed rank: one plus the count of members
// with a strictly higher score, so tied members share a rank.
func (s *Store) GetRank(ctx context.Context, addr model.Address, seasonID, roundID int) (int, error) {
	if err := s.ensureDone(ctx, seasonID, roundID); err != nil {
		return 0, err
	}
	key := rankingKey(seasonID, roundID)
	score, err := s.rdb.ZScore(ctx, key, memberKey(addr)).Result()
	if err == redis.Nil {
		return 0, fmt.Errorf("%w: %s", ErrNotRanked, addr)
	}
	if err != nil {
		return 0, ioErr("zscore", err)
	}
	higher, err := s.rdb.ZCount(ctx, key, "("+strconv.FormatFloat(score, 'f', -1, 64), "+inf").Result()
	if err != nil {
		return 0, ioErr("zcount", err)
	}
	return int(higher) + 1, nil
}

// GetScore returns the member's current score, ErrNotRanked if absent.
func (s *Store) GetScore(ctx context.Context, addr model.Address, seasonID, roundID int) (int, error) {
	if err := s.ensureDone(ctx, seasonID, roundID); err != nil {
		return 0, err
	}
	score, err := s.rdb.ZScore(ctx, rankingKey(seasonID, roundID), memberKey(addr)).Result()
	if err == redis.Nil {
		return 0, fmt.Errorf("%w: %s", ErrNotRanked, addr)
	}
	if err != nil {
		return 0, ioErr("zscore", err)
	}
	return int(score), nil
}

// GetScores enumerates the whole ranking best-first, for snapshot export and
// leaderboards.
func (s *Store) GetScores(ctx context.Context, seasonID, roundID int) ([]Entry, error) {
	if err := s.ensureDone(ctx, seasonID, roundID); err != nil {
		return nil, err
	}
	zs, err := s.rdb.ZRevRangeWithScores(ctx, rankingKey(seasonID, roundID), 0, -1).Result()
	if err != nil {
		return nil, ioErr("zrevrange", err)
	}
	entries := make([]Entry, 0, len(zs))
	for _, z := range zs {
		entries = append(entries, Entry{
			AvatarAddress: memberAddress(z.Member.(string)),
			Score:         int(z.Score),
		})
	}
	return entries, nil
}

// GetTopN returns the best n members with shared ranks for ties.
func (s *Store) GetTopN(ctx context.Context, seasonID, roundID, n int) ([]RankedEntry, error) {
	if err := s.ensureDone(ctx, seasonID, roundID); err != nil {
		return nil, err
	}
	zs, err := s.rdb.ZRevRangeWithScores(ctx, rankingKey(seasonID, roundID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, ioErr("zrevrange", err)
	}
	return rankEntries(zs), nil
}

// rankEntries assigns shared ranks to a best-first score slice.
func rankEntries(zs []redis.Z) []RankedEntry {
	out := make([]RankedEntry, 0, len(zs))
	for i, z := range zs {
		rank := i + 1
		if i > 0 && z.Score == zs[i-1].Score {
			rank = out[i-1].Rank
		}
		out = append(out, RankedEntry{
			AvatarAddress: memberAddress(z.Member.(string)),
			Score:         int(z.Score),
			Rank:          rank,
		})
	}
	return out
}

// Count returns the ranking's population without a status check, so the
// orchestrator can probe a ranking that is still being built.
func (s *Store) Count(ctx context.Context, seasonID, roundID int) (int64, error) {
	n, err := s.rdb.ZCard(ctx, rankingKey(seasonID, roundID)).Result()
	if err != nil {
		return 0, ioErr("zcard", err)
	}
	return n, nil
}

// InitRanking bulk-loads entries under the INITIALIZING gate and flips to
// DONE with a refreshed TTL. This is the only path that may legally populate
// an empty ranking.
func (s *Store) InitRanking(ctx context.Context, entries []Entry, seasonID, roundID, roundInterval int) error {
	statusKey := rankingStatusKey(seasonID, roundID)
	key := rankingKey(seasonID, roundID)
	ttl := s.cfg.TTL(roundInterval)

	if err := s.rdb.Set(ctx, statusKey, string(StatusInitializing), 0).Err(); err != nil {
		return ioErr("set status", err)
	}

	pipe := s.rdb.Pipeline()
	for _, e := range entries {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(e.Score), Member: memberKey(e.AvatarAddress)})
	}
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return ioErr("zadd batch", err)
	}

	if err := s.rdb.Set(ctx, statusKey, string(StatusDone), ttl).Err(); err != nil {
		return ioErr("set status done", err)
	}
	return nil
}

// CopyRoundData unions the source round's standings into the target round,
// carrying every member forward at no less than its current score. The
// target is gated COPYING_IN_PROGRESS for the duration.
func (s *Store) CopyRoundData(ctx context.Context, seasonID, sourceRoundID, targetRoundID, roundInterval int) error {
	statusKey := rankingStatusKey(seasonID, targetRoundID)
	source := rankingKey(seasonID, sourceRoundID)
	target := rankingKey(seasonID, targetRoundID)
	ttl := s.cfg.TTL(roundInterval)

	if err := s.rdb.Set(ctx, statusKey, string(StatusCopying), 0).Err(); err != nil {
		return ioErr("set status", err)
	}
	err := s.rdb.ZUnionStore(ctx, target, &redis.ZStore{
		Keys:      []string{target, source},
		Aggregate: "MAX",
	}).Err()
	if err != nil {
		return ioErr("zunionstore", err)
	}
	if err := s.rdb.Expire(ctx, target, ttl).Err(); err != nil {
		return ioErr("expire", err)
	}
	if err := s.rdb.Set(ctx, statusKey, string(StatusDone), ttl).Err(); err != nil {
		return ioErr("set status done", err)
	}
	return nil
}

// ClearAll removes every ranking key and status gate. Administrative use
// only; the next orchestrator tick rebuilds from snapshots.
func (s *Store) ClearAll(ctx context.Context) error {
	for _, pattern := range []string{"season:*:round:*:ranking", "season:*:round:*:ranking:status"} {
		iter := s.rdb.Scan(ctx, 0, pattern, 0).Iterator()
		for iter.Next(ctx) {
			if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
				return ioErr("del", err)
			}
		}
		if err := iter.Err(); err != nil {
			return ioErr("scan", err)
		}
	}
	return nil
}
