package ranking

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"arenarank/internal/model"
)

// ClanEntry is one clan member's standing inside the per-clan ranking.
type ClanEntry struct {
	ClanID        int
	AvatarAddress model.Address
	Score         int
}

// ClanStore keeps one sorted set per clan plus a set of clan ids, so clan
// leaderboards never scan the global ranking.
type ClanStore struct {
	rdb *redis.Client
	cfg Config
}

func NewClanStore(rdb *redis.Client, cfg Config) *ClanStore {
	return &ClanStore{rdb: rdb, cfg: cfg}
}

func clanRankingKey(seasonID, roundID, clanID int) string {
	return fmt.Sprintf("season:%d:round:%d:clan:%d:ranking", seasonID, roundID, clanID)
}

func clanSetKey(seasonID, roundID int) string {
	return fmt.Sprintf("season:%d:round:%d:clans", seasonID, roundID)
}

func clanStatusKey(seasonID, roundID int) string {
	return fmt.Sprintf("season:%d:round:%d:clan-ranking:status", seasonID, roundID)
}

func (s *ClanStore) status(ctx context.Context, seasonID, roundID int) (Status, error) {
	v, err := s.rdb.Get(ctx, clanStatusKey(seasonID, roundID)).Result()
	if err == redis.Nil {
		return StatusMissing, nil
	}
	if err != nil {
		return StatusMissing, ioErr("get clan status", err)
	}
	return Status(v), nil
}

func (s *ClanStore) ensureDone(ctx context.Context, seasonID, roundID int) error {
	st, err := s.status(ctx, seasonID, roundID)
	if err != nil {
		return err
	}
	if st != StatusDone {
		return fmt.Errorf("%w: clan ranking season %d round %d status %q", ErrCacheUnavailable, seasonID, roundID, st)
	}
	return nil
}

// InitRanking bulk-loads clan member scores and records the clan id set.
func (s *ClanStore) InitRanking(ctx context.Context, entries []ClanEntry, seasonID, roundID, roundInterval int) error {
	statusKey := clanStatusKey(seasonID, roundID)
	ttl := s.cfg.TTL(roundInterval)

	if err := s.rdb.Set(ctx, statusKey, string(StatusInitializing), 0).Err(); err != nil {
		return ioErr("set clan status", err)
	}

	pipe := s.rdb.Pipeline()
	seen := map[int]bool{}
	for _, e := range entries {
		key := clanRankingKey(seasonID, roundID, e.ClanID)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(e.Score), Member: memberKey(e.AvatarAddress)})
		if !seen[e.ClanID] {
			seen[e.ClanID] = true
			pipe.SAdd(ctx, clanSetKey(seasonID, roundID), strconv.Itoa(e.ClanID))
			pipe.Expire(ctx, key, ttl)
		}
	}
	pipe.Expire(ctx, clanSetKey(seasonID, roundID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return ioErr("clan zadd batch", err)
	}

	if err := s.rdb.Set(ctx, statusKey, string(StatusDone), ttl).Err(); err != nil {
		return ioErr("set clan status done", err)
	}
	return nil
}

// UpdateScore increments one member's score inside its clan ranking.
func (s *ClanStore) UpdateScore(ctx context.Context, clanID int, addr model.Address, seasonID, roundID, delta int) error {
	if err := s.ensureDone(ctx, seasonID, roundID); err != nil {
		return err
	}
	key := clanRankingKey(seasonID, roundID, clanID)
	if err := s.rdb.ZIncrBy(ctx, key, float64(delta), memberKey(addr)).Err(); err != nil {
		return ioErr("clan zincrby", err)
	}
	return nil
}

// GetRank returns the member's shared-tie rank within its clan.
func (s *ClanStore) GetRank(ctx context.Context, clanID int, addr model.Address, seasonID, roundID int) (int, error) {
	if err := s.ensureDone(ctx, seasonID, roundID); err != nil {
		return 0, err
	}
	key := clanRankingKey(seasonID, roundID, clanID)
	score, err := s.rdb.ZScore(ctx, key, memberKey(addr)).Result()
	if err == redis.Nil {
		return 0, fmt.Errorf("%w: %s in clan %d", ErrNotRanked, addr, clanID)
	}
	if err != nil {
		return 0, ioErr("clan zscore", err)
	}
	higher, err := s.rdb.ZCount(ctx, key, "("+strconv.FormatFloat(score, 'f', -1, 64), "+inf").Result()
	if err != nil {
		return 0, ioErr("clan zcount", err)
	}
	return int(higher) + 1, nil
}

// GetScores enumerates one clan's members best-first.
func (s *ClanStore) GetScores(ctx context.Context, clanID, seasonID, roundID int) ([]Entry, error) {
	if err := s.ensureDone(ctx, seasonID, roundID); err != nil {
		return nil, err
	}
	zs, err := s.rdb.ZRevRangeWithScores(ctx, clanRankingKey(seasonID, roundID, clanID), 0, -1).Result()
	if err != nil {
		return nil, ioErr("clan zrevrange", err)
	}
	entries := make([]Entry, 0, len(zs))
	for _, z := range zs {
		entries = append(entries, Entry{AvatarAddress: memberAddress(z.Member.(string)), Score: int(z.Score)})
	}
	return entries, nil
}

// Clans lists the clan ids present in a round's clan rankings.
func (s *ClanStore) Clans(ctx context.Context, seasonID, roundID int) ([]int, error) {
	members, err := s.rdb.SMembers(ctx, clanSetKey(seasonID, roundID)).Result()
	if err != nil {
		return nil, ioErr("smembers clans", err)
	}
	ids := make([]int, 0, len(members))
	for _, m := range members {
		id, err := strconv.Atoi(m)
		if err != nil {
			return nil, fmt.Errorf("%w: bad clan id %q", ErrCacheIO, m)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// CopyRoundData carries every clan ranking forward into the target round.
func (s *ClanStore) CopyRoundData(ctx context.Context, seasonID, sourceRoundID, targetRoundID, roundInterval int) error {
	statusKey := clanStatusKey(seasonID, targetRoundID)
	ttl := s.cfg.TTL(roundInterval)

	if err := s.rdb.Set(ctx, statusKey, string(StatusCopying), 0).Err(); err != nil {
		return ioErr("set clan status", err)
	}
	clanIDs, err := s.rdb.SMembers(ctx, clanSetKey(seasonID, sourceRoundID)).Result()
	if err != nil {
		return ioErr("smembers clans", err)
	}
	for _, raw := range clanIDs {
		id, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%w: bad clan id %q", ErrCacheIO, raw)
		}
		target := clanRankingKey(seasonID, targetRoundID, id)
		source := clanRankingKey(seasonID, sourceRoundID, id)
		err = s.rdb.ZUnionStore(ctx, target, &redis.ZStore{
			Keys:      []string{target, source},
			Aggregate: "MAX",
		}).Err()
		if err != nil {
			return ioErr("clan zunionstore", err)
		}
		if err := s.rdb.Expire(ctx, target, ttl).Err(); err != nil {
			return ioErr("clan expire", err)
		}
		if err := s.rdb.SAdd(ctx, clanSetKey(seasonID, targetRoundID), raw).Err(); err != nil {
			return ioErr("sadd clans", err)
		}
	}
	if err := s.rdb.Expire(ctx, clanSetKey(seasonID, targetRoundID), ttl).Err(); err != nil {
		return ioErr("clans expire", err)
	}
	if err := s.rdb.Set(ctx, statusKey, string(StatusDone), ttl).Err(); err != nil {
		return ioErr("set clan status done", err)
	}
	return nil
}
