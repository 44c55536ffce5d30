package ranking

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ClanTotal is one clan's aggregate score in the season-wide clan ladder.
type ClanTotal struct {
	ClanID int
	Score  int
}

// RankedClan is a ClanTotal with its shared-tie rank.
type RankedClan struct {
	ClanID int
	Score  int
	Rank   int
}

// AllClanStore keeps the season-wide clan ladder: one sorted set whose
// members are clans scored by the sum of their members' scores.
type AllClanStore struct {
	rdb *redis.Client
	cfg Config
}

func NewAllClanStore(rdb *redis.Client, cfg Config) *AllClanStore {
	return &AllClanStore{rdb: rdb, cfg: cfg}
}

func allClanKey(seasonID, roundID int) string {
	return fmt.Sprintf("season:%d:round:%d:ranking-clan", seasonID, roundID)
}

func allClanStatusKey(seasonID, roundID int) string {
	return allClanKey(seasonID, roundID) + ":status"
}

func clanMemberKey(clanID int) string {
	return "clan:" + strconv.Itoa(clanID)
}

func clanMemberID(member string) (int, error) {
	return strconv.Atoi(strings.TrimPrefix(member, "clan:"))
}

func (s *AllClanStore) ensureDone(ctx context.Context, seasonID, roundID int) error {
	v, err := s.rdb.Get(ctx, allClanStatusKey(seasonID, roundID)).Result()
	if err == redis.Nil {
		return fmt.Errorf("%w: all-clan ranking season %d round %d missing", ErrCacheUnavailable, seasonID, roundID)
	}
	if err != nil {
		return ioErr("get all-clan status", err)
	}
	if Status(v) != StatusDone {
		return fmt.Errorf("%w: all-clan ranking season %d round %d status %q", ErrCacheUnavailable, seasonID, roundID, v)
	}
	return nil
}

// InitRanking bulk-loads clan totals under the INITIALIZING gate.
func (s *AllClanStore) InitRanking(ctx context.Context, totals []ClanTotal, seasonID, roundID, roundInterval int) error {
	statusKey := allClanStatusKey(seasonID, roundID)
	key := allClanKey(seasonID, roundID)
	ttl := s.cfg.TTL(roundInterval)

	if err := s.rdb.Set(ctx, statusKey, string(StatusInitializing), 0).Err(); err != nil {
		return ioErr("set all-clan status", err)
	}
	pipe := s.rdb.Pipeline()
	for _, t := range totals {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(t.Score), Member: clanMemberKey(t.ClanID)})
	}
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return ioErr("all-clan zadd batch", err)
	}
	if err := s.rdb.Set(ctx, statusKey, string(StatusDone), ttl).Err(); err != nil {
		return ioErr("set all-clan status done", err)
	}
	return nil
}

// UpdateScore shifts a clan's aggregate by the member's score delta.
func (s *AllClanStore) UpdateScore(ctx context.Context, clanID, seasonID, roundID, delta int) error {
	if err := s.ensureDone(ctx, seasonID, roundID); err != nil {
		return err
	}
	if err := s.rdb.ZIncrBy(ctx, allClanKey(seasonID, roundID), float64(delta), clanMemberKey(clanID)).Err(); err != nil {
		return ioErr("all-clan zincrby", err)
	}
	return nil
}

// GetRank returns a clan's shared-tie rank in the season-wide ladder.
func (s *AllClanStore) GetRank(ctx context.Context, clanID, seasonID, roundID int) (int, error) {
	if err := s.ensureDone(ctx, seasonID, roundID); err != nil {
		return 0, err
	}
	key := allClanKey(seasonID, roundID)
	score, err := s.rdb.ZScore(ctx, key, clanMemberKey(clanID)).Result()
	if err == redis.Nil {
		return 0, fmt.Errorf("%w: clan %d", ErrNotRanked, clanID)
	}
	if err != nil {
		return 0, ioErr("all-clan zscore", err)
	}
	higher, err := s.rdb.ZCount(ctx, key, "("+strconv.FormatFloat(score, 'f', -1, 64), "+inf").Result()
	if err != nil {
		return 0, ioErr("all-clan zcount", err)
	}
	return int(higher) + 1, nil
}

// GetTopClans returns the best n clans with shared ranks for tied totals.
func (s *AllClanStore) GetTopClans(ctx context.Context, seasonID, roundID, n int) ([]RankedClan, error) {
	if err := s.ensureDone(ctx, seasonID, roundID); err != nil {
		return nil, err
	}
	zs, err := s.rdb.ZRevRangeWithScores(ctx, allClanKey(seasonID, roundID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, ioErr("all-clan zrevrange", err)
	}
	out := make([]RankedClan, 0, len(zs))
	for i, z := range zs {
		id, err := clanMemberID(z.Member.(string))
		if err != nil {
			return nil, fmt.Errorf("%w: bad clan member %q", ErrCacheIO, z.Member)
		}
		rank := i + 1
		if i > 0 && z.Score == zs[i-1].Score {
			rank = out[i-1].Rank
		}
		out = append(out, RankedClan{ClanID: id, Score: int(z.Score), Rank: rank})
	}
	return out, nil
}

// Totals enumerates every clan's aggregate best-first, for snapshots.
func (s *AllClanStore) Totals(ctx context.Context, seasonID, roundID int) ([]ClanTotal, error) {
	if err := s.ensureDone(ctx, seasonID, roundID); err != nil {
		return nil, err
	}
	zs, err := s.rdb.ZRevRangeWithScores(ctx, allClanKey(seasonID, roundID), 0, -1).Result()
	if err != nil {
		return nil, ioErr("all-clan zrevrange", err)
	}
	out := make([]ClanTotal, 0, len(zs))
	for _, z := range zs {
		id, err := clanMemberID(z.Member.(string))
		if err != nil {
			return nil, fmt.Errorf("%w: bad clan member %q", ErrCacheIO, z.Member)
		}
		out = append(out, ClanTotal{ClanID: id, Score: int(z.Score)})
	}
	return out, nil
}

// Refresh recomputes every clan's aggregate from the per-clan member
// rankings. Run during round preparation so settlement increments and the
// recomputed sums stay reconciled.
func (s *AllClanStore) Refresh(ctx context.Context, clans *ClanStore, seasonID, roundID, roundInterval int) error {
	clanIDs, err := clans.Clans(ctx, seasonID, roundID)
	if err != nil {
		return err
	}
	totals := make([]ClanTotal, 0, len(clanIDs))
	for _, id := range clanIDs {
		zs, err := s.rdb.ZRangeWithScores(ctx, clanRankingKey(seasonID, roundID, id), 0, -1).Result()
		if err != nil {
			return ioErr("clan zrange", err)
		}
		sum := 0
		for _, z := range zs {
			sum += int(z.Score)
		}
		totals = append(totals, ClanTotal{ClanID: id, Score: sum})
	}
	return s.InitRanking(ctx, totals, seasonID, roundID, roundInterval)
}

// CopyRoundData carries the season-wide clan ladder into the target round.
func (s *AllClanStore) CopyRoundData(ctx context.Context, seasonID, sourceRoundID, targetRoundID, roundInterval int) error {
	statusKey := allClanStatusKey(seasonID, targetRoundID)
	ttl := s.cfg.TTL(roundInterval)

	if err := s.rdb.Set(ctx, statusKey, string(StatusCopying), 0).Err(); err != nil {
		return ioErr("set all-clan status", err)
	}
	err := s.rdb.ZUnionStore(ctx, allClanKey(seasonID, targetRoundID), &redis.ZStore{
		Keys:      []string{allClanKey(seasonID, targetRoundID), allClanKey(seasonID, sourceRoundID)},
		Aggregate: "MAX",
	}).Err()
	if err != nil {
		return ioErr("all-clan zunionstore", err)
	}
	if err := s.rdb.Expire(ctx, allClanKey(seasonID, targetRoundID), ttl).Err(); err != nil {
		return ioErr("all-clan expire", err)
	}
	if err := s.rdb.Set(ctx, statusKey, string(StatusDone), ttl).Err(); err != nil {
		return ioErr("set all-clan status done", err)
	}
	return nil
}
