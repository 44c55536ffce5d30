package ranking

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"arenarank/internal/model"
)

// Opponent is one selected opponent with the bucket it was drawn from. The
// group id keys the win/lose score deltas applied at settlement.
type Opponent struct {
	GroupID       int
	AvatarAddress model.Address
	Score         int
}

// GroupStore keeps the score-group ladder: a sorted set whose members are
// distinct score values, plus one hash per score listing the participants
// holding it. Selection here is rank-scoped: bucket bounds are fractions of
// the requester's group rank, not of the population.
type GroupStore struct {
	rdb *redis.Client
	cfg Config
}

func NewGroupStore(rdb *redis.Client, cfg Config) *GroupStore {
	return &GroupStore{rdb: rdb, cfg: cfg}
}

func groupRankingKey(seasonID, roundID int) string {
	return fmt.Sprintf("season:%d:round:%d:ranking-group", seasonID, roundID)
}

func groupStatusKey(seasonID, roundID int) string {
	return groupRankingKey(seasonID, roundID) + ":status"
}

func groupHashKey(seasonID, roundID, score int) string {
	return fmt.Sprintf("season:%d:round:%d:group:%d", seasonID, roundID, score)
}

func scoreMemberKey(score int) string {
	return "group:" + strconv.Itoa(score)
}

func scoreMemberValue(member string) (int, error) {
	return strconv.Atoi(strings.TrimPrefix(member, "group:"))
}

func (s *GroupStore) ensureDone(ctx context.Context, seasonID, roundID int) error {
	v, err := s.rdb.Get(ctx, groupStatusKey(seasonID, roundID)).Result()
	if err == redis.Nil {
		return fmt.Errorf("%w: group ranking season %d round %d missing", ErrCacheUnavailable, seasonID, roundID)
	}
	if err != nil {
		return ioErr("get group status", err)
	}
	if Status(v) != StatusDone {
		return fmt.Errorf("%w: group ranking season %d round %d status %q", ErrCacheUnavailable, seasonID, roundID, v)
	}
	return nil
}

// InitRanking bulk-loads the score buckets under the INITIALIZING gate.
func (s *GroupStore) InitRanking(ctx context.Context, entries []Entry, seasonID, roundID, roundInterval int) error {
	statusKey := groupStatusKey(seasonID, roundID)
	key := groupRankingKey(seasonID, roundID)
	ttl := s.cfg.TTL(roundInterval)

	if err := s.rdb.Set(ctx, statusKey, string(StatusInitializing), 0).Err(); err != nil {
		return ioErr("set group status", err)
	}
	pipe := s.rdb.Pipeline()
	seen := map[int]bool{}
	for _, e := range entries {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(e.Score), Member: scoreMemberKey(e.Score)})
		pipe.HSet(ctx, groupHashKey(seasonID, roundID, e.Score), memberKey(e.AvatarAddress), "1")
		if !seen[e.Score] {
			seen[e.Score] = true
			pipe.Expire(ctx, groupHashKey(seasonID, roundID, e.Score), ttl)
		}
	}
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return ioErr("group zadd batch", err)
	}
	if err := s.rdb.Set(ctx, statusKey, string(StatusDone), ttl).Err(); err != nil {
		return ioErr("set group status done", err)
	}
	return nil
}

// UpdateScore migrates a participant between score buckets. A bucket emptied
// by the move is removed from the ladder so group ranks stay dense.
func (s *GroupStore) UpdateScore(ctx context.Context, addr model.Address, seasonID, roundID, oldScore, newScore, roundInterval int) error {
	if err := s.ensureDone(ctx, seasonID, roundID); err != nil {
		return err
	}
	key := groupRankingKey(seasonID, roundID)
	oldHash := groupHashKey(seasonID, roundID, oldScore)
	newHash := groupHashKey(seasonID, roundID, newScore)
	ttl := s.cfg.TTL(roundInterval)

	if err := s.rdb.HDel(ctx, oldHash, memberKey(addr)).Err(); err != nil {
		return ioErr("group hdel", err)
	}
	remaining, err := s.rdb.HLen(ctx, oldHash).Result()
	if err != nil {
		return ioErr("group hlen", err)
	}
	if remaining == 0 {
		if err := s.rdb.ZRem(ctx, key, scoreMemberKey(oldScore)).Err(); err != nil {
			return ioErr("group zrem", err)
		}
	}
	if err := s.rdb.HSet(ctx, newHash, memberKey(addr), "1").Err(); err != nil {
		return ioErr("group hset", err)
	}
	if err := s.rdb.Expire(ctx, newHash, ttl).Err(); err != nil {
		return ioErr("group expire", err)
	}
	if err := s.rdb.ZAdd(ctx, key, redis.Z{Score: float64(newScore), Member: scoreMemberKey(newScore)}).Err(); err != nil {
		return ioErr("group zadd", err)
	}
	return nil
}

// GroupRank returns the 1-indexed rank of the requester's score bucket and
// the total bucket count. Bucket members are distinct scores, so ranks here
// are never tied.
func (s *GroupStore) GroupRank(ctx context.Context, score, seasonID, roundID int) (rank, total int, err error) {
	if err := s.ensureDone(ctx, seasonID, roundID); err != nil {
		return 0, 0, err
	}
	key := groupRankingKey(seasonID, roundID)
	idx, err := s.rdb.ZRevRank(ctx, key, scoreMemberKey(score)).Result()
	if err == redis.Nil {
		return 0, 0, fmt.Errorf("%w: score bucket %d", ErrNotRanked, score)
	}
	if err != nil {
		return 0, 0, ioErr("group zrevrank", err)
	}
	n, err := s.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return 0, 0, ioErr("group zcard", err)
	}
	return int(idx) + 1, int(n), nil
}

// CalcGroupRankRange maps a bucket's fraction pair onto a concrete rank band
// around the requester's group rank, clamped to the ladder.
func CalcGroupRankRange(g Group, rank, total int) (minRank, maxRank int) {
	minRank = int(math.Ceil(float64(rank) * g.Min))
	maxRank = int(math.Ceil(float64(rank) * g.Max))
	if minRank < 1 {
		minRank = 1
	}
	if maxRank > total {
		maxRank = total
	}
	if minRank > total {
		minRank = total
	}
	if maxRank < minRank {
		maxRank = minRank
	}
	return minRank, maxRank
}

// SelectOpponents draws one opponent per group for the requester. A group
// whose primary band has no eligible candidate falls back to its alternate
// groups, then to shifting the reference rank downward one step at a time.
// Only full five-group fills succeed. The returned depth is the deepest
// rank shift any group needed, for observability.
func (s *GroupStore) SelectOpponents(ctx context.Context, addr model.Address, score, seasonID, roundID int, groups []Group, fallback map[int][]int) ([]Opponent, int, error) {
	rank, total, err := s.GroupRank(ctx, score, seasonID, roundID)
	if err != nil {
		return nil, 0, err
	}

	picked := map[model.Address]bool{addr: true}
	out := make([]Opponent, 0, len(groups))
	maxDepth := 0

	for _, g := range groups {
		entry, found, err := s.pickInBand(ctx, seasonID, roundID, CalcGroupRankRangePair(g, rank, total), picked)
		if err != nil {
			return nil, 0, err
		}
		if !found {
			for _, fbID := range fallback[g.ID] {
				fg, ok := GroupByID(groups, fbID)
				if !ok {
					continue
				}
				entry, found, err = s.pickInBand(ctx, seasonID, roundID, CalcGroupRankRangePair(fg, rank, total), picked)
				if err != nil {
					return nil, 0, err
				}
				if found {
					break
				}
			}
		}
		if !found {
			var depth int
			entry, depth, found, err = s.pickWithRankShift(ctx, seasonID, roundID, g, rank, total, picked)
			if err != nil {
				return nil, 0, err
			}
			if depth > maxDepth {
				maxDepth = depth
			}
		}
		if !found {
			return nil, 0, fmt.Errorf("%w: no candidate for group %d at rank %d/%d", ErrMatchmakingFailed, g.ID, rank, total)
		}
		picked[entry.AvatarAddress] = true
		out = append(out, Opponent{GroupID: g.ID, AvatarAddress: entry.AvatarAddress, Score: entry.Score})
	}
	return out, maxDepth, nil
}

// rankBand is a closed 1-indexed [Min, Max] range of group ranks.
type rankBand struct {
	Min, Max int
}

// CalcGroupRankRangePair is CalcGroupRankRange packaged as a band value.
func CalcGroupRankRangePair(g Group, rank, total int) rankBand {
	mn, mx := CalcGroupRankRange(g, rank, total)
	return rankBand{Min: mn, Max: mx}
}

// pickWithRankShift retries a group's band at rank+1..rank+RankShiftLimit,
// skipping shifts that leave the band unchanged.
func (s *GroupStore) pickWithRankShift(ctx context.Context, seasonID, roundID int, g Group, rank, total int, picked map[model.Address]bool) (Entry, int, bool, error) {
	prev := CalcGroupRankRangePair(g, rank, total)
	for shift := 1; shift <= RankShiftLimit; shift++ {
		band := CalcGroupRankRangePair(g, rank+shift, total)
		if band == prev {
			continue
		}
		prev = band
		entry, found, err := s.pickInBand(ctx, seasonID, roundID, band, picked)
		if err != nil || found {
			return entry, shift, found, err
		}
	}
	return Entry{}, RankShiftLimit, false, nil
}

// pickInBand draws a uniform random eligible participant from the score
// buckets whose group rank lies in the band.
func (s *GroupStore) pickInBand(ctx context.Context, seasonID, roundID int, band rankBand, picked map[model.Address]bool) (Entry, bool, error) {
	key := groupRankingKey(seasonID, roundID)
	members, err := s.rdb.ZRevRange(ctx, key, int64(band.Min-1), int64(band.Max-1)).Result()
	if err != nil {
		return Entry{}, false, ioErr("group zrevrange", err)
	}
	rand.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
	for _, m := range members {
		score, err := scoreMemberValue(m)
		if err != nil {
			return Entry{}, false, fmt.Errorf("%w: bad score bucket %q", ErrCacheIO, m)
		}
		fields, err := s.rdb.HKeys(ctx, groupHashKey(seasonID, roundID, score)).Result()
		if err != nil {
			return Entry{}, false, ioErr("group hkeys", err)
		}
		eligible := fields[:0]
		for _, f := range fields {
			if !picked[memberAddress(f)] {
				eligible = append(eligible, f)
			}
		}
		if len(eligible) == 0 {
			continue
		}
		chosen := eligible[rand.Intn(len(eligible))]
		return Entry{AvatarAddress: memberAddress(chosen), Score: score}, true, nil
	}
	return Entry{}, false, nil
}
