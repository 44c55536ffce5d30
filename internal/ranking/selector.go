package ranking

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/redis/go-redis/v9"

	"arenarank/internal/model"
)

// SelectOpponents draws one opponent per group from the global ladder.
// Bands are fractions of the ranked population, so a mid-table requester and
// a leader see the same absolute index ranges. The requester's own index and
// already-picked indices are excluded; a group whose band is empty falls
// back to its alternate groups. Only full fills succeed.
func (s *Store) SelectOpponents(ctx context.Context, addr model.Address, seasonID, roundID int, isFirstRound bool, groups []Group, fallback map[int][]int) ([]Opponent, error) {
	if err := s.ensureDone(ctx, seasonID, roundID); err != nil {
		return nil, err
	}
	key := rankingKey(seasonID, roundID)

	total, err := s.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return nil, ioErr("zcard", err)
	}
	if total < MinPopulation {
		return nil, fmt.Errorf("%w: population %d below minimum %d", ErrMatchmakingFailed, total, MinPopulation)
	}
	// Past the first round the ladder has spread out; selecting only from
	// the top slice keeps matches competitive on very large populations.
	effective := int(total)
	if !isFirstRound && effective > PopulationCap {
		effective = PopulationCap
	}

	myIdx, err := s.rdb.ZRevRank(ctx, key, memberKey(addr)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", ErrNotRanked, addr)
	}
	if err != nil {
		return nil, ioErr("zrevrank", err)
	}

	used := map[int]bool{int(myIdx): true}
	out := make([]Opponent, 0, len(groups))

	for _, g := range groups {
		idx, found := pickIndex(g, effective, used)
		if !found {
			for _, fbID := range fallback[g.ID] {
				fg, ok := GroupByID(groups, fbID)
				if !ok {
					continue
				}
				if idx, found = pickIndex(fg, effective, used); found {
					break
				}
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: no candidate index for group %d in population %d", ErrMatchmakingFailed, g.ID, effective)
		}
		zs, err := s.rdb.ZRevRangeWithScores(ctx, key, int64(idx), int64(idx)).Result()
		if err != nil {
			return nil, ioErr("zrevrange", err)
		}
		if len(zs) == 0 {
			return nil, fmt.Errorf("%w: index %d vanished mid-selection", ErrMatchmakingFailed, idx)
		}
		used[idx] = true
		out = append(out, Opponent{
			GroupID:       g.ID,
			AvatarAddress: memberAddress(zs[0].Member.(string)),
			Score:         int(zs[0].Score),
		})
	}
	return out, nil
}

// pickIndex draws a uniform random unused 0-based index from the group's
// population band [floor(Min*n), floor(Max*n)). The upper bound is clamped
// to n-1 before the exclusive enumeration, so the bottom-ranked index is
// never offered.
func pickIndex(g Group, population int, used map[int]bool) (int, bool) {
	minIdx := int(g.Min * float64(population))
	maxIdx := int(g.Max * float64(population))
	if minIdx >= population {
		minIdx = population - 1
	}
	if maxIdx > population-1 {
		maxIdx = population - 1
	}
	candidates := make([]int, 0, maxIdx-minIdx)
	for i := minIdx; i < maxIdx; i++ {
		if !used[i] {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return 0, false
	}
	return candidates[rand.Intn(len(candidates))], true
}
