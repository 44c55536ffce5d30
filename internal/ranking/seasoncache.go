package ranking

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Pointer TTLs. The block index is only a freshness hint; the season pointer
// outlives any realistic deploy gap; the round pointer expires within a
// round interval so a stale pointer cannot survive a boundary unnoticed.
const (
	blockIndexTTL    = 10 * time.Minute
	currentSeasonTTL = 31 * 24 * time.Hour
	currentRoundTTL  = 12 * time.Hour
)

// CachedSeason is the season pointer payload stored in redis.
type CachedSeason struct {
	ID                   int   `json:"id"`
	StartBlock           int64 `json:"startBlock"`
	EndBlock             int64 `json:"endBlock"`
	RoundInterval        int   `json:"roundInterval"`
	BattleTicketPolicyID int   `json:"battleTicketPolicyId"`
}

// CachedRound is the round pointer payload stored in redis.
type CachedRound struct {
	ID         int   `json:"id"`
	SeasonID   int   `json:"seasonId"`
	RoundIndex int   `json:"roundIndex"`
	StartBlock int64 `json:"startBlock"`
	EndBlock   int64 `json:"endBlock"`
}

// SeasonCache holds the orchestrator's pointer keys: last seen block index,
// current season and current round. A missing season pointer is the signal
// that the caches must be restored from snapshots.
type SeasonCache struct {
	rdb *redis.Client
}

func NewSeasonCache(rdb *redis.Client) *SeasonCache {
	return &SeasonCache{rdb: rdb}
}

const (
	blockIndexKey    = "arena:block-index"
	currentSeasonKey = "arena:current-season"
)

func currentRoundKey(seasonID int) string {
	return fmt.Sprintf("arena:season:%d:current-round", seasonID)
}

func (c *SeasonCache) SetBlockIndex(ctx context.Context, index int64) error {
	if err := c.rdb.Set(ctx, blockIndexKey, strconv.FormatInt(index, 10), blockIndexTTL).Err(); err != nil {
		return ioErr("set block index", err)
	}
	return nil
}

// BlockIndex returns the cached tip, ok=false when missing or expired.
func (c *SeasonCache) BlockIndex(ctx context.Context) (int64, bool, error) {
	v, err := c.rdb.Get(ctx, blockIndexKey).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, ioErr("get block index", err)
	}
	idx, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: bad block index %q", ErrCacheIO, v)
	}
	return idx, true, nil
}

func (c *SeasonCache) SetCurrentSeason(ctx context.Context, season CachedSeason) error {
	raw, err := json.Marshal(season)
	if err != nil {
		return fmt.Errorf("%w: marshal season: %v", ErrCacheIO, err)
	}
	if err := c.rdb.Set(ctx, currentSeasonKey, raw, currentSeasonTTL).Err(); err != nil {
		return ioErr("set current season", err)
	}
	return nil
}

// CurrentSeason returns the season pointer, ok=false when missing.
func (c *SeasonCache) CurrentSeason(ctx context.Context) (CachedSeason, bool, error) {
	raw, err := c.rdb.Get(ctx, currentSeasonKey).Bytes()
	if err == redis.Nil {
		return CachedSeason{}, false, nil
	}
	if err != nil {
		return CachedSeason{}, false, ioErr("get current season", err)
	}
	var season CachedSeason
	if err := json.Unmarshal(raw, &season); err != nil {
		return CachedSeason{}, false, fmt.Errorf("%w: unmarshal season: %v", ErrCacheIO, err)
	}
	return season, true, nil
}

func (c *SeasonCache) SetCurrentRound(ctx context.Context, round CachedRound) error {
	raw, err := json.Marshal(round)
	if err != nil {
		return fmt.Errorf("%w: marshal round: %v", ErrCacheIO, err)
	}
	if err := c.rdb.Set(ctx, currentRoundKey(round.SeasonID), raw, currentRoundTTL).Err(); err != nil {
		return ioErr("set current round", err)
	}
	return nil
}

// CurrentRound returns the round pointer for a season, ok=false when missing.
func (c *SeasonCache) CurrentRound(ctx context.Context, seasonID int) (CachedRound, bool, error) {
	raw, err := c.rdb.Get(ctx, currentRoundKey(seasonID)).Bytes()
	if err == redis.Nil {
		return CachedRound{}, false, nil
	}
	if err != nil {
		return CachedRound{}, false, ioErr("get current round", err)
	}
	var round CachedRound
	if err := json.Unmarshal(raw, &round); err != nil {
		return CachedRound{}, false, fmt.Errorf("%w: unmarshal round: %v", ErrCacheIO, err)
	}
	return round, true, nil
}
