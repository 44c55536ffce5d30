// Package lifecycle drives season and round progression: it polls the chain
// tip, prepares upcoming seasons and rounds ahead of their start blocks,
// advances the pointer caches when boundaries are crossed, and restores the
// ranking caches from snapshots after a cache loss.
package lifecycle

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"arenarank/internal/chain"
	"arenarank/internal/model"
	"arenarank/internal/observability"
	"arenarank/internal/persistence"
	"arenarank/internal/ranking"
)

// Caches bundles every ranking scope plus the pointer cache.
type Caches struct {
	ranking.Scopes
	Season *ranking.SeasonCache
}

// Config tunes the orchestrator loop.
type Config struct {
	TickInterval time.Duration // chain tip poll cadence
	ErrorDelay   time.Duration // extra sleep after a transient failure

	// SeasonLookahead and RoundLookahead are how many blocks before a
	// boundary preparation starts. Resolution happens at tip+lookahead+1,
	// i.e. just past the boundary being approached.
	SeasonLookahead int64
	RoundLookahead  int64

	// PageSize is the enrollment page during season preparation.
	PageSize int
}

func DefaultConfig() Config {
	return Config{
		TickInterval:    4 * time.Second,
		ErrorDelay:      2 * time.Second,
		SeasonLookahead: 15,
		RoundLookahead:  2,
		PageSize:        300,
	}
}

// Orchestrator owns the season/round state machine.
type Orchestrator struct {
	store   *persistence.Store
	chain   chain.Client
	caches  Caches
	lease   *ranking.PrepareLease
	cfg     Config
	metrics *observability.Metrics
	health  *observability.HealthChecker
	log     zerolog.Logger

	// preparing is the cheap in-process guard checked before the
	// distributed lease.
	mu        sync.Mutex
	preparing map[string]bool
}

func NewOrchestrator(store *persistence.Store, chainClient chain.Client, caches Caches, lease *ranking.PrepareLease, cfg Config, metrics *observability.Metrics, health *observability.HealthChecker, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		chain:     chainClient,
		caches:    caches,
		lease:     lease,
		cfg:       cfg,
		metrics:   metrics,
		health:    health,
		log:       log,
		preparing: make(map[string]bool),
	}
}

// Run loops until the context ends or an unclassified error occurs.
// Transient chain and cache failures are logged and retried after a short
// delay; anything else is treated as a fault in the state machine itself
// and stops the loop so the process can restart clean.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		o.metrics.LoopTicks.WithLabelValues("lifecycle").Inc()
		if err := o.tick(ctx); err != nil {
			if !isTransient(err) {
				o.metrics.LoopErrors.WithLabelValues("lifecycle", "fatal").Inc()
				o.log.Error().Err(err).Msg("orchestrator stopping on unclassified error")
				return err
			}
			o.metrics.LoopErrors.WithLabelValues("lifecycle", "transient").Inc()
			o.log.Warn().Err(err).Msg("orchestrator tick failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(o.cfg.ErrorDelay):
			}
		}
	}
}

func isTransient(err error) bool {
	return errors.Is(err, chain.ErrUnavailable) ||
		errors.Is(err, chain.ErrRetriesExhausted) ||
		errors.Is(err, ranking.ErrCacheIO)
}

func (o *Orchestrator) tick(ctx context.Context) error {
	tip, err := o.chain.TipHeight(ctx)
	if err != nil {
		return err
	}
	if err := o.caches.Season.SetBlockIndex(ctx, tip); err != nil {
		return err
	}

	season, ok, err := o.caches.Season.CurrentSeason(ctx)
	if err != nil {
		return err
	}
	if !ok {
		if err := o.restore(ctx, tip); err != nil {
			return err
		}
		o.health.SetReady(true)
		return nil
	}

	round, ok, err := o.caches.Season.CurrentRound(ctx, season.ID)
	if err != nil {
		return err
	}
	if !ok {
		if err := o.restore(ctx, tip); err != nil {
			return err
		}
		o.health.SetReady(true)
		return nil
	}
	o.health.SetReady(true)

	if err := o.maybePrepareSeason(ctx, season, tip); err != nil {
		return err
	}
	if err := o.maybePrepareRound(ctx, season, round, tip); err != nil {
		return err
	}
	return o.advancePointers(ctx, season, round, tip)
}

// maybePrepareSeason resolves the season just past the lookahead horizon and
// prepares it when it differs from the current one.
func (o *Orchestrator) maybePrepareSeason(ctx context.Context, current ranking.CachedSeason, tip int64) error {
	resolveAt := tip + o.cfg.SeasonLookahead + 1
	if resolveAt <= current.EndBlock {
		return nil
	}
	next, err := o.store.SeasonByBlock(ctx, resolveAt)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			// No season scheduled past the current one yet.
			return nil
		}
		return err
	}
	if next.ID == current.ID {
		return nil
	}
	return o.prepareSeason(ctx, next)
}

// maybePrepareRound resolves the round just past the lookahead horizon and
// carries the standings forward when it differs from the current one.
func (o *Orchestrator) maybePrepareRound(ctx context.Context, season ranking.CachedSeason, current ranking.CachedRound, tip int64) error {
	resolveAt := tip + o.cfg.RoundLookahead + 1
	if resolveAt <= current.EndBlock {
		return nil
	}
	full, err := o.store.SeasonByID(ctx, season.ID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil
		}
		return err
	}
	next, ok := full.RoundAt(resolveAt)
	if !ok || next.ID == current.ID {
		return nil
	}
	currentRound, err := o.store.RoundByID(ctx, current.ID)
	if err != nil {
		return err
	}
	return o.prepareRound(ctx, full, *currentRound, next)
}

// advancePointers moves the cached season/round pointers once the tip has
// crossed a boundary.
func (o *Orchestrator) advancePointers(ctx context.Context, season ranking.CachedSeason, round ranking.CachedRound, tip int64) error {
	if tip > season.EndBlock || tip < season.StartBlock {
		next, err := o.store.SeasonByBlock(ctx, tip)
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				o.log.Warn().Int64("tip", tip).Msg("no season covers the current tip")
				return nil
			}
			return err
		}
		if err := o.setSeasonPointer(ctx, next); err != nil {
			return err
		}
		season = cachedSeason(next)
		o.log.Info().Int("season_id", next.ID).Int64("tip", tip).Msg("season boundary crossed")
	}

	if tip > round.EndBlock || tip < round.StartBlock || round.SeasonID != season.ID {
		full, err := o.store.SeasonByID(ctx, season.ID)
		if err != nil {
			return err
		}
		next, ok := full.RoundAt(tip)
		if !ok {
			o.log.Warn().Int("season_id", season.ID).Int64("tip", tip).Msg("no round covers the current tip")
			return nil
		}
		if next.ID != round.ID {
			if err := o.caches.Season.SetCurrentRound(ctx, cachedRound(next)); err != nil {
				return err
			}
			o.log.Info().Int("round_id", next.ID).Int("round_index", next.RoundIndex).Msg("round boundary crossed")
		}
	}
	return nil
}

func (o *Orchestrator) setSeasonPointer(ctx context.Context, season *model.Season) error {
	return o.caches.Season.SetCurrentSeason(ctx, cachedSeason(season))
}

func cachedSeason(s *model.Season) ranking.CachedSeason {
	return ranking.CachedSeason{
		ID:                   s.ID,
		StartBlock:           s.StartBlock,
		EndBlock:             s.EndBlock,
		RoundInterval:        s.RoundInterval,
		BattleTicketPolicyID: s.BattleTicketPolicyID,
	}
}

func cachedRound(r model.Round) ranking.CachedRound {
	return ranking.CachedRound{
		ID:         r.ID,
		SeasonID:   r.SeasonID,
		RoundIndex: r.RoundIndex,
		StartBlock: r.StartBlock,
		EndBlock:   r.EndBlock,
	}
}

// tryBeginPrepare reserves a (season, round) preparation in-process and via
// the distributed lease. The caller must endPrepare on every path.
func (o *Orchestrator) tryBeginPrepare(ctx context.Context, seasonID, roundID int) (bool, error) {
	key := prepareKey(seasonID, roundID)
	o.mu.Lock()
	if o.preparing[key] {
		o.mu.Unlock()
		return false, nil
	}
	o.preparing[key] = true
	o.mu.Unlock()

	ok, err := o.lease.Acquire(ctx, seasonID, roundID)
	if err != nil || !ok {
		o.mu.Lock()
		delete(o.preparing, key)
		o.mu.Unlock()
		return false, err
	}
	return true, nil
}

func (o *Orchestrator) endPrepare(ctx context.Context, seasonID, roundID int) {
	if err := o.lease.Release(ctx, seasonID, roundID); err != nil {
		o.log.Warn().Err(err).Int("season_id", seasonID).Int("round_id", roundID).Msg("lease release failed")
	}
	o.mu.Lock()
	delete(o.preparing, prepareKey(seasonID, roundID))
	o.mu.Unlock()
}

func prepareKey(seasonID, roundID int) string {
	return strconv.Itoa(seasonID) + ":" + strconv.Itoa(roundID)
}
