package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"arenarank/internal/model"
	"arenarank/internal/persistence"
	"arenarank/internal/ranking"
)

// restore rebuilds the ranking caches after a cache loss (flush, eviction,
// fresh deployment). The current round comes back from its durable
// snapshot; the round after it is seeded from live participant scores,
// because settlements that happened since the snapshot already advanced
// them.
func (o *Orchestrator) restore(ctx context.Context, tip int64) error {
	season, err := o.store.SeasonByBlock(ctx, tip)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			o.log.Warn().Int64("tip", tip).Msg("no season covers the tip, nothing to restore")
			return nil
		}
		return err
	}
	round, ok := season.RoundAt(tip)
	if !ok {
		return fmt.Errorf("season %d has no round covering block %d", season.ID, tip)
	}

	snapshots, err := o.store.RankingSnapshots(ctx, season.ID, round.ID)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		// Never prepared: a fresh deployment inside an already-running
		// season window. Fall back to full season preparation.
		o.log.Warn().Int("season_id", season.ID).Int("round_id", round.ID).
			Msg("no snapshot to restore from, preparing season")
		if err := o.prepareSeason(ctx, season); err != nil {
			return err
		}
		return o.caches.Season.SetCurrentRound(ctx, cachedRound(round))
	}

	o.log.Info().
		Int("season_id", season.ID).
		Int("round_id", round.ID).
		Int("entries", len(snapshots)).
		Msg("restoring ranking caches from snapshot")

	entries, clanEntries, totals := splitSnapshot(snapshots)
	if err := o.initAllScopes(ctx, season, round, entries, clanEntries, totals); err != nil {
		return err
	}

	// Seed the next round from live scores so in-flight settlement results
	// survive the restore.
	if next, ok := season.RoundAt(round.EndBlock + 1); ok {
		participants, err := o.store.AllParticipants(ctx, season.ID)
		if err != nil {
			return err
		}
		liveEntries, liveClanEntries, liveTotals := splitParticipants(participants)
		if err := o.initAllScopes(ctx, season, next, liveEntries, liveClanEntries, liveTotals); err != nil {
			return err
		}
	}

	if err := o.setSeasonPointer(ctx, season); err != nil {
		return err
	}
	return o.caches.Season.SetCurrentRound(ctx, cachedRound(round))
}

func splitSnapshot(snapshots []model.RankingSnapshot) ([]ranking.Entry, []ranking.ClanEntry, []ranking.ClanTotal) {
	entries := make([]ranking.Entry, 0, len(snapshots))
	var clanEntries []ranking.ClanEntry
	clanSums := map[int]int{}
	for _, snap := range snapshots {
		entries = append(entries, ranking.Entry{AvatarAddress: snap.AvatarAddress, Score: snap.Score})
		if snap.ClanID != nil {
			clanEntries = append(clanEntries, ranking.ClanEntry{
				ClanID:        *snap.ClanID,
				AvatarAddress: snap.AvatarAddress,
				Score:         snap.Score,
			})
			clanSums[*snap.ClanID] += snap.Score
		}
	}
	return entries, clanEntries, clanTotals(clanSums)
}

func splitParticipants(participants []model.Participant) ([]ranking.Entry, []ranking.ClanEntry, []ranking.ClanTotal) {
	entries := make([]ranking.Entry, 0, len(participants))
	var clanEntries []ranking.ClanEntry
	clanSums := map[int]int{}
	for _, p := range participants {
		entries = append(entries, ranking.Entry{AvatarAddress: p.AvatarAddress, Score: p.Score})
		if p.ClanID != nil {
			clanEntries = append(clanEntries, ranking.ClanEntry{
				ClanID:        *p.ClanID,
				AvatarAddress: p.AvatarAddress,
				Score:         p.Score,
			})
			clanSums[*p.ClanID] += p.Score
		}
	}
	return entries, clanEntries, clanTotals(clanSums)
}

func clanTotals(sums map[int]int) []ranking.ClanTotal {
	totals := make([]ranking.ClanTotal, 0, len(sums))
	for id, sum := range sums {
		totals = append(totals, ranking.ClanTotal{ClanID: id, Score: sum})
	}
	return totals
}
