package lifecycle

import (
	"context"
	"strconv"

	"arenarank/internal/model"
	"arenarank/internal/ranking"
)

// prepareRound carries the standings of the current round forward into the
// next one and snapshots the result. The carry-forward is a MAX union, so
// settlements that already landed in the target round are never clobbered.
func (o *Orchestrator) prepareRound(ctx context.Context, season *model.Season, from, to model.Round) error {
	ok, err := o.tryBeginPrepare(ctx, season.ID, to.ID)
	if err != nil || !ok {
		return err
	}
	defer o.endPrepare(ctx, season.ID, to.ID)

	if n, err := o.store.SnapshotCount(ctx, season.ID, to.ID); err != nil {
		return err
	} else if n > 0 {
		o.log.Debug().Int("round_id", to.ID).Msg("round already prepared")
		return nil
	}

	o.log.Info().
		Int("season_id", season.ID).
		Int("from_round", from.ID).
		Int("to_round", to.ID).
		Msg("preparing round")

	interval := season.RoundInterval
	if err := o.caches.Global.CopyRoundData(ctx, season.ID, from.ID, to.ID, interval); err != nil {
		return err
	}
	if err := o.caches.Clan.CopyRoundData(ctx, season.ID, from.ID, to.ID, interval); err != nil {
		return err
	}
	if err := o.caches.AllClan.Refresh(ctx, o.caches.Clan, season.ID, to.ID, interval); err != nil {
		return err
	}
	o.metrics.RankingCopies.Inc()

	// The score-group ladder cannot be unioned: bucket membership moves
	// with the scores. Rebuild it from the carried-forward standings.
	entries, err := o.caches.Global.GetScores(ctx, season.ID, to.ID)
	if err != nil {
		return err
	}
	if err := o.caches.Group.InitRanking(ctx, entries, season.ID, to.ID, interval); err != nil {
		return err
	}

	if err := o.snapshotRound(ctx, season, to, entries); err != nil {
		return err
	}

	o.metrics.RankingSize.WithLabelValues(
		strconv.Itoa(season.ID), strconv.Itoa(to.ID),
	).Set(float64(len(entries)))
	o.log.Info().Int("round_id", to.ID).Int("entries", len(entries)).Msg("round prepared")
	return nil
}

// snapshotRound writes the round's standings and clan totals durably.
func (o *Orchestrator) snapshotRound(ctx context.Context, season *model.Season, round model.Round, entries []ranking.Entry) error {
	participants, err := o.store.AllParticipants(ctx, season.ID)
	if err != nil {
		return err
	}
	clanOf := make(map[model.Address]*int, len(participants))
	for _, p := range participants {
		clanOf[p.AvatarAddress] = p.ClanID
	}

	for start := 0; start < len(entries); start += o.cfg.PageSize {
		end := min(start+o.cfg.PageSize, len(entries))
		batch := make([]model.RankingSnapshot, 0, end-start)
		for _, e := range entries[start:end] {
			batch = append(batch, model.RankingSnapshot{
				SeasonID:      season.ID,
				RoundID:       round.ID,
				AvatarAddress: e.AvatarAddress,
				ClanID:        clanOf[e.AvatarAddress],
				Score:         e.Score,
			})
		}
		if err := o.store.InsertRankingSnapshots(ctx, batch); err != nil {
			return err
		}
	}

	totals, err := o.caches.AllClan.Totals(ctx, season.ID, round.ID)
	if err != nil {
		return err
	}
	clanSnapshots := make([]model.ClanRankingSnapshot, 0, len(totals))
	for _, t := range totals {
		clanSnapshots = append(clanSnapshots, model.ClanRankingSnapshot{
			SeasonID: season.ID, RoundID: round.ID, ClanID: t.ClanID, Score: t.Score,
		})
	}
	return o.store.InsertClanSnapshots(ctx, clanSnapshots)
}
