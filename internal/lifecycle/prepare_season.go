package lifecycle

import (
	"context"
	"fmt"
	"strconv"

	"arenarank/internal/model"
	"arenarank/internal/ranking"
)

// prepareSeason enrolls every registered avatar into the season, seeds the
// ranking caches for the first two rounds, and writes the first round's
// snapshot. Idempotent: a snapshot already present means another replica
// finished first.
func (o *Orchestrator) prepareSeason(ctx context.Context, season *model.Season) error {
	if len(season.Rounds) == 0 {
		return fmt.Errorf("season %d has no rounds", season.ID)
	}
	first := season.Rounds[0]

	ok, err := o.tryBeginPrepare(ctx, season.ID, first.ID)
	if err != nil || !ok {
		return err
	}
	defer o.endPrepare(ctx, season.ID, first.ID)

	if n, err := o.store.SnapshotCount(ctx, season.ID, first.ID); err != nil {
		return err
	} else if n > 0 {
		o.log.Debug().Int("season_id", season.ID).Msg("season already prepared")
		return nil
	}

	o.log.Info().Int("season_id", season.ID).Int("round_id", first.ID).Msg("preparing season")

	var (
		entries     []ranking.Entry
		clanEntries []ranking.ClanEntry
		clanSums    = map[int]int{}
	)
	for offset := 0; ; offset += o.cfg.PageSize {
		users, err := o.store.Users(ctx, o.cfg.PageSize, offset)
		if err != nil {
			return err
		}
		if len(users) == 0 {
			break
		}

		batch := make([]model.Participant, 0, len(users))
		snapshots := make([]model.RankingSnapshot, 0, len(users))
		for _, u := range users {
			batch = append(batch, model.Participant{
				AvatarAddress: u.AvatarAddress,
				SeasonID:      season.ID,
				ClanID:        u.ClanID,
				Score:         model.InitialScore,
			})
			snapshots = append(snapshots, model.RankingSnapshot{
				SeasonID:      season.ID,
				RoundID:       first.ID,
				AvatarAddress: u.AvatarAddress,
				ClanID:        u.ClanID,
				Score:         model.InitialScore,
			})
			entries = append(entries, ranking.Entry{AvatarAddress: u.AvatarAddress, Score: model.InitialScore})
			if u.ClanID != nil {
				clanEntries = append(clanEntries, ranking.ClanEntry{
					ClanID:        *u.ClanID,
					AvatarAddress: u.AvatarAddress,
					Score:         model.InitialScore,
				})
				clanSums[*u.ClanID] += model.InitialScore
			}
		}
		if err := o.store.AddParticipants(ctx, batch); err != nil {
			return err
		}
		if err := o.store.InsertRankingSnapshots(ctx, snapshots); err != nil {
			return err
		}
		if len(users) < o.cfg.PageSize {
			break
		}
	}

	totals := make([]ranking.ClanTotal, 0, len(clanSums))
	clanSnapshots := make([]model.ClanRankingSnapshot, 0, len(clanSums))
	for id, sum := range clanSums {
		totals = append(totals, ranking.ClanTotal{ClanID: id, Score: sum})
		clanSnapshots = append(clanSnapshots, model.ClanRankingSnapshot{
			SeasonID: season.ID, RoundID: first.ID, ClanID: id, Score: sum,
		})
	}
	if err := o.store.InsertClanSnapshots(ctx, clanSnapshots); err != nil {
		return err
	}

	// Seed the first round and the one after it, so settlements landing in
	// round 1 have a round 2 cache to write into.
	seedRounds := []model.Round{first}
	if len(season.Rounds) > 1 {
		seedRounds = append(seedRounds, season.Rounds[1])
	}
	for _, round := range seedRounds {
		if err := o.initAllScopes(ctx, season, round, entries, clanEntries, totals); err != nil {
			return err
		}
	}

	if err := o.setSeasonPointer(ctx, season); err != nil {
		return err
	}
	o.metrics.RankingSize.WithLabelValues(
		strconv.Itoa(season.ID), strconv.Itoa(first.ID),
	).Set(float64(len(entries)))
	o.log.Info().Int("season_id", season.ID).Int("participants", len(entries)).Msg("season prepared")
	return nil
}

// initAllScopes populates every ranking scope for one round.
func (o *Orchestrator) initAllScopes(ctx context.Context, season *model.Season, round model.Round, entries []ranking.Entry, clanEntries []ranking.ClanEntry, totals []ranking.ClanTotal) error {
	if err := o.caches.Global.InitRanking(ctx, entries, season.ID, round.ID, season.RoundInterval); err != nil {
		return err
	}
	o.metrics.RankingInits.WithLabelValues("global").Inc()
	if err := o.caches.Clan.InitRanking(ctx, clanEntries, season.ID, round.ID, season.RoundInterval); err != nil {
		return err
	}
	o.metrics.RankingInits.WithLabelValues("clan").Inc()
	if err := o.caches.AllClan.InitRanking(ctx, totals, season.ID, round.ID, season.RoundInterval); err != nil {
		return err
	}
	o.metrics.RankingInits.WithLabelValues("all-clan").Inc()
	if err := o.caches.Group.InitRanking(ctx, entries, season.ID, round.ID, season.RoundInterval); err != nil {
		return err
	}
	o.metrics.RankingInits.WithLabelValues("group").Inc()
	return nil
}
