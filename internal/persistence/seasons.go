package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"arenarank/internal/model"
)

// SeasonByBlock returns the season whose block range covers height, with its
// rounds loaded in index order.
func (s *Store) SeasonByBlock(ctx context.Context, height int64) (*model.Season, error) {
	var season model.Season
	err := s.db.QueryRowContext(ctx, `
		SELECT id, start_block, end_block, round_interval, battle_ticket_policy_id, created_at
		FROM seasons
		WHERE start_block <= $1 AND end_block >= $1`,
		height,
	).Scan(&season.ID, &season.StartBlock, &season.EndBlock, &season.RoundInterval,
		&season.BattleTicketPolicyID, &season.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: season at block %d", ErrNotFound, height)
	}
	if err != nil {
		return nil, fmt.Errorf("query season by block: %w", err)
	}

	rounds, err := s.roundsOfSeason(ctx, season.ID)
	if err != nil {
		return nil, err
	}
	season.Rounds = rounds
	return &season, nil
}

// SeasonByID returns one season with rounds and its ticket policy.
func (s *Store) SeasonByID(ctx context.Context, id int) (*model.Season, error) {
	var season model.Season
	err := s.db.QueryRowContext(ctx, `
		SELECT id, start_block, end_block, round_interval, battle_ticket_policy_id, created_at
		FROM seasons
		WHERE id = $1`,
		id,
	).Scan(&season.ID, &season.StartBlock, &season.EndBlock, &season.RoundInterval,
		&season.BattleTicketPolicyID, &season.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: season %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query season: %w", err)
	}

	rounds, err := s.roundsOfSeason(ctx, season.ID)
	if err != nil {
		return nil, err
	}
	season.Rounds = rounds

	policy, err := s.TicketPolicy(ctx, season.BattleTicketPolicyID)
	if err != nil {
		return nil, err
	}
	season.Policy = *policy
	return &season, nil
}

func (s *Store) roundsOfSeason(ctx context.Context, seasonID int) ([]model.Round, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, season_id, round_index, start_block, end_block
		FROM rounds
		WHERE season_id = $1
		ORDER BY round_index`,
		seasonID,
	)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()

	var rounds []model.Round
	for rows.Next() {
		var r model.Round
		if err := rows.Scan(&r.ID, &r.SeasonID, &r.RoundIndex, &r.StartBlock, &r.EndBlock); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

// RoundByID returns one round.
func (s *Store) RoundByID(ctx context.Context, id int) (*model.Round, error) {
	var r model.Round
	err := s.db.QueryRowContext(ctx, `
		SELECT id, season_id, round_index, start_block, end_block
		FROM rounds
		WHERE id = $1`,
		id,
	).Scan(&r.ID, &r.SeasonID, &r.RoundIndex, &r.StartBlock, &r.EndBlock)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: round %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query round: %w", err)
	}
	return &r, nil
}

// TicketPolicy returns one battle ticket policy with its price schedule.
func (s *Store) TicketPolicy(ctx context.Context, id int) (*model.BattleTicketPolicy, error) {
	var p model.BattleTicketPolicy
	var prices pq.Float64Array
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, default_tickets_per_round, max_purchasable_per_round, max_purchasable_per_season, prices
		FROM battle_ticket_policies
		WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Name, &p.DefaultTicketsPerRound, &p.MaxPurchasableTicketsPerRound,
		&p.MaxPurchasableTicketsPerSeason, &prices)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: ticket policy %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query ticket policy: %w", err)
	}
	p.Prices = []float64(prices)
	return &p, nil
}
