package persistence

import (
	"context"
	"fmt"
	"strings"

	"arenarank/internal/model"
)

// InsertRankingSnapshots writes one round's standings durably. Re-running
// preparation is a no-op per existing row, which is what makes snapshot
// writes safe to retry.
func (s *Store) InsertRankingSnapshots(ctx context.Context, snapshots []model.RankingSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	query := `INSERT INTO ranking_snapshots
		(season_id, round_id, avatar_address, clan_id, score)
		VALUES `

	values := make([]string, 0, len(snapshots))
	args := make([]any, 0, len(snapshots)*5)
	for i, snap := range snapshots {
		base := i * 5
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5,
		))
		args = append(args, snap.SeasonID, snap.RoundID, snap.AvatarAddress, snap.ClanID, snap.Score)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (season_id, round_id, avatar_address) DO NOTHING"

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert ranking snapshots: %w", err)
	}
	return nil
}

// InsertClanSnapshots writes one round's clan totals durably.
func (s *Store) InsertClanSnapshots(ctx context.Context, snapshots []model.ClanRankingSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	query := `INSERT INTO clan_ranking_snapshots
		(season_id, round_id, clan_id, score)
		VALUES `

	values := make([]string, 0, len(snapshots))
	args := make([]any, 0, len(snapshots)*4)
	for i, snap := range snapshots {
		base := i * 4
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4,
		))
		args = append(args, snap.SeasonID, snap.RoundID, snap.ClanID, snap.Score)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (season_id, round_id, clan_id) DO NOTHING"

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert clan snapshots: %w", err)
	}
	return nil
}

// RankingSnapshots loads one round's snapshot, the restore source after a
// cache loss.
func (s *Store) RankingSnapshots(ctx context.Context, seasonID, roundID int) ([]model.RankingSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT season_id, round_id, avatar_address, clan_id, score, created_at
		FROM ranking_snapshots
		WHERE season_id = $1 AND round_id = $2
		ORDER BY score DESC`,
		seasonID, roundID,
	)
	if err != nil {
		return nil, fmt.Errorf("query ranking snapshots: %w", err)
	}
	defer rows.Close()

	var out []model.RankingSnapshot
	for rows.Next() {
		var snap model.RankingSnapshot
		if err := rows.Scan(&snap.SeasonID, &snap.RoundID, &snap.AvatarAddress, &snap.ClanID,
			&snap.Score, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ranking snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// ClanSnapshots loads one round's clan totals.
func (s *Store) ClanSnapshots(ctx context.Context, seasonID, roundID int) ([]model.ClanRankingSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT season_id, round_id, clan_id, score, created_at
		FROM clan_ranking_snapshots
		WHERE season_id = $1 AND round_id = $2`,
		seasonID, roundID,
	)
	if err != nil {
		return nil, fmt.Errorf("query clan snapshots: %w", err)
	}
	defer rows.Close()

	var out []model.ClanRankingSnapshot
	for rows.Next() {
		var snap model.ClanRankingSnapshot
		if err := rows.Scan(&snap.SeasonID, &snap.RoundID, &snap.ClanID, &snap.Score, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan clan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// SnapshotCount probes whether a round's snapshot already exists, so the
// orchestrator can skip re-preparing it.
func (s *Store) SnapshotCount(ctx context.Context, seasonID, roundID int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM ranking_snapshots
		WHERE season_id = $1 AND round_id = $2`,
		seasonID, roundID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return n, nil
}
