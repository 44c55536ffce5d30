package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"arenarank/internal/model"
)

// ReplaceAvailableOpponents soft-deletes the requester's unclaimed opponent
// set for the round and inserts the fresh one. Claimed rows survive so a
// settled battle keeps its referential anchor.
func (s *Store) ReplaceAvailableOpponents(ctx context.Context, addr model.Address, roundID int, opponents []model.AvailableOpponent) ([]model.AvailableOpponent, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE available_opponents
		SET deleted_at = NOW()
		WHERE avatar_address = $1 AND round_id = $2
		  AND deleted_at IS NULL AND success_battle_id IS NULL`,
		addr, roundID,
	)
	if err != nil {
		return nil, fmt.Errorf("soft-delete opponents: %w", err)
	}
	if len(opponents) == 0 {
		return nil, nil
	}

	query := `INSERT INTO available_opponents
		(avatar_address, round_id, opponent_address, group_id)
		VALUES `
	values := make([]string, 0, len(opponents))
	args := make([]any, 0, len(opponents)*4)
	for i, o := range opponents {
		base := i * 4
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4))
		args = append(args, o.AvatarAddress, o.RoundID, o.OpponentAddress, o.GroupID)
	}
	query += strings.Join(values, ", ")
	query += " RETURNING id, avatar_address, round_id, opponent_address, group_id, created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("insert opponents: %w", err)
	}
	defer rows.Close()

	var out []model.AvailableOpponent
	for rows.Next() {
		var o model.AvailableOpponent
		if err := rows.Scan(&o.ID, &o.AvatarAddress, &o.RoundID, &o.OpponentAddress, &o.GroupID, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan opponent: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// AvailableOpponent returns one candidate row, deleted or not; settlement
// needs claimed rows even after a newer set replaced them.
func (s *Store) AvailableOpponent(ctx context.Context, id int64) (*model.AvailableOpponent, error) {
	var o model.AvailableOpponent
	err := s.db.QueryRowContext(ctx, `
		SELECT id, avatar_address, round_id, opponent_address, group_id,
		       success_battle_id, deleted_at, created_at
		FROM available_opponents
		WHERE id = $1`,
		id,
	).Scan(&o.ID, &o.AvatarAddress, &o.RoundID, &o.OpponentAddress, &o.GroupID,
		&o.SuccessBattleID, &o.DeletedAt, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: available opponent %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query available opponent: %w", err)
	}
	return &o, nil
}

// ActiveOpponents returns the requester's current unclaimed candidate set.
func (s *Store) ActiveOpponents(ctx context.Context, addr model.Address, roundID int) ([]model.AvailableOpponent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, avatar_address, round_id, opponent_address, group_id,
		       success_battle_id, deleted_at, created_at
		FROM available_opponents
		WHERE avatar_address = $1 AND round_id = $2 AND deleted_at IS NULL
		ORDER BY group_id`,
		addr, roundID,
	)
	if err != nil {
		return nil, fmt.Errorf("query active opponents: %w", err)
	}
	defer rows.Close()

	var out []model.AvailableOpponent
	for rows.Next() {
		var o model.AvailableOpponent
		if err := rows.Scan(&o.ID, &o.AvatarAddress, &o.RoundID, &o.OpponentAddress, &o.GroupID,
			&o.SuccessBattleID, &o.DeletedAt, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan active opponent: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ClaimOpponentTx marks a candidate as consumed by a settled battle. The
// conditional update is the exactly-once guard: only one settlement of the
// same battle can ever see a row affected.
func (s *Store) ClaimOpponentTx(ctx context.Context, tx *sql.Tx, opponentID, battleID int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE available_opponents
		SET success_battle_id = $2
		WHERE id = $1 AND success_battle_id IS NULL`,
		opponentID, battleID,
	)
	if err != nil {
		return false, fmt.Errorf("claim opponent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim opponent rows: %w", err)
	}
	return n == 1, nil
}
