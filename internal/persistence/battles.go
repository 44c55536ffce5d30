package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"arenarank/internal/model"
)

// CreateBattle inserts a PENDING battle and returns its id.
func (s *Store) CreateBattle(ctx context.Context, b *model.Battle) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO battles
			(avatar_address, season_id, round_id, available_opponent_id, token, battle_status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		b.AvatarAddress, b.SeasonID, b.RoundID, b.AvailableOpponentID, b.Token, model.BattleStatusPending,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert battle: %w", err)
	}
	return id, nil
}

// Battle returns one battle row.
func (s *Store) Battle(ctx context.Context, id int64) (*model.Battle, error) {
	var b model.Battle
	err := s.db.QueryRowContext(ctx, `
		SELECT id, avatar_address, season_id, round_id, available_opponent_id, token,
		       tx_id, tx_status, battle_status, is_victory, my_score_change,
		       opponent_score_change, exception_names, created_at, updated_at
		FROM battles
		WHERE id = $1`,
		id,
	).Scan(&b.ID, &b.AvatarAddress, &b.SeasonID, &b.RoundID, &b.AvailableOpponentID, &b.Token,
		&b.TxID, &b.TxStatus, &b.BattleStatus, &b.IsVictory, &b.MyScoreChange,
		&b.OpponentScoreChange, &b.ExceptionNames, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: battle %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query battle: %w", err)
	}
	return &b, nil
}

// UpdateBattleToken stores the token issued for a freshly created battle.
func (s *Store) UpdateBattleToken(ctx context.Context, battleID int64, tok string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE battles SET token = $2, updated_at = NOW() WHERE id = $1`,
		battleID, tok,
	)
	if err != nil {
		return fmt.Errorf("update battle token: %w", err)
	}
	return nil
}

// BindBattleTx attaches a transaction id to a battle exactly once and moves
// it to TRACKING. Returns false when the battle already carries a tx id.
func (s *Store) BindBattleTx(ctx context.Context, battleID int64, txID model.TxID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE battles
		SET tx_id = $2, battle_status = $3, updated_at = NOW()
		WHERE id = $1 AND tx_id IS NULL`,
		battleID, txID, model.BattleStatusTracking,
	)
	if err != nil {
		return false, fmt.Errorf("bind battle tx: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("bind battle tx rows: %w", err)
	}
	return n == 1, nil
}

// UpdateBattleStatus records a settlement state transition outside the final
// settlement transaction (terminal rejections, TX_FAILED and the like).
func (s *Store) UpdateBattleStatus(ctx context.Context, battleID int64, status model.BattleStatus, txStatus *model.TxStatus, exceptionNames *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE battles
		SET battle_status = $2, tx_status = COALESCE($3, tx_status),
		    exception_names = COALESCE($4, exception_names), updated_at = NOW()
		WHERE id = $1`,
		battleID, status, txStatus, exceptionNames,
	)
	if err != nil {
		return fmt.Errorf("update battle status: %w", err)
	}
	return nil
}

// FinalizeBattleTx records the settled outcome inside the settlement
// transaction.
func (s *Store) FinalizeBattleTx(ctx context.Context, tx *sql.Tx, battleID int64, isVictory bool, myScoreChange, opponentScoreChange int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE battles
		SET battle_status = $2, tx_status = $3, is_victory = $4,
		    my_score_change = $5, opponent_score_change = $6, updated_at = NOW()
		WHERE id = $1`,
		battleID, model.BattleStatusSuccess, model.TxStatusSuccess, isVictory,
		myScoreChange, opponentScoreChange,
	)
	if err != nil {
		return fmt.Errorf("finalize battle: %w", err)
	}
	return nil
}

// BattleTxIDUsed reports whether another battle already claimed the tx id.
func (s *Store) BattleTxIDUsed(ctx context.Context, txID model.TxID, excludeBattleID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM battles WHERE tx_id = $1 AND id <> $2
		)`,
		txID, excludeBattleID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check battle tx id: %w", err)
	}
	return exists, nil
}
