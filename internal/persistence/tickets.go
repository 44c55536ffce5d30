package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"arenarank/internal/model"
)

// EnsureTicketStatuses creates the per-round and per-season ticket rows for
// a participant if they do not exist yet. Idempotent; settlement calls it
// before every deduction.
func (s *Store) EnsureTicketStatuses(ctx context.Context, seasonID, roundID int, addr model.Address, policy model.BattleTicketPolicy) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO battle_ticket_statuses_per_round
			(season_id, round_id, avatar_address, policy_id, remaining_count, used_count, purchase_count)
		VALUES ($1, $2, $3, $4, $5, 0, 0)
		ON CONFLICT (round_id, avatar_address) DO NOTHING`,
		seasonID, roundID, addr, policy.ID, policy.DefaultTicketsPerRound,
	)
	if err != nil {
		return fmt.Errorf("ensure round ticket status: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO battle_ticket_statuses_per_season
			(season_id, avatar_address, policy_id, used_count, purchase_count)
		VALUES ($1, $2, $3, 0, 0)
		ON CONFLICT (season_id, avatar_address) DO NOTHING`,
		seasonID, addr, policy.ID,
	)
	if err != nil {
		return fmt.Errorf("ensure season ticket status: %w", err)
	}
	return nil
}

// TicketStatusPerRound returns a participant's round ticket balance.
func (s *Store) TicketStatusPerRound(ctx context.Context, roundID int, addr model.Address) (*model.BattleTicketStatusPerRound, error) {
	var t model.BattleTicketStatusPerRound
	err := s.db.QueryRowContext(ctx, `
		SELECT id, season_id, round_id, avatar_address, policy_id,
		       remaining_count, used_count, purchase_count, updated_at
		FROM battle_ticket_statuses_per_round
		WHERE round_id = $1 AND avatar_address = $2`,
		roundID, addr,
	).Scan(&t.ID, &t.SeasonID, &t.RoundID, &t.AvatarAddress, &t.PolicyID,
		&t.RemainingCount, &t.UsedCount, &t.PurchaseCount, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: round ticket status %s round %d", ErrNotFound, addr, roundID)
	}
	if err != nil {
		return nil, fmt.Errorf("query round ticket status: %w", err)
	}
	return &t, nil
}

// TicketStatusPerSeason returns a participant's season ticket totals.
func (s *Store) TicketStatusPerSeason(ctx context.Context, seasonID int, addr model.Address) (*model.BattleTicketStatusPerSeason, error) {
	var t model.BattleTicketStatusPerSeason
	err := s.db.QueryRowContext(ctx, `
		SELECT id, season_id, avatar_address, policy_id, used_count, purchase_count, updated_at
		FROM battle_ticket_statuses_per_season
		WHERE season_id = $1 AND avatar_address = $2`,
		seasonID, addr,
	).Scan(&t.ID, &t.SeasonID, &t.AvatarAddress, &t.PolicyID, &t.UsedCount, &t.PurchaseCount, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: season ticket status %s season %d", ErrNotFound, addr, seasonID)
	}
	if err != nil {
		return nil, fmt.Errorf("query season ticket status: %w", err)
	}
	return &t, nil
}

// DeductTicketTx consumes one ticket from the round balance. The conditional
// on remaining_count makes over-consumption impossible under concurrent
// settlements; false means the balance was already empty.
func (s *Store) DeductTicketTx(ctx context.Context, tx *sql.Tx, roundStatusID int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE battle_ticket_statuses_per_round
		SET remaining_count = remaining_count - 1,
		    used_count = used_count + 1,
		    updated_at = NOW()
		WHERE id = $1 AND remaining_count > 0`,
		roundStatusID,
	)
	if err != nil {
		return false, fmt.Errorf("deduct ticket: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deduct ticket rows: %w", err)
	}
	return n == 1, nil
}

// IncrementSeasonUsedTx mirrors a round deduction into the season totals.
func (s *Store) IncrementSeasonUsedTx(ctx context.Context, tx *sql.Tx, seasonStatusID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE battle_ticket_statuses_per_season
		SET used_count = used_count + 1, updated_at = NOW()
		WHERE id = $1`,
		seasonStatusID,
	)
	if err != nil {
		return fmt.Errorf("increment season used: %w", err)
	}
	return nil
}

// InsertUsageLogTx appends the audit row for one consumed ticket.
func (s *Store) InsertUsageLogTx(ctx context.Context, tx *sql.Tx, roundStatusID, seasonStatusID, battleID int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO battle_ticket_usage_logs (round_status_id, season_status_id, battle_id)
		VALUES ($1, $2, $3)`,
		roundStatusID, seasonStatusID, battleID,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

// AddPurchasedTicketsTx credits purchased tickets, guarded by the per-round
// purchase cap. False means the cap would be exceeded.
func (s *Store) AddPurchasedTicketsTx(ctx context.Context, tx *sql.Tx, roundStatusID int64, count, maxPerRound int) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE battle_ticket_statuses_per_round
		SET remaining_count = remaining_count + $2,
		    purchase_count = purchase_count + $2,
		    updated_at = NOW()
		WHERE id = $1 AND purchase_count + $2 <= $3`,
		roundStatusID, count, maxPerRound,
	)
	if err != nil {
		return false, fmt.Errorf("add purchased tickets: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add purchased tickets rows: %w", err)
	}
	return n == 1, nil
}

// AddSeasonPurchasesTx mirrors a purchase into the season totals, guarded by
// the per-season cap.
func (s *Store) AddSeasonPurchasesTx(ctx context.Context, tx *sql.Tx, seasonStatusID int64, count, maxPerSeason int) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE battle_ticket_statuses_per_season
		SET purchase_count = purchase_count + $2, updated_at = NOW()
		WHERE id = $1 AND purchase_count + $2 <= $3`,
		seasonStatusID, count, maxPerSeason,
	)
	if err != nil {
		return false, fmt.Errorf("add season purchases: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add season purchases rows: %w", err)
	}
	return n == 1, nil
}

// CreatePurchaseLog inserts a PENDING purchase log and returns its id.
func (s *Store) CreatePurchaseLog(ctx context.Context, log *model.BattleTicketPurchaseLog) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO battle_ticket_purchase_logs
			(season_id, round_id, avatar_address, tx_id, purchase_status, purchase_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		log.SeasonID, log.RoundID, log.AvatarAddress, log.TxID, model.PurchaseStatusPending, log.PurchaseCount,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert purchase log: %w", err)
	}
	return id, nil
}

// PurchaseLog returns one purchase log row.
func (s *Store) PurchaseLog(ctx context.Context, id int64) (*model.BattleTicketPurchaseLog, error) {
	var l model.BattleTicketPurchaseLog
	err := s.db.QueryRowContext(ctx, `
		SELECT id, season_id, round_id, avatar_address, tx_id, tx_status,
		       purchase_status, purchase_count, paid_amount, exception_names, created_at
		FROM battle_ticket_purchase_logs
		WHERE id = $1`,
		id,
	).Scan(&l.ID, &l.SeasonID, &l.RoundID, &l.AvatarAddress, &l.TxID, &l.TxStatus,
		&l.PurchaseStatus, &l.PurchaseCount, &l.PaidAmount, &l.ExceptionNames, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: purchase log %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query purchase log: %w", err)
	}
	return &l, nil
}

// UpdatePurchaseLog records a purchase settlement state transition.
func (s *Store) UpdatePurchaseLog(ctx context.Context, id int64, status model.PurchaseStatus, txStatus *model.TxStatus, paidAmount *float64, exceptionNames *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE battle_ticket_purchase_logs
		SET purchase_status = $2, tx_status = COALESCE($3, tx_status),
		    paid_amount = COALESCE($4, paid_amount),
		    exception_names = COALESCE($5, exception_names)
		WHERE id = $1`,
		id, status, txStatus, paidAmount, exceptionNames,
	)
	if err != nil {
		return fmt.Errorf("update purchase log: %w", err)
	}
	return nil
}

// ValidateUsedTxID reports whether the tx id is already claimed anywhere it
// can legitimately appear: battles, battle ticket purchases or refresh
// ticket purchases. The excluded ids let a settlement re-check its own row.
func (s *Store) ValidateUsedTxID(ctx context.Context, txID model.TxID, excludeBattleID, excludePurchaseID int64) (bool, error) {
	var used bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM battles WHERE tx_id = $1 AND id <> $2)
		    OR EXISTS (SELECT 1 FROM battle_ticket_purchase_logs WHERE tx_id = $1 AND id <> $3)
		    OR EXISTS (SELECT 1 FROM refresh_ticket_purchase_logs WHERE tx_id = $1)`,
		txID, excludeBattleID, excludePurchaseID,
	).Scan(&used)
	if err != nil {
		return false, fmt.Errorf("validate used tx id: %w", err)
	}
	return used, nil
}
