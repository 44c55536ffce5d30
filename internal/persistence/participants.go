package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"arenarank/internal/model"
)

// User is a registered avatar eligible for season enrollment.
type User struct {
	AvatarAddress model.Address
	ClanID        *int
}

// Users pages through registered avatars in address order, for season
// preparation.
func (s *Store) Users(ctx context.Context, limit, offset int) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT avatar_address, clan_id
		FROM users
		ORDER BY avatar_address
		LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.AvatarAddress, &u.ClanID); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// AddParticipants inserts a batch of enrollments with a multi-row INSERT.
// Re-running preparation is a no-op per existing row.
func (s *Store) AddParticipants(ctx context.Context, participants []model.Participant) error {
	if len(participants) == 0 {
		return nil
	}

	query := `INSERT INTO participants
		(avatar_address, season_id, clan_id, score, total_win, total_lose)
		VALUES `

	values := make([]string, 0, len(participants))
	args := make([]any, 0, len(participants)*6)
	for i, p := range participants {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args, p.AvatarAddress, p.SeasonID, p.ClanID, p.Score, p.TotalWin, p.TotalLose)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (season_id, avatar_address) DO NOTHING"

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert participants: %w", err)
	}
	return nil
}

// Participant returns one enrollment.
func (s *Store) Participant(ctx context.Context, seasonID int, addr model.Address) (*model.Participant, error) {
	var p model.Participant
	err := s.db.QueryRowContext(ctx, `
		SELECT avatar_address, season_id, clan_id, score, total_win, total_lose, created_at, updated_at
		FROM participants
		WHERE season_id = $1 AND avatar_address = $2`,
		seasonID, addr,
	).Scan(&p.AvatarAddress, &p.SeasonID, &p.ClanID, &p.Score, &p.TotalWin, &p.TotalLose,
		&p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: participant %s in season %d", ErrNotFound, addr, seasonID)
	}
	if err != nil {
		return nil, fmt.Errorf("query participant: %w", err)
	}
	return &p, nil
}

// Participants pages through a season's enrollments in address order.
func (s *Store) Participants(ctx context.Context, seasonID, limit, offset int) ([]model.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT avatar_address, season_id, clan_id, score, total_win, total_lose, created_at, updated_at
		FROM participants
		WHERE season_id = $1
		ORDER BY avatar_address
		LIMIT $2 OFFSET $3`,
		seasonID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var out []model.Participant
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.AvatarAddress, &p.SeasonID, &p.ClanID, &p.Score, &p.TotalWin,
			&p.TotalLose, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AllParticipants loads every enrollment of a season, for cache restore.
func (s *Store) AllParticipants(ctx context.Context, seasonID int) ([]model.Participant, error) {
	const page = 1000
	var out []model.Participant
	for offset := 0; ; offset += page {
		batch, err := s.Participants(ctx, seasonID, page, offset)
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
		if len(batch) < page {
			return out, nil
		}
	}
}

// ApplyBattleResultTx updates a participant's score and win/lose totals
// inside a settlement transaction.
func (s *Store) ApplyBattleResultTx(ctx context.Context, tx *sql.Tx, seasonID int, addr model.Address, scoreDelta, winDelta, loseDelta int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE participants
		SET score = score + $3,
		    total_win = total_win + $4,
		    total_lose = total_lose + $5,
		    updated_at = NOW()
		WHERE season_id = $1 AND avatar_address = $2`,
		seasonID, addr, scoreDelta, winDelta, loseDelta,
	)
	if err != nil {
		return fmt.Errorf("update participant result: %w", err)
	}
	return nil
}
