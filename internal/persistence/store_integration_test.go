package persistence_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"arenarank/internal/model"
	"arenarank/internal/persistence"
	"arenarank/internal/testutil"
)

func setupStore(t *testing.T) (*persistence.Store, *sql.DB) {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	migrator := persistence.NewMigrator(db, "../../migrations", zerolog.Nop())
	if err := migrator.Up(context.Background()); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return persistence.NewStore(db), db
}

type fixture struct {
	seasonID int
	roundIDs []int
	policyID int
}

// seedSeason creates a policy, a season spanning blocks 1000-1299 and three
// rounds of 100 blocks each.
func seedSeason(t *testing.T, db *sql.DB) fixture {
	t.Helper()
	ctx := context.Background()

	var f fixture
	err := db.QueryRowContext(ctx, `
		INSERT INTO battle_ticket_policies
			(name, default_tickets_per_round, max_purchasable_per_round, max_purchasable_per_season, prices)
		VALUES ('default', 5, 4, 20, '{5,10,20,40}')
		RETURNING id`,
	).Scan(&f.policyID)
	if err != nil {
		t.Fatalf("seed policy: %v", err)
	}
	err = db.QueryRowContext(ctx, `
		INSERT INTO seasons (start_block, end_block, round_interval, battle_ticket_policy_id)
		VALUES (1000, 1299, 100, $1)
		RETURNING id`,
		f.policyID,
	).Scan(&f.seasonID)
	if err != nil {
		t.Fatalf("seed season: %v", err)
	}
	for i := 0; i < 3; i++ {
		var roundID int
		err = db.QueryRowContext(ctx, `
			INSERT INTO rounds (season_id, round_index, start_block, end_block)
			VALUES ($1, $2, $3, $4)
			RETURNING id`,
			f.seasonID, i+1, 1000+i*100, 1099+i*100,
		).Scan(&roundID)
		if err != nil {
			t.Fatalf("seed round %d: %v", i+1, err)
		}
		f.roundIDs = append(f.roundIDs, roundID)
	}
	return f
}

func intAddr(t *testing.T, n int) model.Address {
	t.Helper()
	a, err := model.NewAddress(fmt.Sprintf("%040x", n))
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	return a
}

func TestSeasonByBlock(t *testing.T) {
	store, db := setupStore(t)
	f := seedSeason(t, db)
	ctx := context.Background()

	season, err := store.SeasonByBlock(ctx, 1150)
	if err != nil {
		t.Fatalf("season by block: %v", err)
	}
	if season.ID != f.seasonID {
		t.Errorf("season id: got %d, want %d", season.ID, f.seasonID)
	}
	if len(season.Rounds) != 3 {
		t.Fatalf("rounds: got %d, want 3", len(season.Rounds))
	}
	round, ok := season.RoundAt(1150)
	if !ok || round.ID != f.roundIDs[1] {
		t.Errorf("round at 1150: got %d/%v, want %d/true", round.ID, ok, f.roundIDs[1])
	}

	_, err = store.SeasonByBlock(ctx, 50)
	if !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("season at 50: got %v, want ErrNotFound", err)
	}
}

func TestAddParticipantsIsIdempotent(t *testing.T) {
	store, db := setupStore(t)
	f := seedSeason(t, db)
	ctx := context.Background()

	batch := []model.Participant{
		{AvatarAddress: intAddr(t, 1), SeasonID: f.seasonID, Score: model.InitialScore},
		{AvatarAddress: intAddr(t, 2), SeasonID: f.seasonID, Score: model.InitialScore},
	}
	if err := store.AddParticipants(ctx, batch); err != nil {
		t.Fatalf("first add: %v", err)
	}
	// Re-running the same enrollment page must not duplicate or reset rows.
	if err := store.AddParticipants(ctx, batch); err != nil {
		t.Fatalf("second add: %v", err)
	}

	all, err := store.AllParticipants(ctx, f.seasonID)
	if err != nil {
		t.Fatalf("all participants: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("participants: got %d, want 2", len(all))
	}
}

func TestBindBattleTxExactlyOnce(t *testing.T) {
	store, db := setupStore(t)
	f := seedSeason(t, db)
	ctx := context.Background()

	me, enemy := intAddr(t, 1), intAddr(t, 2)
	stored, err := store.ReplaceAvailableOpponents(ctx, me, f.roundIDs[0], []model.AvailableOpponent{
		{AvatarAddress: me, RoundID: f.roundIDs[0], OpponentAddress: enemy, GroupID: 3},
	})
	if err != nil {
		t.Fatalf("replace opponents: %v", err)
	}
	battleID, err := store.CreateBattle(ctx, &model.Battle{
		AvatarAddress:       me,
		SeasonID:            f.seasonID,
		RoundID:             f.roundIDs[0],
		AvailableOpponentID: stored[0].ID,
	})
	if err != nil {
		t.Fatalf("create battle: %v", err)
	}

	txID := model.TxID(fmt.Sprintf("%064x", 1))
	bound, err := store.BindBattleTx(ctx, battleID, txID)
	if err != nil {
		t.Fatalf("first bind: %v", err)
	}
	if !bound {
		t.Fatal("first bind must succeed")
	}
	bound, err = store.BindBattleTx(ctx, battleID, txID)
	if err != nil {
		t.Fatalf("second bind: %v", err)
	}
	if bound {
		t.Error("second bind must be a no-op")
	}

	battle, err := store.Battle(ctx, battleID)
	if err != nil {
		t.Fatalf("battle: %v", err)
	}
	if battle.BattleStatus != model.BattleStatusTracking {
		t.Errorf("status: got %q, want TRACKING", battle.BattleStatus)
	}
	used, err := store.ValidateUsedTxID(ctx, txID, 0, 0)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !used {
		t.Error("bound tx id must count as used")
	}
	used, err = store.ValidateUsedTxID(ctx, txID, battleID, 0)
	if err != nil {
		t.Fatalf("validate excluding self: %v", err)
	}
	if used {
		t.Error("a battle must be able to re-check its own tx id")
	}
}

func TestClaimOpponentTxExactlyOnce(t *testing.T) {
	store, db := setupStore(t)
	f := seedSeason(t, db)
	ctx := context.Background()

	me, enemy := intAddr(t, 1), intAddr(t, 2)
	stored, err := store.ReplaceAvailableOpponents(ctx, me, f.roundIDs[0], []model.AvailableOpponent{
		{AvatarAddress: me, RoundID: f.roundIDs[0], OpponentAddress: enemy, GroupID: 1},
	})
	if err != nil {
		t.Fatalf("replace opponents: %v", err)
	}
	battleID, err := store.CreateBattle(ctx, &model.Battle{
		AvatarAddress:       me,
		SeasonID:            f.seasonID,
		RoundID:             f.roundIDs[0],
		AvailableOpponentID: stored[0].ID,
	})
	if err != nil {
		t.Fatalf("create battle: %v", err)
	}

	err = store.WithTx(ctx, sql.LevelReadCommitted, func(tx *sql.Tx) error {
		claimed, err := store.ClaimOpponentTx(ctx, tx, stored[0].ID, battleID)
		if err != nil {
			return err
		}
		if !claimed {
			t.Error("first claim must succeed")
		}
		claimed, err = store.ClaimOpponentTx(ctx, tx, stored[0].ID, battleID)
		if err != nil {
			return err
		}
		if claimed {
			t.Error("second claim must fail")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("with tx: %v", err)
	}
}

func TestTicketDeductionStopsAtZero(t *testing.T) {
	store, db := setupStore(t)
	f := seedSeason(t, db)
	ctx := context.Background()

	addr := intAddr(t, 1)
	policy := model.BattleTicketPolicy{ID: f.policyID, DefaultTicketsPerRound: 2}
	if err := store.EnsureTicketStatuses(ctx, f.seasonID, f.roundIDs[0], addr, policy); err != nil {
		t.Fatalf("ensure statuses: %v", err)
	}
	// Idempotent re-ensure must not reset the balance.
	if err := store.EnsureTicketStatuses(ctx, f.seasonID, f.roundIDs[0], addr, policy); err != nil {
		t.Fatalf("re-ensure statuses: %v", err)
	}
	status, err := store.TicketStatusPerRound(ctx, f.roundIDs[0], addr)
	if err != nil {
		t.Fatalf("round status: %v", err)
	}
	if status.RemainingCount != 2 {
		t.Fatalf("remaining: got %d, want 2", status.RemainingCount)
	}

	deductions := 0
	for i := 0; i < 3; i++ {
		err := store.WithTx(ctx, sql.LevelReadCommitted, func(tx *sql.Tx) error {
			ok, err := store.DeductTicketTx(ctx, tx, status.ID)
			if err != nil {
				return err
			}
			if ok {
				deductions++
			}
			return nil
		})
		if err != nil {
			t.Fatalf("deduct %d: %v", i, err)
		}
	}
	if deductions != 2 {
		t.Errorf("deductions: got %d, want 2", deductions)
	}

	status, err = store.TicketStatusPerRound(ctx, f.roundIDs[0], addr)
	if err != nil {
		t.Fatalf("round status after deductions: %v", err)
	}
	if status.RemainingCount != 0 || status.UsedCount != 2 {
		t.Errorf("final balance: remaining %d used %d, want 0 and 2", status.RemainingCount, status.UsedCount)
	}
}

func TestPurchaseCapGuard(t *testing.T) {
	store, db := setupStore(t)
	f := seedSeason(t, db)
	ctx := context.Background()

	addr := intAddr(t, 1)
	policy := model.BattleTicketPolicy{
		ID:                             f.policyID,
		DefaultTicketsPerRound:         5,
		MaxPurchasableTicketsPerRound:  4,
		MaxPurchasableTicketsPerSeason: 20,
	}
	if err := store.EnsureTicketStatuses(ctx, f.seasonID, f.roundIDs[0], addr, policy); err != nil {
		t.Fatalf("ensure statuses: %v", err)
	}
	status, err := store.TicketStatusPerRound(ctx, f.roundIDs[0], addr)
	if err != nil {
		t.Fatalf("round status: %v", err)
	}

	err = store.WithTx(ctx, sql.LevelReadCommitted, func(tx *sql.Tx) error {
		ok, err := store.AddPurchasedTicketsTx(ctx, tx, status.ID, 3, policy.MaxPurchasableTicketsPerRound)
		if err != nil {
			return err
		}
		if !ok {
			t.Error("purchase inside the cap must succeed")
		}
		ok, err = store.AddPurchasedTicketsTx(ctx, tx, status.ID, 2, policy.MaxPurchasableTicketsPerRound)
		if err != nil {
			return err
		}
		if ok {
			t.Error("purchase past the cap must fail")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("with tx: %v", err)
	}
}

func TestSnapshotRoundtrip(t *testing.T) {
	store, db := setupStore(t)
	f := seedSeason(t, db)
	ctx := context.Background()

	clan := 7
	snapshots := []model.RankingSnapshot{
		{SeasonID: f.seasonID, RoundID: f.roundIDs[0], AvatarAddress: intAddr(t, 1), ClanID: &clan, Score: 1024},
		{SeasonID: f.seasonID, RoundID: f.roundIDs[0], AvatarAddress: intAddr(t, 2), Score: 999},
	}
	if err := store.InsertRankingSnapshots(ctx, snapshots); err != nil {
		t.Fatalf("insert snapshots: %v", err)
	}
	// A replayed preparation must not fail or duplicate.
	if err := store.InsertRankingSnapshots(ctx, snapshots); err != nil {
		t.Fatalf("re-insert snapshots: %v", err)
	}

	n, err := store.SnapshotCount(ctx, f.seasonID, f.roundIDs[0])
	if err != nil {
		t.Fatalf("snapshot count: %v", err)
	}
	if n != 2 {
		t.Errorf("snapshot count: got %d, want 2", n)
	}

	got, err := store.RankingSnapshots(ctx, f.seasonID, f.roundIDs[0])
	if err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("snapshots: got %d, want 2", len(got))
	}
	if got[0].Score < got[1].Score {
		t.Error("snapshots must come back best-first")
	}
}
