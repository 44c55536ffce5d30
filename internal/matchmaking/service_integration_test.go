package matchmaking_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"arenarank/internal/matchmaking"
	"arenarank/internal/model"
	"arenarank/internal/persistence"
	"arenarank/internal/ranking"
	"arenarank/internal/settlement"
	"arenarank/internal/testutil"
)

// recordingPublisher captures published purchase jobs instead of touching a
// real stream.
type recordingPublisher struct {
	jobs []settlement.PurchaseJob
}

func (p *recordingPublisher) PublishPurchase(_ context.Context, job settlement.PurchaseJob) error {
	p.jobs = append(p.jobs, job)
	return nil
}

func setupPurchaseService(t *testing.T) (*matchmaking.Service, *persistence.Store, *sql.DB, *recordingPublisher) {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	migrator := persistence.NewMigrator(db, "../../migrations", zerolog.Nop())
	if err := migrator.Up(context.Background()); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	store := persistence.NewStore(db)

	publisher := &recordingPublisher{}
	svc := matchmaking.NewService(
		store, ranking.Scopes{}, nil, publisher,
		ranking.DefaultGroups(), ranking.DefaultFallbackOrder(),
		nil, zerolog.Nop(),
	)
	return svc, store, db, publisher
}

type seasonFixture struct {
	seasonID int
	roundIDs []int
}

// seedPurchaseSeason creates a policy with a per-round purchase cap of 4 and
// a season of three 100-block rounds.
func seedPurchaseSeason(t *testing.T, db *sql.DB) seasonFixture {
	t.Helper()
	ctx := context.Background()

	var policyID int
	err := db.QueryRowContext(ctx, `
		INSERT INTO battle_ticket_policies
			(name, default_tickets_per_round, max_purchasable_per_round, max_purchasable_per_season, prices)
		VALUES ('default', 5, 4, 20, '{5,10,20,40}')
		RETURNING id`,
	).Scan(&policyID)
	if err != nil {
		t.Fatalf("seed policy: %v", err)
	}

	var f seasonFixture
	err = db.QueryRowContext(ctx, `
		INSERT INTO seasons (start_block, end_block, round_interval, battle_ticket_policy_id)
		VALUES (1000, 1299, 100, $1)
		RETURNING id`,
		policyID,
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

func buyerAddr(t *testing.T, n int) model.Address {
	t.Helper()
	a, err := model.NewAddress(fmt.Sprintf("%040x", n))
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	return a
}

func TestPurchaseTicketsCreatesLogAndPublishes(t *testing.T) {
	svc, store, db, publisher := setupPurchaseService(t)
	f := seedPurchaseSeason(t, db)
	ctx := context.Background()

	txID := model.TxID(fmt.Sprintf("%064x", 0xa1))
	id, err := svc.PurchaseTickets(ctx, buyerAddr(t, 1), f.seasonID, f.roundIDs[0], txID, 2)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if id == 0 {
		t.Fatal("purchase log id must be set")
	}

	logRow, err := store.PurchaseLog(ctx, id)
	if err != nil {
		t.Fatalf("load purchase log: %v", err)
	}
	if logRow.PurchaseStatus != model.PurchaseStatusPending {
		t.Errorf("status: got %s, want %s", logRow.PurchaseStatus, model.PurchaseStatusPending)
	}
	if logRow.PurchaseCount != 2 || logRow.TxID != txID {
		t.Errorf("log row: got count %d tx %s, want count 2 tx %s", logRow.PurchaseCount, logRow.TxID, txID)
	}

	if len(publisher.jobs) != 1 {
		t.Fatalf("published jobs: got %d, want 1", len(publisher.jobs))
	}
	job := publisher.jobs[0]
	if job.PurchaseLogID != id || job.TxID != txID {
		t.Errorf("job: got log %d tx %s, want log %d tx %s", job.PurchaseLogID, job.TxID, id, txID)
	}
}

func TestPurchaseTicketsRejectsDuplicateTx(t *testing.T) {
	svc, _, db, publisher := setupPurchaseService(t)
	f := seedPurchaseSeason(t, db)
	ctx := context.Background()

	txID := model.TxID(fmt.Sprintf("%064x", 0xb2))
	if _, err := svc.PurchaseTickets(ctx, buyerAddr(t, 1), f.seasonID, f.roundIDs[0], txID, 1); err != nil {
		t.Fatalf("first purchase: %v", err)
	}
	_, err := svc.PurchaseTickets(ctx, buyerAddr(t, 2), f.seasonID, f.roundIDs[0], txID, 1)
	if !errors.Is(err, settlement.ErrDuplicateTransaction) {
		t.Fatalf("reused tx: got %v, want ErrDuplicateTransaction", err)
	}
	if len(publisher.jobs) != 1 {
		t.Errorf("published jobs: got %d, want 1 (duplicate must not publish)", len(publisher.jobs))
	}
}

func TestPurchaseTicketsValidatesRequest(t *testing.T) {
	svc, _, db, publisher := setupPurchaseService(t)
	f := seedPurchaseSeason(t, db)
	ctx := context.Background()

	cases := []struct {
		name    string
		roundID int
		count   int
	}{
		{"zero count", f.roundIDs[0], 0},
		{"count over per-round cap", f.roundIDs[0], 5},
		{"round of another season", f.roundIDs[2] + 1000, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.PurchaseTickets(ctx, buyerAddr(t, 1), f.seasonID, tc.roundID, model.TxID(fmt.Sprintf("%064x", 0xc3)), tc.count)
			if !errors.Is(err, matchmaking.ErrInvalidPurchase) {
				t.Fatalf("got %v, want ErrInvalidPurchase", err)
			}
		})
	}
	if len(publisher.jobs) != 0 {
		t.Errorf("published jobs: got %d, want 0", len(publisher.jobs))
	}
}
