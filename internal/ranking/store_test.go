package ranking_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"arenarank/internal/model"
	"arenarank/internal/ranking"
	"arenarank/internal/testutil"
)

func addr(t *testing.T, hex string) model.Address {
	t.Helper()
	a, err := model.NewAddress(hex)
	if err != nil {
		t.Fatalf("address %s: %v", hex, err)
	}
	return a
}

func testAddr(t *testing.T, n byte) model.Address {
	t.Helper()
	raw := make([]byte, 40)
	for i := range raw {
		raw[i] = '0'
	}
	const digits = "0123456789abcdef"
	raw[38] = digits[n>>4]
	raw[39] = digits[n&0xf]
	return addr(t, string(raw))
}

func TestConfigTTL(t *testing.T) {
	cfg := ranking.Config{BlockIntervalSeconds: 8, RetentionRounds: 5}
	if got, want := cfg.TTL(10), 400*time.Second; got != want {
		t.Errorf("TTL(10): got %v, want %v", got, want)
	}
}

func TestReadsGatedUntilDone(t *testing.T) {
	_, client := testutil.SetupTestRedis(t)
	store := ranking.NewStore(client, ranking.DefaultConfig())
	ctx := context.Background()

	_, err := store.GetRank(ctx, testAddr(t, 1), 1, 1)
	if !errors.Is(err, ranking.ErrCacheUnavailable) {
		t.Fatalf("rank before init: got %v, want ErrCacheUnavailable", err)
	}

	if err := store.InitRanking(ctx, []ranking.Entry{
		{AvatarAddress: testAddr(t, 1), Score: 1000},
	}, 1, 1, 100); err != nil {
		t.Fatalf("init: %v", err)
	}

	status, err := store.Status(ctx, 1, 1)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != ranking.StatusDone {
		t.Errorf("status after init: got %q, want DONE", status)
	}
	if _, err := store.GetRank(ctx, testAddr(t, 1), 1, 1); err != nil {
		t.Errorf("rank after init: %v", err)
	}
}

func TestGetRankSharesTies(t *testing.T) {
	_, client := testutil.SetupTestRedis(t)
	store := ranking.NewStore(client, ranking.DefaultConfig())
	ctx := context.Background()

	a, b, c := testAddr(t, 1), testAddr(t, 2), testAddr(t, 3)
	if err := store.InitRanking(ctx, []ranking.Entry{
		{AvatarAddress: a, Score: 100},
		{AvatarAddress: b, Score: 100},
		{AvatarAddress: c, Score: 90},
	}, 1, 1, 100); err != nil {
		t.Fatalf("init: %v", err)
	}

	for _, tc := range []struct {
		addr model.Address
		want int
	}{
		{a, 1},
		{b, 1},
		{c, 3},
	} {
		got, err := store.GetRank(ctx, tc.addr, 1, 1)
		if err != nil {
			t.Fatalf("rank %s: %v", tc.addr, err)
		}
		if got != tc.want {
			t.Errorf("rank %s: got %d, want %d", tc.addr, got, tc.want)
		}
	}

	_, err := store.GetRank(ctx, testAddr(t, 9), 1, 1)
	if !errors.Is(err, ranking.ErrNotRanked) {
		t.Errorf("rank of absent member: got %v, want ErrNotRanked", err)
	}
}

func TestGetTopNSharedRanks(t *testing.T) {
	_, client := testutil.SetupTestRedis(t)
	store := ranking.NewStore(client, ranking.DefaultConfig())
	ctx := context.Background()

	if err := store.InitRanking(ctx, []ranking.Entry{
		{AvatarAddress: testAddr(t, 1), Score: 100},
		{AvatarAddress: testAddr(t, 2), Score: 100},
		{AvatarAddress: testAddr(t, 3), Score: 90},
		{AvatarAddress: testAddr(t, 4), Score: 80},
	}, 1, 1, 100); err != nil {
		t.Fatalf("init: %v", err)
	}

	top, err := store.GetTopN(ctx, 1, 1, 3)
	if err != nil {
		t.Fatalf("top n: %v", err)
	}
	if len(top) != 3 {
		t.Fatalf("top n length: got %d, want 3", len(top))
	}
	wantRanks := []int{1, 1, 3}
	for i, e := range top {
		if e.Rank != wantRanks[i] {
			t.Errorf("entry %d rank: got %d, want %d", i, e.Rank, wantRanks[i])
		}
	}
}

func TestUpdateScoreRequiresDone(t *testing.T) {
	_, client := testutil.SetupTestRedis(t)
	store := ranking.NewStore(client, ranking.DefaultConfig())
	ctx := context.Background()

	err := store.UpdateScore(ctx, testAddr(t, 1), 3, 1, 24)
	if !errors.Is(err, ranking.ErrCacheUnavailable) {
		t.Fatalf("update before init: got %v, want ErrCacheUnavailable", err)
	}

	if err := store.InitRanking(ctx, []ranking.Entry{
		{AvatarAddress: testAddr(t, 1), Score: 1000},
	}, 3, 1, 100); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := store.UpdateScore(ctx, testAddr(t, 1), 3, 1, 24); err != nil {
		t.Fatalf("update: %v", err)
	}
	score, err := store.GetScore(ctx, testAddr(t, 1), 3, 1)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score != 1024 {
		t.Errorf("score after update: got %d, want 1024", score)
	}
}

func TestCopyRoundDataCarriesForwardAtMax(t *testing.T) {
	_, client := testutil.SetupTestRedis(t)
	store := ranking.NewStore(client, ranking.DefaultConfig())
	ctx := context.Background()

	a, b := testAddr(t, 1), testAddr(t, 2)
	if err := store.InitRanking(ctx, []ranking.Entry{
		{AvatarAddress: a, Score: 100},
		{AvatarAddress: b, Score: 50},
	}, 1, 1, 100); err != nil {
		t.Fatalf("init round 1: %v", err)
	}
	// Round 2 already holds a settled score for a that beats round 1.
	if err := store.InitRanking(ctx, []ranking.Entry{
		{AvatarAddress: a, Score: 120},
	}, 1, 2, 100); err != nil {
		t.Fatalf("init round 2: %v", err)
	}

	if err := store.CopyRoundData(ctx, 1, 1, 2, 100); err != nil {
		t.Fatalf("copy: %v", err)
	}

	gotA, err := store.GetScore(ctx, a, 1, 2)
	if err != nil {
		t.Fatalf("score a: %v", err)
	}
	if gotA != 120 {
		t.Errorf("settled score must survive the copy: got %d, want 120", gotA)
	}
	gotB, err := store.GetScore(ctx, b, 1, 2)
	if err != nil {
		t.Fatalf("score b: %v", err)
	}
	if gotB != 50 {
		t.Errorf("carried score: got %d, want 50", gotB)
	}
}

func TestCountIgnoresGate(t *testing.T) {
	_, client := testutil.SetupTestRedis(t)
	store := ranking.NewStore(client, ranking.DefaultConfig())
	ctx := context.Background()

	n, err := store.Count(ctx, 7, 1)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("count of missing ranking: got %d, want 0", n)
	}
}
