package ranking_test

import (
	"context"
	"errors"
	"testing"

	"arenarank/internal/model"
	"arenarank/internal/ranking"
	"arenarank/internal/testutil"
)

func seedGlobalLadder(t *testing.T, store *ranking.Store, seasonID, roundID, n int) []ranking.Entry {
	t.Helper()
	entries := make([]ranking.Entry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, ranking.Entry{
			AvatarAddress: testAddr(t, byte(i+1)),
			Score:         (n - i) * 10,
		})
	}
	if err := store.InitRanking(context.Background(), entries, seasonID, roundID, 100); err != nil {
		t.Fatalf("init ladder: %v", err)
	}
	return entries
}

func TestSelectOpponentsFillsAllGroups(t *testing.T) {
	_, client := testutil.SetupTestRedis(t)
	store := ranking.NewStore(client, ranking.DefaultConfig())
	entries := seedGlobalLadder(t, store, 1, 1, 100)

	requester := entries[49]
	opponents, err := store.SelectOpponents(context.Background(), requester.AvatarAddress, 1, 1, true,
		ranking.DefaultGroups(), ranking.DefaultFallbackOrder())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(opponents) != 5 {
		t.Fatalf("opponent count: got %d, want 5", len(opponents))
	}

	seen := map[model.Address]bool{}
	for i, o := range opponents {
		if o.AvatarAddress == requester.AvatarAddress {
			t.Errorf("opponent %d is the requester", i)
		}
		if seen[o.AvatarAddress] {
			t.Errorf("opponent %s selected twice", o.AvatarAddress)
		}
		seen[o.AvatarAddress] = true
	}
}

func TestSelectOpponentsNeverOffersBottomRank(t *testing.T) {
	_, client := testutil.SetupTestRedis(t)
	store := ranking.NewStore(client, ranking.DefaultConfig())
	entries := seedGlobalLadder(t, store, 1, 1, ranking.MinPopulation)
	bottom := entries[len(entries)-1]

	// Group 3's band reaches the tail of a 40-member ladder, but its upper
	// bound stops one short of the last index. Repeated draws must never
	// surface the bottom-ranked member.
	for i := 0; i < 25; i++ {
		opponents, err := store.SelectOpponents(context.Background(), entries[0].AvatarAddress, 1, 1, true,
			ranking.DefaultGroups(), ranking.DefaultFallbackOrder())
		if err != nil {
			t.Fatalf("select (draw %d): %v", i, err)
		}
		for _, o := range opponents {
			if o.AvatarAddress == bottom.AvatarAddress {
				t.Fatalf("draw %d offered the bottom-ranked member %s", i, bottom.AvatarAddress)
			}
		}
	}
}

func TestSelectOpponentsBelowMinPopulation(t *testing.T) {
	_, client := testutil.SetupTestRedis(t)
	store := ranking.NewStore(client, ranking.DefaultConfig())
	entries := seedGlobalLadder(t, store, 1, 1, ranking.MinPopulation-1)

	_, err := store.SelectOpponents(context.Background(), entries[0].AvatarAddress, 1, 1, true,
		ranking.DefaultGroups(), ranking.DefaultFallbackOrder())
	if !errors.Is(err, ranking.ErrMatchmakingFailed) {
		t.Fatalf("small population: got %v, want ErrMatchmakingFailed", err)
	}
}

func TestSelectOpponentsRequiresDoneRanking(t *testing.T) {
	_, client := testutil.SetupTestRedis(t)
	store := ranking.NewStore(client, ranking.DefaultConfig())

	_, err := store.SelectOpponents(context.Background(), testAddr(t, 1), 1, 1, true,
		ranking.DefaultGroups(), ranking.DefaultFallbackOrder())
	if !errors.Is(err, ranking.ErrCacheUnavailable) {
		t.Fatalf("select before init: got %v, want ErrCacheUnavailable", err)
	}
}

func TestSelectOpponentsUnrankedRequester(t *testing.T) {
	_, client := testutil.SetupTestRedis(t)
	store := ranking.NewStore(client, ranking.DefaultConfig())
	seedGlobalLadder(t, store, 1, 1, 50)

	_, err := store.SelectOpponents(context.Background(), testAddr(t, 200), 1, 1, true,
		ranking.DefaultGroups(), ranking.DefaultFallbackOrder())
	if !errors.Is(err, ranking.ErrNotRanked) {
		t.Fatalf("unranked requester: got %v, want ErrNotRanked", err)
	}
}
