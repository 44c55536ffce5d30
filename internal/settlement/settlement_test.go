package settlement

import (
	"testing"

	"arenarank/internal/model"
	"arenarank/internal/ranking"
)

func TestScoreDeltas(t *testing.T) {
	groups := ranking.DefaultGroups()
	cases := []struct {
		name    string
		groupID int
		victory bool
		wantMy  int
		wantOpp int
	}{
		{"win hardest", 1, true, 24, -1},
		{"win easiest", 5, true, 16, -1},
		{"lose hardest", 1, false, -1, 0},
		{"lose easiest", 5, false, -5, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g, ok := ranking.GroupByID(groups, tc.groupID)
			if !ok {
				t.Fatalf("group %d missing", tc.groupID)
			}
			my, opp := scoreDeltas(g, tc.victory)
			if my != tc.wantMy || opp != tc.wantOpp {
				t.Errorf("deltas: got (%d,%d), want (%d,%d)", my, opp, tc.wantMy, tc.wantOpp)
			}
		})
	}
}

func TestIsTerminalBattle(t *testing.T) {
	terminal := []model.BattleStatus{
		model.BattleStatusSuccess,
		model.BattleStatusDuplicateTransaction,
		model.BattleStatusNotFoundBattleAction,
		model.BattleStatusInvalidBattle,
		model.BattleStatusNoRemainingTicket,
		model.BattleStatusTxFailed,
	}
	for _, s := range terminal {
		if !isTerminalBattle(s) {
			t.Errorf("status %q should be terminal", s)
		}
	}
	for _, s := range []model.BattleStatus{model.BattleStatusPending, model.BattleStatusTracking} {
		if isTerminalBattle(s) {
			t.Errorf("status %q should not be terminal", s)
		}
	}
}

func TestIsTerminalPurchase(t *testing.T) {
	if !isTerminalPurchase(model.PurchaseStatusSuccess) {
		t.Error("SUCCESS should be terminal")
	}
	if isTerminalPurchase(model.PurchaseStatusPending) {
		t.Error("PENDING should not be terminal")
	}
	if isTerminalPurchase(model.PurchaseStatusTracking) {
		t.Error("TRACKING should not be terminal")
	}
}

func TestNextRound(t *testing.T) {
	season := &model.Season{
		Rounds: []model.Round{
			{ID: 10, RoundIndex: 1},
			{ID: 11, RoundIndex: 2},
			{ID: 12, RoundIndex: 3},
		},
	}
	next, ok := nextRound(season, 10)
	if !ok || next.ID != 11 {
		t.Errorf("next of 10: got %d/%v, want 11/true", next.ID, ok)
	}
	if _, ok := nextRound(season, 12); ok {
		t.Error("last round must have no successor")
	}
	if _, ok := nextRound(season, 99); ok {
		t.Error("unknown round must have no successor")
	}
}
