package model_test

import (
	"testing"

	"arenarank/internal/model"
)

func TestNewAddress(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"canonical", "9c8a9c0e2de7175eb1d0ab21f28b0f00a5f0d2e1", "9c8a9c0e2de7175eb1d0ab21f28b0f00a5f0d2e1", false},
		{"uppercase normalized", "9C8A9C0E2DE7175EB1D0AB21F28B0F00A5F0D2E1", "9c8a9c0e2de7175eb1d0ab21f28b0f00a5f0d2e1", false},
		{"0x prefix stripped", "0x9c8a9c0e2de7175eb1d0ab21f28b0f00a5f0d2e1", "9c8a9c0e2de7175eb1d0ab21f28b0f00a5f0d2e1", false},
		{"surrounding space", "  9c8a9c0e2de7175eb1d0ab21f28b0f00a5f0d2e1 ", "9c8a9c0e2de7175eb1d0ab21f28b0f00a5f0d2e1", false},
		{"too short", "9c8a9c0e", "", true},
		{"non-hex", "zz8a9c0e2de7175eb1d0ab21f28b0f00a5f0d2e1", "", true},
		{"empty", "", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := model.NewAddress(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.String() != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestPolicyPrice(t *testing.T) {
	policy := model.BattleTicketPolicy{Prices: []float64{5, 10, 20}}
	cases := []struct {
		index int
		want  float64
	}{
		{0, 5},
		{1, 10},
		{2, 20},
		{3, 20}, // past the schedule, last price repeats
		{99, 20},
	}
	for _, tc := range cases {
		if got := policy.Price(tc.index); got != tc.want {
			t.Errorf("Price(%d): got %v, want %v", tc.index, got, tc.want)
		}
	}

	empty := model.BattleTicketPolicy{}
	if got := empty.Price(0); got != 0 {
		t.Errorf("empty schedule: got %v, want 0", got)
	}
}

func TestRoundAt(t *testing.T) {
	season := &model.Season{
		ID:         1,
		StartBlock: 1000,
		EndBlock:   1299,
		Rounds: []model.Round{
			{ID: 10, StartBlock: 1000, EndBlock: 1099},
			{ID: 11, StartBlock: 1100, EndBlock: 1199},
			{ID: 12, StartBlock: 1200, EndBlock: 1299},
		},
	}
	cases := []struct {
		height int64
		wantID int
		wantOK bool
	}{
		{1000, 10, true},
		{1099, 10, true},
		{1100, 11, true},
		{1299, 12, true},
		{999, 0, false},
		{1300, 0, false},
	}
	for _, tc := range cases {
		got, ok := season.RoundAt(tc.height)
		if ok != tc.wantOK {
			t.Errorf("RoundAt(%d): ok got %v, want %v", tc.height, ok, tc.wantOK)
			continue
		}
		if ok && got.ID != tc.wantID {
			t.Errorf("RoundAt(%d): got round %d, want %d", tc.height, got.ID, tc.wantID)
		}
	}
}
