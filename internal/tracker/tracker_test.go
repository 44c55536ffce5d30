package tracker_test

import (
	"testing"

	"arenarank/internal/tracker"
)

func TestWindowSize(t *testing.T) {
	cases := []struct {
		gap  int64
		want int
	}{
		{1, 1},
		{10, 1},
		{11, 5},
		{30, 5},
		{31, 10},
		{50, 10},
		{51, 30},
		{40_000, 30},
	}
	for _, tc := range cases {
		if got := tracker.WindowSize(tc.gap); got != tc.want {
			t.Errorf("WindowSize(%d): got %d, want %d", tc.gap, got, tc.want)
		}
	}
}
