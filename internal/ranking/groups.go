package ranking

// Group is one percentile bucket of the opponent-selection table. Min and
// Max are fractions applied either to the total ranked population (global
// selection) or to the requester's rank (group selection). WinScore and
// LoseScore are the settlement deltas for beating or losing to an opponent
// drawn from this bucket.
type Group struct {
	ID        int
	Min       float64
	Max       float64
	WinScore  int
	LoseScore int
}

// DefaultGroups is the five-bucket table: group 1 is the hardest band above
// the requester, group 5 the easiest below.
func DefaultGroups() []Group {
	return []Group{
		{ID: 1, Min: 0.2, Max: 0.4, WinScore: 24, LoseScore: -1},
		{ID: 2, Min: 0.4, Max: 0.8, WinScore: 22, LoseScore: -2},
		{ID: 3, Min: 0.8, Max: 1.2, WinScore: 20, LoseScore: -3},
		{ID: 4, Min: 1.2, Max: 1.8, WinScore: 18, LoseScore: -4},
		{ID: 5, Min: 1.8, Max: 3.0, WinScore: 16, LoseScore: -5},
	}
}

// DefaultFallbackOrder maps a group id to the ordered list of alternate
// groups tried when the primary band has no eligible candidate.
func DefaultFallbackOrder() map[int][]int {
	return map[int][]int{
		1: {2, 3, 4, 5},
		2: {3, 4, 5, 1},
		3: {4, 5, 2, 1},
		4: {5, 3, 2, 1},
		5: {4, 3, 2, 1},
	}
}

// GroupByID returns the group with the given id from the table.
func GroupByID(groups []Group, id int) (Group, bool) {
	for _, g := range groups {
		if g.ID == id {
			return g, true
		}
	}
	return Group{}, false
}

const (
	// MinPopulation guards against degenerate early-season matchmaking:
	// selection refuses to run on a ladder smaller than this.
	MinPopulation = 40

	// PopulationCap bounds the effective population for selection after
	// the first round so buckets stay competitive on very large ladders.
	PopulationCap = 1000

	// RankShiftLimit bounds the rank-shift fallback search. Exhausting it
	// is a normal ErrMatchmakingFailed, not a fault.
	RankShiftLimit = 100
)
