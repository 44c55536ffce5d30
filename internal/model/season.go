package model

import "time"

// Season is a top-level competitive period bounded by a block-height range.
// Rows are created administratively and are read-only to this service.
type Season struct {
	ID                   int
	StartBlock           int64
	EndBlock             int64
	RoundInterval        int // blocks per round
	BattleTicketPolicyID int
	CreatedAt            time.Time

	Rounds []Round            // populated by SeasonByBlock
	Policy BattleTicketPolicy // populated when the caller needs pricing
}

// Round is a sub-period of a season. The orchestrator detects round
// boundaries; it never creates rows.
type Round struct {
	ID         int
	SeasonID   int
	RoundIndex int // monotonic within the season
	StartBlock int64
	EndBlock   int64
}

// Contains reports whether the block height falls inside the round.
func (r Round) Contains(height int64) bool {
	return height >= r.StartBlock && height <= r.EndBlock
}

// RoundAt returns the round covering the block height, if any.
func (s *Season) RoundAt(height int64) (Round, bool) {
	for _, r := range s.Rounds {
		if r.Contains(height) {
			return r, true
		}
	}
	return Round{}, false
}
