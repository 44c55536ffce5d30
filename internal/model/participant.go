package model

import "time"

// Participant is a player's enrollment in one season. Score and win/lose
// totals are mutated exclusively by the settlement pipeline.
type Participant struct {
	AvatarAddress Address
	SeasonID      int
	ClanID        *int
	Score         int
	TotalWin      int
	TotalLose     int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// InitialScore is the flat starting score every participant receives when a
// season is prepared.
const InitialScore = 1000

// RankingSnapshot is the durable copy of one ranking entry for a given
// season and round. Immutable once written; the sole recovery source for the
// ranking cache.
type RankingSnapshot struct {
	SeasonID      int
	RoundID       int
	AvatarAddress Address
	ClanID        *int
	Score         int
	CreatedAt     time.Time
}

// ClanRankingSnapshot mirrors RankingSnapshot for clan totals.
type ClanRankingSnapshot struct {
	SeasonID  int
	RoundID   int
	ClanID    int
	Score     int
	CreatedAt time.Time
}
