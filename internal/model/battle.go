package model

import "time"

// TxStatus mirrors the external chain's view of a transaction.
type TxStatus string

const (
	TxStatusStaging  TxStatus = "STAGING"
	TxStatusIncluded TxStatus = "INCLUDED"
	TxStatusSuccess  TxStatus = "SUCCESS"
	TxStatusFailure  TxStatus = "FAILURE"
	TxStatusInvalid  TxStatus = "INVALID"
)

// BattleStatus is the settlement state machine for one battle. The terminal
// states other than SUCCESS are recorded for audit and never retried.
type BattleStatus string

const (
	BattleStatusPending              BattleStatus = "PENDING"
	BattleStatusTracking             BattleStatus = "TRACKING"
	BattleStatusDuplicateTransaction BattleStatus = "DUPLICATE_TRANSACTION"
	BattleStatusNotFoundBattleAction BattleStatus = "NOT_FOUND_BATTLE_ACTION"
	BattleStatusInvalidBattle        BattleStatus = "INVALID_BATTLE"
	BattleStatusNoRemainingTicket    BattleStatus = "NO_REMAINING_TICKET"
	BattleStatusTxFailed             BattleStatus = "TX_FAILED"
	BattleStatusSuccess              BattleStatus = "SUCCESS"
)

// Battle is the transactional record for one on-chain battle action.
// TxID transitions nil -> set exactly once (bound by the tracker); the
// settlement outcome fields are written by the battle processor.
type Battle struct {
	ID                  int64
	AvatarAddress       Address
	SeasonID            int
	RoundID             int
	AvailableOpponentID int64
	Token               string
	TxID                *TxID
	TxStatus            *TxStatus
	BattleStatus        BattleStatus
	IsVictory           *bool
	MyScoreChange       *int
	OpponentScoreChange *int
	ExceptionNames      *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// AvailableOpponent is a candidate match produced by opponent selection.
// SuccessBattleID transitions nil -> set exactly once; the conditional claim
// on that column is the exactly-once guard for battle settlement.
type AvailableOpponent struct {
	ID              int64
	AvatarAddress   Address
	RoundID         int
	OpponentAddress Address
	GroupID         int
	SuccessBattleID *int64
	DeletedAt       *time.Time
	CreatedAt       time.Time
}
