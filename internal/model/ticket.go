package model

import "time"

// PurchaseStatus is the settlement state machine for one ticket purchase.
type PurchaseStatus string

const (
	PurchaseStatusPending                PurchaseStatus = "PENDING"
	PurchaseStatusTracking               PurchaseStatus = "TRACKING"
	PurchaseStatusDuplicateTransaction   PurchaseStatus = "DUPLICATE_TRANSACTION"
	PurchaseStatusNotFoundTransferAction PurchaseStatus = "NOT_FOUND_TRANSFER_ASSETS_ACTION"
	PurchaseStatusInvalidRecipient       PurchaseStatus = "INVALID_RECIPIENT"
	PurchaseStatusInsufficientPayment    PurchaseStatus = "INSUFFICIENT_PAYMENT"
	PurchaseStatusNoRemainingPurchase    PurchaseStatus = "NO_REMAINING_PURCHASE_COUNT"
	PurchaseStatusTxFailed               PurchaseStatus = "TX_FAILED"
	PurchaseStatusSuccess                PurchaseStatus = "SUCCESS"
)

// BattleTicketPolicy configures how many battle tickets a season grants and
// sells, and at what price per successive purchase.
type BattleTicketPolicy struct {
	ID                             int
	Name                           string
	DefaultTicketsPerRound         int
	MaxPurchasableTicketsPerRound  int
	MaxPurchasableTicketsPerSeason int
	Prices                         []float64 // price of the n-th purchased ticket
}

// Price returns the cost of the purchase with the given zero-based index.
// Indexes past the schedule reuse the last configured price.
func (p BattleTicketPolicy) Price(purchaseIndex int) float64 {
	if len(p.Prices) == 0 {
		return 0
	}
	if purchaseIndex >= len(p.Prices) {
		return p.Prices[len(p.Prices)-1]
	}
	return p.Prices[purchaseIndex]
}

// BattleTicketStatusPerRound tracks a participant's ticket balance within one
// round. RemainingCount is deducted by a conditional update and can never go
// negative.
type BattleTicketStatusPerRound struct {
	ID             int64
	SeasonID       int
	RoundID        int
	AvatarAddress  Address
	PolicyID       int
	RemainingCount int
	UsedCount      int
	PurchaseCount  int
	UpdatedAt      time.Time
}

// BattleTicketStatusPerSeason tracks season-wide usage and purchase totals.
type BattleTicketStatusPerSeason struct {
	ID            int64
	SeasonID      int
	AvatarAddress Address
	PolicyID      int
	UsedCount     int
	PurchaseCount int
	UpdatedAt     time.Time
}

// BattleTicketPurchaseLog records one on-chain ticket purchase and its
// settlement outcome. The TxID is claimed at most once across both purchase
// log tables and the battles table.
type BattleTicketPurchaseLog struct {
	ID             int64
	SeasonID       int
	RoundID        int
	AvatarAddress  Address
	TxID           TxID
	TxStatus       *TxStatus
	PurchaseStatus PurchaseStatus
	PurchaseCount  int
	PaidAmount     *float64
	ExceptionNames *string
	CreatedAt      time.Time
}

// RefreshTicketPurchaseLog is the refresh-ticket sibling of
// BattleTicketPurchaseLog; it participates in the cross-table tx-id
// uniqueness check.
type RefreshTicketPurchaseLog struct {
	ID             int64
	SeasonID       int
	RoundID        int
	AvatarAddress  Address
	TxID           TxID
	PurchaseStatus PurchaseStatus
	PurchaseCount  int
	CreatedAt      time.Time
}

// BattleTicketUsageLog is the audit row appended when a settlement consumes a
// ticket.
type BattleTicketUsageLog struct {
	ID             int64
	RoundStatusID  int64
	SeasonStatusID int64
	BattleID       int64
	CreatedAt      time.Time
}
