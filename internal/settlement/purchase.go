package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"arenarank/internal/chain"
	"arenarank/internal/model"
	"arenarank/internal/observability"
	"arenarank/internal/persistence"
)

// PriceTolerance absorbs floating point drift between the chain's asset
// arithmetic and the policy's price schedule.
const PriceTolerance = 0.0001

// PurchaseProcessor settles one on-chain ticket purchase: it confirms the
// transfer, validates recipient and amount against the season's policy, and
// credits the tickets under the purchase caps.
type PurchaseProcessor struct {
	store     *persistence.Store
	chain     chain.Client
	tracker   *ConfirmationTracker
	recipient model.Address
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewPurchaseProcessor(store *persistence.Store, chainClient chain.Client, tracker *ConfirmationTracker, recipient model.Address, metrics *observability.Metrics, log zerolog.Logger) *PurchaseProcessor {
	return &PurchaseProcessor{
		store:     store,
		chain:     chainClient,
		tracker:   tracker,
		recipient: recipient,
		metrics:   metrics,
		log:       log,
	}
}

var errPurchaseCap = errors.New("purchase cap exceeded")

// Process settles one purchase. Same acknowledgement contract as battles:
// nil means done, terminal rejections live on the purchase log row.
func (p *PurchaseProcessor) Process(ctx context.Context, job PurchaseJob) error {
	started := time.Now()
	outcome, err := p.process(ctx, job)
	if err == nil {
		p.metrics.SettlementOutcomes.WithLabelValues("purchase", outcome).Inc()
		p.metrics.SettlementDuration.Observe(time.Since(started).Seconds())
	}
	return err
}

func (p *PurchaseProcessor) process(ctx context.Context, job PurchaseJob) (string, error) {
	purchase, err := p.store.PurchaseLog(ctx, job.PurchaseLogID)
	if err != nil {
		return "", err
	}
	if isTerminalPurchase(purchase.PurchaseStatus) {
		return "already_settled", nil
	}

	used, err := p.store.ValidateUsedTxID(ctx, purchase.TxID, 0, purchase.ID)
	if err != nil {
		return "", err
	}
	if used {
		return "duplicate", p.reject(ctx, purchase.ID, model.PurchaseStatusDuplicateTransaction, nil, nil)
	}

	season, err := p.store.SeasonByID(ctx, purchase.SeasonID)
	if err != nil {
		return "", err
	}
	if err := p.store.EnsureTicketStatuses(ctx, purchase.SeasonID, purchase.RoundID, purchase.AvatarAddress, season.Policy); err != nil {
		return "", err
	}

	result, err := p.tracker.Await(ctx, purchase.TxID)
	if err != nil {
		return "", err
	}
	if result.Status != model.TxStatusSuccess {
		names := strings.Join(result.ExceptionNames, ",")
		return "tx_failed", p.reject(ctx, purchase.ID, model.PurchaseStatusTxFailed, &result.Status, &names)
	}

	transfer, status, err := p.validateTransfer(ctx, purchase, season.Policy)
	if err != nil {
		return "", err
	}
	if status != "" {
		return "rejected", p.reject(ctx, purchase.ID, status, &result.Status, nil)
	}

	creditErr := p.credit(ctx, purchase, season.Policy)
	if errors.Is(creditErr, errPurchaseCap) {
		return "cap_exceeded", p.reject(ctx, purchase.ID, model.PurchaseStatusNoRemainingPurchase, &result.Status, nil)
	}
	if creditErr != nil {
		return "", creditErr
	}

	if err := p.store.UpdatePurchaseLog(ctx, purchase.ID, model.PurchaseStatusSuccess, &result.Status, &transfer.Amount, nil); err != nil {
		return "", err
	}
	p.log.Info().
		Int64("purchase_log_id", purchase.ID).
		Int("count", purchase.PurchaseCount).
		Float64("paid", transfer.Amount).
		Msg("ticket purchase settled")
	return "success", nil
}

// validateTransfer re-fetches the transaction and checks the transfer
// against recipient and price schedule. A non-empty returned status is a
// terminal rejection.
func (p *PurchaseProcessor) validateTransfer(ctx context.Context, purchase *model.BattleTicketPurchaseLog, policy model.BattleTicketPolicy) (*chain.TransferAsset, model.PurchaseStatus, error) {
	tx, err := chain.Retry(ctx, chain.DefaultRetryAttempts, chain.DefaultRetryDelay,
		func(ctx context.Context) (*chain.Transaction, error) {
			return p.chain.TransactionByID(ctx, purchase.TxID)
		})
	if err != nil {
		return nil, "", err
	}

	var transfer *chain.TransferAsset
	for _, a := range tx.Actions {
		if chain.IsTransferAction(a.TypeID) {
			parsed, err := chain.ParseTransferAsset(a)
			if err != nil {
				p.log.Warn().Err(err).Int64("purchase_log_id", purchase.ID).Msg("malformed transfer action")
				continue
			}
			transfer = parsed
			break
		}
	}
	if transfer == nil {
		return nil, model.PurchaseStatusNotFoundTransferAction, nil
	}
	if transfer.Recipient != p.recipient {
		p.log.Warn().Int64("purchase_log_id", purchase.ID).
			Str("recipient", transfer.Recipient.String()).
			Msg("transfer paid to the wrong recipient")
		return nil, model.PurchaseStatusInvalidRecipient, nil
	}

	expected, err := p.expectedPrice(ctx, purchase, policy)
	if err != nil {
		return nil, "", err
	}
	if transfer.Amount+PriceTolerance < expected {
		p.log.Warn().Int64("purchase_log_id", purchase.ID).
			Float64("paid", transfer.Amount).
			Float64("expected", expected).
			Msg("transfer underpays the ticket price")
		return nil, model.PurchaseStatusInsufficientPayment, nil
	}
	return transfer, "", nil
}

// expectedPrice sums the schedule from the buyer's current purchase count.
func (p *PurchaseProcessor) expectedPrice(ctx context.Context, purchase *model.BattleTicketPurchaseLog, policy model.BattleTicketPolicy) (float64, error) {
	roundStatus, err := p.store.TicketStatusPerRound(ctx, purchase.RoundID, purchase.AvatarAddress)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	for i := 0; i < purchase.PurchaseCount; i++ {
		sum += policy.Price(roundStatus.PurchaseCount + i)
	}
	if math.IsNaN(sum) || sum < 0 {
		return 0, fmt.Errorf("invalid price sum for policy %d", policy.ID)
	}
	return sum, nil
}

// credit adds the purchased tickets under both caps in one transaction.
func (p *PurchaseProcessor) credit(ctx context.Context, purchase *model.BattleTicketPurchaseLog, policy model.BattleTicketPolicy) error {
	roundStatus, err := p.store.TicketStatusPerRound(ctx, purchase.RoundID, purchase.AvatarAddress)
	if err != nil {
		return err
	}
	seasonStatus, err := p.store.TicketStatusPerSeason(ctx, purchase.SeasonID, purchase.AvatarAddress)
	if err != nil {
		return err
	}
	return p.store.WithTx(ctx, sql.LevelReadCommitted, func(tx *sql.Tx) error {
		ok, err := p.store.AddPurchasedTicketsTx(ctx, tx, roundStatus.ID, purchase.PurchaseCount, policy.MaxPurchasableTicketsPerRound)
		if err != nil {
			return err
		}
		if !ok {
			return errPurchaseCap
		}
		ok, err = p.store.AddSeasonPurchasesTx(ctx, tx, seasonStatus.ID, purchase.PurchaseCount, policy.MaxPurchasableTicketsPerSeason)
		if err != nil {
			return err
		}
		if !ok {
			return errPurchaseCap
		}
		return nil
	})
}

func (p *PurchaseProcessor) reject(ctx context.Context, id int64, status model.PurchaseStatus, txStatus *model.TxStatus, exceptionNames *string) error {
	return p.store.UpdatePurchaseLog(ctx, id, status, txStatus, nil, exceptionNames)
}

func isTerminalPurchase(status model.PurchaseStatus) bool {
	switch status {
	case model.PurchaseStatusSuccess,
		model.PurchaseStatusDuplicateTransaction,
		model.PurchaseStatusNotFoundTransferAction,
		model.PurchaseStatusInvalidRecipient,
		model.PurchaseStatusInsufficientPayment,
		model.PurchaseStatusNoRemainingPurchase,
		model.PurchaseStatusTxFailed:
		return true
	}
	return false
}
