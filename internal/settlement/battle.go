package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"arenarank/internal/chain"
	"arenarank/internal/model"
	"arenarank/internal/observability"
	"arenarank/internal/persistence"
	"arenarank/internal/ranking"
	"arenarank/internal/token"
)

// BattleProcessor settles one battle end to end: tx id uniqueness, chain
// confirmation, re-validation of the on-chain action against the issued
// token, the conditional claim transaction, and the post-commit cache
// updates for the next round.
type BattleProcessor struct {
	store     *persistence.Store
	chain     chain.Client
	validator *token.Validator
	tracker   *ConfirmationTracker
	scopes    ranking.Scopes
	groups    []ranking.Group
	provider  string
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewBattleProcessor(store *persistence.Store, chainClient chain.Client, validator *token.Validator, tracker *ConfirmationTracker, scopes ranking.Scopes, groups []ranking.Group, provider string, metrics *observability.Metrics, log zerolog.Logger) *BattleProcessor {
	return &BattleProcessor{
		store:     store,
		chain:     chainClient,
		validator: validator,
		tracker:   tracker,
		scopes:    scopes,
		groups:    groups,
		provider:  provider,
		metrics:   metrics,
		log:       log,
	}
}

// sentinel outcomes inside the settlement transaction
var (
	errAlreadyClaimed = errors.New("opponent already claimed")
	errNoTicket       = errors.New("no remaining ticket")
)

// Process settles one battle. Returning nil acknowledges the job; rows that
// hit a business rejection carry their terminal status and are never
// retried.
func (p *BattleProcessor) Process(ctx context.Context, job BattleJob) error {
	started := time.Now()
	outcome, err := p.process(ctx, job)
	if err == nil {
		p.metrics.SettlementOutcomes.WithLabelValues("battle", outcome).Inc()
		p.metrics.SettlementDuration.Observe(time.Since(started).Seconds())
	}
	return err
}

func (p *BattleProcessor) process(ctx context.Context, job BattleJob) (string, error) {
	battle, err := p.store.Battle(ctx, job.BattleID)
	if err != nil {
		return "", err
	}
	if isTerminalBattle(battle.BattleStatus) {
		p.log.Debug().Int64("battle_id", battle.ID).Str("status", string(battle.BattleStatus)).
			Msg("battle already settled")
		return "already_settled", nil
	}
	if battle.TxID == nil {
		return "", fmt.Errorf("battle %d has no bound tx id", battle.ID)
	}
	txID := *battle.TxID

	used, err := p.store.ValidateUsedTxID(ctx, txID, battle.ID, 0)
	if err != nil {
		return "", err
	}
	if used {
		p.log.Warn().Int64("battle_id", battle.ID).Str("tx_id", txID.String()).
			Msg("tx id already claimed elsewhere")
		return "duplicate", p.reject(ctx, battle.ID, model.BattleStatusDuplicateTransaction, nil, nil)
	}

	season, err := p.store.SeasonByID(ctx, battle.SeasonID)
	if err != nil {
		return "", err
	}
	if err := p.store.EnsureTicketStatuses(ctx, battle.SeasonID, battle.RoundID, battle.AvatarAddress, season.Policy); err != nil {
		return "", err
	}

	result, err := p.tracker.Await(ctx, txID)
	if err != nil {
		return "", err
	}
	if result.Status != model.TxStatusSuccess {
		names := strings.Join(result.ExceptionNames, ",")
		return "tx_failed", p.reject(ctx, battle.ID, model.BattleStatusTxFailed, &result.Status, &names)
	}

	action, status, err := p.validateAction(ctx, battle, txID)
	if err != nil {
		return "", err
	}
	if status != "" {
		return "rejected", p.reject(ctx, battle.ID, status, &result.Status, nil)
	}

	opponent, err := p.store.AvailableOpponent(ctx, battle.AvailableOpponentID)
	if err != nil {
		return "", err
	}
	if action.EnemyAvatarAddress != opponent.OpponentAddress {
		p.log.Warn().Int64("battle_id", battle.ID).
			Str("expected", opponent.OpponentAddress.String()).
			Str("got", action.EnemyAvatarAddress.String()).
			Msg("battle action targets a different opponent")
		return "rejected", p.reject(ctx, battle.ID, model.BattleStatusInvalidBattle, &result.Status, nil)
	}

	outcome, err := chain.Retry(ctx, chain.DefaultRetryAttempts, chain.DefaultRetryDelay,
		func(ctx context.Context) (*chain.BattleOutcome, error) {
			return p.chain.BattleOutcome(ctx, battle.AvatarAddress)
		})
	if err != nil {
		return "", err
	}

	group, ok := ranking.GroupByID(p.groups, opponent.GroupID)
	if !ok {
		return "", fmt.Errorf("battle %d references unknown group %d", battle.ID, opponent.GroupID)
	}
	myDelta, oppDelta := scoreDeltas(group, outcome.IsVictory)

	settleErr := p.settle(ctx, battle, season, opponent, outcome.IsVictory, myDelta, oppDelta)
	switch {
	case errors.Is(settleErr, errAlreadyClaimed):
		p.log.Info().Int64("battle_id", battle.ID).Msg("opponent already claimed, skipping")
		return "already_settled", nil
	case errors.Is(settleErr, errNoTicket):
		return "no_ticket", p.reject(ctx, battle.ID, model.BattleStatusNoRemainingTicket, &result.Status, nil)
	case settleErr != nil:
		return "", settleErr
	}

	p.updateCaches(ctx, battle, season, opponent, myDelta, oppDelta)
	p.log.Info().
		Int64("battle_id", battle.ID).
		Bool("victory", outcome.IsVictory).
		Int("my_delta", myDelta).
		Int("opp_delta", oppDelta).
		Msg("battle settled")
	return "success", nil
}

// validateAction re-fetches the transaction and checks its battle action
// against the battle row. A non-empty returned status is a terminal
// rejection.
func (p *BattleProcessor) validateAction(ctx context.Context, battle *model.Battle, txID model.TxID) (*chain.BattleAction, model.BattleStatus, error) {
	tx, err := chain.Retry(ctx, chain.DefaultRetryAttempts, chain.DefaultRetryDelay,
		func(ctx context.Context) (*chain.Transaction, error) {
			return p.chain.TransactionByID(ctx, txID)
		})
	if err != nil {
		return nil, "", err
	}

	var action *chain.BattleAction
	for _, a := range tx.Actions {
		if chain.IsBattleAction(a.TypeID) {
			parsed, err := chain.ParseBattleAction(a)
			if err != nil {
				p.log.Warn().Err(err).Int64("battle_id", battle.ID).Msg("malformed battle action")
				continue
			}
			action = parsed
			break
		}
	}
	if action == nil {
		return nil, model.BattleStatusNotFoundBattleAction, nil
	}
	if action.MyAvatarAddress != battle.AvatarAddress {
		return nil, model.BattleStatusInvalidBattle, nil
	}
	if action.ArenaProvider != p.provider {
		return nil, model.BattleStatusInvalidBattle, nil
	}
	if err := p.validator.Validate(action.Memo, battle.ID); err != nil {
		p.log.Warn().Err(err).Int64("battle_id", battle.ID).Msg("battle token rejected")
		return nil, model.BattleStatusInvalidBattle, nil
	}
	return action, "", nil
}

// settle runs the one settlement transaction: claim, deduct, apply, log.
func (p *BattleProcessor) settle(ctx context.Context, battle *model.Battle, season *model.Season, opponent *model.AvailableOpponent, victory bool, myDelta, oppDelta int) error {
	roundStatus, err := p.store.TicketStatusPerRound(ctx, battle.RoundID, battle.AvatarAddress)
	if err != nil {
		return err
	}
	seasonStatus, err := p.store.TicketStatusPerSeason(ctx, battle.SeasonID, battle.AvatarAddress)
	if err != nil {
		return err
	}

	winDelta, loseDelta := 0, 1
	if victory {
		winDelta, loseDelta = 1, 0
	}

	return p.store.WithTx(ctx, sql.LevelReadCommitted, func(tx *sql.Tx) error {
		claimed, err := p.store.ClaimOpponentTx(ctx, tx, opponent.ID, battle.ID)
		if err != nil {
			return err
		}
		if !claimed {
			return errAlreadyClaimed
		}
		deducted, err := p.store.DeductTicketTx(ctx, tx, roundStatus.ID)
		if err != nil {
			return err
		}
		if !deducted {
			return errNoTicket
		}
		if err := p.store.IncrementSeasonUsedTx(ctx, tx, seasonStatus.ID); err != nil {
			return err
		}
		if err := p.store.ApplyBattleResultTx(ctx, tx, battle.SeasonID, battle.AvatarAddress, myDelta, winDelta, loseDelta); err != nil {
			return err
		}
		if err := p.store.ApplyBattleResultTx(ctx, tx, battle.SeasonID, opponent.OpponentAddress, oppDelta, 0, 0); err != nil {
			return err
		}
		if err := p.store.FinalizeBattleTx(ctx, tx, battle.ID, victory, myDelta, oppDelta); err != nil {
			return err
		}
		return p.store.InsertUsageLogTx(ctx, tx, roundStatus.ID, seasonStatus.ID, battle.ID)
	})
}

// updateCaches applies the settled deltas to the next round's rankings. The
// database already holds the truth; cache failures are logged and left for
// the next preparation or restore to reconcile.
func (p *BattleProcessor) updateCaches(ctx context.Context, battle *model.Battle, season *model.Season, opponent *model.AvailableOpponent, myDelta, oppDelta int) {
	next, ok := nextRound(season, battle.RoundID)
	if !ok {
		p.log.Debug().Int("round_id", battle.RoundID).Msg("last round of season, no cache to update")
		return
	}

	p.applyCacheDelta(ctx, season, next.ID, battle.AvatarAddress, myDelta)
	if oppDelta != 0 {
		p.applyCacheDelta(ctx, season, next.ID, opponent.OpponentAddress, oppDelta)
	}
}

func (p *BattleProcessor) applyCacheDelta(ctx context.Context, season *model.Season, roundID int, addr model.Address, delta int) {
	oldScore, err := p.scopes.Global.GetScore(ctx, addr, season.ID, roundID)
	if err != nil {
		p.log.Warn().Err(err).Str("avatar", addr.String()).Msg("cache score read failed, skipping cache update")
		return
	}
	if err := p.scopes.Global.UpdateScore(ctx, addr, season.ID, roundID, delta); err != nil {
		p.log.Warn().Err(err).Str("avatar", addr.String()).Msg("global cache update failed")
		return
	}
	if err := p.scopes.Group.UpdateScore(ctx, addr, season.ID, roundID, oldScore, oldScore+delta, season.RoundInterval); err != nil {
		p.log.Warn().Err(err).Str("avatar", addr.String()).Msg("group cache update failed")
	}

	participant, err := p.store.Participant(ctx, season.ID, addr)
	if err != nil || participant.ClanID == nil {
		return
	}
	if err := p.scopes.Clan.UpdateScore(ctx, *participant.ClanID, addr, season.ID, roundID, delta); err != nil {
		p.log.Warn().Err(err).Int("clan_id", *participant.ClanID).Msg("clan cache update failed")
		return
	}
	if err := p.scopes.AllClan.UpdateScore(ctx, *participant.ClanID, season.ID, roundID, delta); err != nil {
		p.log.Warn().Err(err).Int("clan_id", *participant.ClanID).Msg("all-clan cache update failed")
	}
}

func (p *BattleProcessor) reject(ctx context.Context, battleID int64, status model.BattleStatus, txStatus *model.TxStatus, exceptionNames *string) error {
	return p.store.UpdateBattleStatus(ctx, battleID, status, txStatus, exceptionNames)
}

// scoreDeltas maps a settled outcome to the score changes of both sides: a
// victory earns the bucket's win score and costs the defender one point; a
// loss costs the bucket's lose score and leaves the defender untouched.
func scoreDeltas(g ranking.Group, victory bool) (myDelta, oppDelta int) {
	if victory {
		return g.WinScore, -1
	}
	return g.LoseScore, 0
}

func nextRound(season *model.Season, roundID int) (model.Round, bool) {
	for i, r := range season.Rounds {
		if r.ID == roundID && i+1 < len(season.Rounds) {
			return season.Rounds[i+1], true
		}
	}
	return model.Round{}, false
}

func isTerminalBattle(status model.BattleStatus) bool {
	switch status {
	case model.BattleStatusSuccess,
		model.BattleStatusDuplicateTransaction,
		model.BattleStatusNotFoundBattleAction,
		model.BattleStatusInvalidBattle,
		model.BattleStatusNoRemainingTicket,
		model.BattleStatusTxFailed:
		return true
	}
	return false
}
