// Package matchmaking produces candidate opponent sets and opens battles
// against them. Selection runs against the ranking caches; the chosen set
// is persisted so settlement can later verify the fought opponent was
// actually offered.
package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"arenarank/internal/model"
	"arenarank/internal/observability"
	"arenarank/internal/persistence"
	"arenarank/internal/ranking"
	"arenarank/internal/settlement"
	"arenarank/internal/token"
)

// ErrOpponentUnavailable means the requested candidate row does not belong
// to the requester, was replaced, or is already consumed.
var ErrOpponentUnavailable = errors.New("opponent unavailable")

// ErrInvalidPurchase means the purchase request failed validation before a
// log row was created.
var ErrInvalidPurchase = errors.New("invalid purchase request")

// PurchasePublisher enqueues ticket purchase settlement jobs.
type PurchasePublisher interface {
	PublishPurchase(ctx context.Context, job settlement.PurchaseJob) error
}

// Service is the matchmaking surface.
type Service struct {
	store     *persistence.Store
	scopes    ranking.Scopes
	generator *token.Generator
	purchases PurchasePublisher
	groups    []ranking.Group
	fallback  map[int][]int
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewService(store *persistence.Store, scopes ranking.Scopes, generator *token.Generator, purchases PurchasePublisher, groups []ranking.Group, fallback map[int][]int, metrics *observability.Metrics, log zerolog.Logger) *Service {
	return &Service{
		store:     store,
		scopes:    scopes,
		generator: generator,
		purchases: purchases,
		groups:    groups,
		fallback:  fallback,
		metrics:   metrics,
		log:       log,
	}
}

// RefreshOpponents draws a fresh five-opponent set from the score-group
// ladder and replaces the requester's stored candidate set.
func (s *Service) RefreshOpponents(ctx context.Context, addr model.Address, seasonID, roundID int) ([]model.AvailableOpponent, error) {
	score, err := s.scopes.Global.GetScore(ctx, addr, seasonID, roundID)
	if err != nil {
		return nil, err
	}

	opponents, depth, err := s.scopes.Group.SelectOpponents(ctx, addr, score, seasonID, roundID, s.groups, s.fallback)
	if err != nil {
		if errors.Is(err, ranking.ErrMatchmakingFailed) {
			s.metrics.MatchmakingFailures.WithLabelValues("unfilled").Inc()
		}
		return nil, err
	}
	s.metrics.OpponentSelections.Inc()
	s.metrics.FallbackDepth.Observe(float64(depth))

	rows := make([]model.AvailableOpponent, 0, len(opponents))
	for _, o := range opponents {
		rows = append(rows, model.AvailableOpponent{
			AvatarAddress:   addr,
			RoundID:         roundID,
			OpponentAddress: o.AvatarAddress,
			GroupID:         o.GroupID,
		})
	}
	stored, err := s.store.ReplaceAvailableOpponents(ctx, addr, roundID, rows)
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("avatar", addr.String()).
		Int("round_id", roundID).
		Int("count", len(stored)).
		Msg("opponent set refreshed")
	return stored, nil
}

// PreviewLadderOpponents draws a set from the global ladder without
// persisting it, for leaderboard-style previews.
func (s *Service) PreviewLadderOpponents(ctx context.Context, addr model.Address, seasonID, roundID int, isFirstRound bool) ([]ranking.Opponent, error) {
	opponents, err := s.scopes.Global.SelectOpponents(ctx, addr, seasonID, roundID, isFirstRound, s.groups, s.fallback)
	if err != nil {
		if errors.Is(err, ranking.ErrMatchmakingFailed) {
			s.metrics.MatchmakingFailures.WithLabelValues("population").Inc()
		}
		return nil, err
	}
	s.metrics.OpponentSelections.Inc()
	return opponents, nil
}

// OpenBattle creates a PENDING battle against one offered opponent and
// issues the battle token the client must embed in the on-chain action.
func (s *Service) OpenBattle(ctx context.Context, addr model.Address, seasonID, roundID int, opponentID int64) (*model.Battle, string, error) {
	opponent, err := s.store.AvailableOpponent(ctx, opponentID)
	if err != nil {
		return nil, "", err
	}
	if opponent.AvatarAddress != addr || opponent.RoundID != roundID {
		return nil, "", fmt.Errorf("%w: candidate %d", ErrOpponentUnavailable, opponentID)
	}
	if opponent.DeletedAt != nil || opponent.SuccessBattleID != nil {
		return nil, "", fmt.Errorf("%w: candidate %d is stale or consumed", ErrOpponentUnavailable, opponentID)
	}

	battle := &model.Battle{
		AvatarAddress:       addr,
		SeasonID:            seasonID,
		RoundID:             roundID,
		AvailableOpponentID: opponentID,
	}
	id, err := s.store.CreateBattle(ctx, battle)
	if err != nil {
		return nil, "", err
	}
	battle.ID = id

	signed, err := s.generator.Issue(id, time.Now())
	if err != nil {
		return nil, "", err
	}
	if err := s.store.UpdateBattleToken(ctx, id, signed); err != nil {
		return nil, "", err
	}
	battle.Token = signed
	battle.BattleStatus = model.BattleStatusPending

	s.log.Info().
		Int64("battle_id", id).
		Str("avatar", addr.String()).
		Str("opponent", opponent.OpponentAddress.String()).
		Msg("battle opened")
	return battle, signed, nil
}

// PurchaseTickets records a pending on-chain ticket purchase and hands it to
// the settlement pipeline. The log row is created first so a redelivered job
// always finds it; the processor drives the row to a terminal state.
func (s *Service) PurchaseTickets(ctx context.Context, addr model.Address, seasonID, roundID int, txID model.TxID, count int) (int64, error) {
	if count <= 0 {
		return 0, fmt.Errorf("%w: ticket count %d", ErrInvalidPurchase, count)
	}
	season, err := s.store.SeasonByID(ctx, seasonID)
	if err != nil {
		return 0, err
	}
	if count > season.Policy.MaxPurchasableTicketsPerRound {
		return 0, fmt.Errorf("%w: count %d over per-round cap %d", ErrInvalidPurchase, count, season.Policy.MaxPurchasableTicketsPerRound)
	}
	inSeason := false
	for _, r := range season.Rounds {
		if r.ID == roundID {
			inSeason = true
			break
		}
	}
	if !inSeason {
		return 0, fmt.Errorf("%w: round %d is not part of season %d", ErrInvalidPurchase, roundID, seasonID)
	}

	used, err := s.store.ValidateUsedTxID(ctx, txID, 0, 0)
	if err != nil {
		return 0, err
	}
	if used {
		return 0, fmt.Errorf("%w: tx %s", settlement.ErrDuplicateTransaction, txID)
	}

	id, err := s.store.CreatePurchaseLog(ctx, &model.BattleTicketPurchaseLog{
		SeasonID:      seasonID,
		RoundID:       roundID,
		AvatarAddress: addr,
		TxID:          txID,
		PurchaseCount: count,
	})
	if err != nil {
		return 0, err
	}
	if err := s.purchases.PublishPurchase(ctx, settlement.PurchaseJob{PurchaseLogID: id, TxID: txID}); err != nil {
		return 0, err
	}

	s.log.Info().
		Int64("purchase_log_id", id).
		Str("avatar", addr.String()).
		Int("count", count).
		Msg("ticket purchase enqueued")
	return id, nil
}
