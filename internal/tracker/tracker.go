// Package tracker scans the chain for battle transactions, binds them to
// their battle rows via the signed token in the action memo, and enqueues
// settlement jobs.
package tracker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"arenarank/internal/chain"
	"arenarank/internal/observability"
	"arenarank/internal/persistence"
	"arenarank/internal/ranking"
	"arenarank/internal/settlement"
	"arenarank/internal/token"
)

// BattleActionType is the regex the node filters transactions by.
const BattleActionType = "^battle[0-9]*$"

// Config tunes the scan loop.
type Config struct {
	TickInterval time.Duration

	// FastForwardGap is the backlog, in blocks, past which the tracker
	// gives up on history and jumps near the tip. Transactions in the
	// skipped range are never settled; availability wins over
	// completeness here.
	FastForwardGap int64

	// FastForwardOffset is how far behind the tip the cursor lands after
	// a fast-forward.
	FastForwardOffset int64
}

func DefaultConfig() Config {
	return Config{
		TickInterval:      time.Second,
		FastForwardGap:    50_000,
		FastForwardOffset: 100,
	}
}

// Tracker owns the scan cursor and the bind-and-publish pipeline.
type Tracker struct {
	cursor     *ranking.BlockCursor
	chain      chain.Client
	store      *persistence.Store
	validator  *token.Validator
	dispatcher *settlement.Dispatcher
	cfg        Config
	metrics    *observability.Metrics
	log        zerolog.Logger
}

func New(cursor *ranking.BlockCursor, chainClient chain.Client, store *persistence.Store, validator *token.Validator, dispatcher *settlement.Dispatcher, cfg Config, metrics *observability.Metrics, log zerolog.Logger) *Tracker {
	return &Tracker{
		cursor:     cursor,
		chain:      chainClient,
		store:      store,
		validator:  validator,
		dispatcher: dispatcher,
		cfg:        cfg,
		metrics:    metrics,
		log:        log,
	}
}

// Run scans until the context ends. Tick failures are logged and retried on
// the next tick; the cursor only advances after a window is fully
// processed, so a crash mid-window replays it (binding and publishing are
// idempotent).
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		t.metrics.LoopTicks.WithLabelValues("tracker").Inc()
		if err := t.tick(ctx); err != nil {
			t.metrics.LoopErrors.WithLabelValues("tracker", "transient").Inc()
			t.log.Warn().Err(err).Msg("tracker tick failed")
		}
	}
}

func (t *Tracker) tick(ctx context.Context) error {
	cursor, err := t.cursor.Get(ctx)
	if err != nil {
		return err
	}
	tip, err := t.chain.TipHeight(ctx)
	if err != nil {
		return err
	}

	gap := tip - cursor
	t.metrics.TrackerCursorLag.Set(float64(gap))
	if gap <= 0 {
		return nil
	}

	if gap > t.cfg.FastForwardGap {
		fastForwarded := tip - t.cfg.FastForwardOffset
		t.log.Error().
			Int64("cursor", cursor).
			Int64("tip", tip).
			Int64("gap", gap).
			Int64("new_cursor", fastForwarded).
			Msg("catastrophic backlog, fast-forwarding cursor and abandoning the skipped range")
		t.metrics.TrackerFastForwards.Inc()
		return t.cursor.Set(ctx, fastForwarded)
	}

	window := WindowSize(gap)
	start := cursor + 1
	txs, err := chain.Retry(ctx, chain.DefaultRetryAttempts, chain.DefaultRetryDelay,
		func(ctx context.Context) ([]chain.Transaction, error) {
			return t.chain.TransactionsByHeightRange(ctx, start, window, BattleActionType)
		})
	if err != nil {
		return err
	}

	for _, tx := range txs {
		t.metrics.TrackerTxSeen.Inc()
		if err := t.bind(ctx, tx); err != nil {
			return err
		}
	}

	advanced := cursor + int64(window)
	if advanced > tip {
		advanced = tip
	}
	return t.cursor.Set(ctx, advanced)
}

// WindowSize maps the cursor's backlog to how many blocks one tick covers:
// stay small near the tip to keep latency down, widen when catching up.
func WindowSize(gap int64) int {
	switch {
	case gap <= 10:
		return 1
	case gap <= 30:
		return 5
	case gap <= 50:
		return 10
	default:
		return 30
	}
}

// bind matches one transaction to its battle row and enqueues settlement.
// Transactions without a parseable battle action or a valid token belong to
// other providers and are skipped silently.
func (t *Tracker) bind(ctx context.Context, tx chain.Transaction) error {
	var action *chain.BattleAction
	for _, a := range tx.Actions {
		if !chain.IsBattleAction(a.TypeID) {
			continue
		}
		parsed, err := chain.ParseBattleAction(a)
		if err != nil {
			continue
		}
		action = parsed
		break
	}
	if action == nil {
		return nil
	}

	battleID, err := t.validator.Parse(action.Memo)
	if err != nil {
		// Genuine battle action, but not ours.
		t.log.Debug().Str("tx_id", tx.ID.String()).Msg("battle action with foreign token")
		return nil
	}
	t.metrics.TrackerTxMatched.Inc()

	bound, err := t.store.BindBattleTx(ctx, battleID, tx.ID)
	if err != nil {
		return err
	}
	if !bound {
		// Already bound on a previous pass over this window.
		return nil
	}
	t.log.Info().Int64("battle_id", battleID).Str("tx_id", tx.ID.String()).Msg("battle transaction bound")

	return t.dispatcher.PublishBattle(ctx, settlement.BattleJob{BattleID: battleID, TxID: tx.ID})
}
