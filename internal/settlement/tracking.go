package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"arenarank/internal/chain"
	"arenarank/internal/model"
)

// ConfirmationTracker polls the chain until a transaction reaches a
// terminal status.
type ConfirmationTracker struct {
	chain    chain.Client
	attempts int
	delay    time.Duration
}

const (
	// DefaultConfirmAttempts * DefaultConfirmDelay bounds the wait at one
	// minute, several block intervals past normal inclusion.
	DefaultConfirmAttempts = 30
	DefaultConfirmDelay    = 2 * time.Second
)

func NewConfirmationTracker(chainClient chain.Client, attempts int, delay time.Duration) *ConfirmationTracker {
	return &ConfirmationTracker{chain: chainClient, attempts: attempts, delay: delay}
}

// Await polls the transaction result until SUCCESS, FAILURE or INVALID.
// STAGING and INCLUDED keep polling; exhausting the window returns
// ErrTxTimeout.
func (t *ConfirmationTracker) Await(ctx context.Context, txID model.TxID) (chain.TxResult, error) {
	for i := 0; i < t.attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return chain.TxResult{}, ctx.Err()
			case <-time.After(t.delay):
			}
		}
		result, err := t.chain.TransactionResult(ctx, txID)
		if err != nil {
			if errors.Is(err, chain.ErrNotFound) {
				// The node may not have indexed the tx yet.
				continue
			}
			return chain.TxResult{}, err
		}
		switch result.Status {
		case model.TxStatusSuccess, model.TxStatusFailure, model.TxStatusInvalid:
			return result, nil
		}
	}
	return chain.TxResult{}, fmt.Errorf("%w: tx %s after %d attempts", ErrTxTimeout, txID, t.attempts)
}
