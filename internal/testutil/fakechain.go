package testutil

import (
	"context"
	"fmt"

	"arenarank/internal/chain"
	"arenarank/internal/model"
)

// FakeChainClient serves canned chain data for tests.
type FakeChainClient struct {
	Tip      int64
	Blocks   map[int64][]chain.Transaction // height -> transactions
	Txs      map[model.TxID]*chain.Transaction
	Results  map[model.TxID]chain.TxResult
	Outcomes map[model.Address]*chain.BattleOutcome

	// Err, when set, is returned by every call.
	Err error
}

var _ chain.Client = (*FakeChainClient)(nil)

func NewFakeChainClient() *FakeChainClient {
	return &FakeChainClient{
		Blocks:   map[int64][]chain.Transaction{},
		Txs:      map[model.TxID]*chain.Transaction{},
		Results:  map[model.TxID]chain.TxResult{},
		Outcomes: map[model.Address]*chain.BattleOutcome{},
	}
}

func (f *FakeChainClient) TipHeight(ctx context.Context) (int64, error) {
	if f.Err != nil {
		return 0, f.Err
	}
	return f.Tip, nil
}

func (f *FakeChainClient) TransactionsByHeightRange(ctx context.Context, start int64, limit int, actionTypeRe string) ([]chain.Transaction, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	var out []chain.Transaction
	for h := start; h < start+int64(limit); h++ {
		out = append(out, f.Blocks[h]...)
	}
	return out, nil
}

func (f *FakeChainClient) TransactionByID(ctx context.Context, id model.TxID) (*chain.Transaction, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	tx, ok := f.Txs[id]
	if !ok {
		return nil, fmt.Errorf("%w: tx %s", chain.ErrNotFound, id)
	}
	return tx, nil
}

func (f *FakeChainClient) TransactionResult(ctx context.Context, id model.TxID) (chain.TxResult, error) {
	if f.Err != nil {
		return chain.TxResult{}, f.Err
	}
	result, ok := f.Results[id]
	if !ok {
		return chain.TxResult{}, fmt.Errorf("%w: tx result %s", chain.ErrNotFound, id)
	}
	return result, nil
}

func (f *FakeChainClient) BattleOutcome(ctx context.Context, avatar model.Address) (*chain.BattleOutcome, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	outcome, ok := f.Outcomes[avatar]
	if !ok {
		return nil, fmt.Errorf("%w: battle result for %s", chain.ErrNotFound, avatar)
	}
	return outcome, nil
}
