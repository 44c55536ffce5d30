package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"arenarank/internal/model"
)

// Transaction is one chain transaction with its decoded actions.
type Transaction struct {
	ID      model.TxID
	Signer  model.Address
	Actions []Action
}

// TxResult is the node's execution verdict for one transaction.
type TxResult struct {
	Status         model.TxStatus
	BlockIndex     int64
	ExceptionNames []string
}

// BattleOutcome is the derived battle-result state written by the chain
// after a battle action executes.
type BattleOutcome struct {
	IsVictory bool
}

// Client is the read surface against the chain node. Implementations must
// wrap transport failures in ErrUnavailable and absent data in ErrNotFound.
type Client interface {
	// TipHeight returns the current chain tip index.
	TipHeight(ctx context.Context) (int64, error)

	// TransactionsByHeightRange returns all staged and successful
	// transactions carrying at least one action matching actionTypeRe,
	// starting at height start and covering limit blocks.
	TransactionsByHeightRange(ctx context.Context, start int64, limit int, actionTypeRe string) ([]Transaction, error)

	// TransactionByID returns one transaction with decoded actions.
	TransactionByID(ctx context.Context, id model.TxID) (*Transaction, error)

	// TransactionResult returns the execution status of a transaction.
	TransactionResult(ctx context.Context, id model.TxID) (TxResult, error)

	// BattleOutcome reads the derived battle-result account state for the
	// avatar that initiated the battle.
	BattleOutcome(ctx context.Context, avatar model.Address) (*BattleOutcome, error)
}

// GraphQLClient implements Client against a headless node's GraphQL
// endpoint.
type GraphQLClient struct {
	endpoint string
	http     *http.Client
	log      zerolog.Logger
}

func NewGraphQLClient(endpoint string, log zerolog.Logger) *GraphQLClient {
	return &GraphQLClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
		log:      log,
	}
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

func (c *GraphQLClient) query(ctx context.Context, q string, vars map[string]any, out any) error {
	body, err := json.Marshal(gqlRequest{Query: q, Variables: vars})
	if err != nil {
		return fmt.Errorf("marshal query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: http %d", ErrUnavailable, resp.StatusCode)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []gqlError      `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("%w: %s", ErrUnavailable, envelope.Errors[0].Message)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("%w: decode data: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *GraphQLClient) TipHeight(ctx context.Context) (int64, error) {
	var data struct {
		NodeStatus struct {
			Tip struct {
				Index int64 `json:"index"`
			} `json:"tip"`
		} `json:"nodeStatus"`
	}
	err := c.query(ctx, `query { nodeStatus { tip { index } } }`, nil, &data)
	if err != nil {
		return 0, err
	}
	return data.NodeStatus.Tip.Index, nil
}

const txRangeQuery = `query($start: Long!, $limit: Long!, $actionType: String!) {
  transaction {
    ncTransactions(startingBlockIndex: $start, limit: $limit, actionType: $actionType, txStatusFilter: [SUCCESS, STAGING]) {
      id
      signer
      serializedPayload
    }
  }
}`

func (c *GraphQLClient) TransactionsByHeightRange(ctx context.Context, start int64, limit int, actionTypeRe string) ([]Transaction, error) {
	var data struct {
		Transaction struct {
			NcTransactions []struct {
				ID                string `json:"id"`
				Signer            string `json:"signer"`
				SerializedPayload string `json:"serializedPayload"`
			} `json:"ncTransactions"`
		} `json:"transaction"`
	}
	vars := map[string]any{"start": start, "limit": limit, "actionType": actionTypeRe}
	if err := c.query(ctx, txRangeQuery, vars, &data); err != nil {
		return nil, err
	}

	txs := make([]Transaction, 0, len(data.Transaction.NcTransactions))
	for _, raw := range data.Transaction.NcTransactions {
		tx, err := c.buildTransaction(raw.ID, raw.Signer, raw.SerializedPayload)
		if err != nil {
			// Undecodable payloads cannot be battle actions; skip them
			// rather than stalling the scan window.
			c.log.Warn().Err(err).Str("tx_id", raw.ID).Msg("skipping undecodable transaction")
			continue
		}
		txs = append(txs, *tx)
	}
	return txs, nil
}

const txByIDQuery = `query($id: TxId!) {
  transaction {
    getTx(txId: $id) {
      id
      signer
      serializedPayload
    }
  }
}`

func (c *GraphQLClient) TransactionByID(ctx context.Context, id model.TxID) (*Transaction, error) {
	var data struct {
		Transaction struct {
			GetTx *struct {
				ID                string `json:"id"`
				Signer            string `json:"signer"`
				SerializedPayload string `json:"serializedPayload"`
			} `json:"getTx"`
		} `json:"transaction"`
	}
	if err := c.query(ctx, txByIDQuery, map[string]any{"id": string(id)}, &data); err != nil {
		return nil, err
	}
	if data.Transaction.GetTx == nil {
		return nil, fmt.Errorf("%w: tx %s", ErrNotFound, id)
	}
	t := data.Transaction.GetTx
	return c.buildTransaction(t.ID, t.Signer, t.SerializedPayload)
}

const txResultQuery = `query($id: TxId!) {
  transaction {
    transactionResult(txId: $id) {
      txStatus
      blockIndex
      exceptionNames
    }
  }
}`

func (c *GraphQLClient) TransactionResult(ctx context.Context, id model.TxID) (TxResult, error) {
	var data struct {
		Transaction struct {
			TransactionResult *struct {
				TxStatus       string   `json:"txStatus"`
				BlockIndex     *int64   `json:"blockIndex"`
				ExceptionNames []string `json:"exceptionNames"`
			} `json:"transactionResult"`
		} `json:"transaction"`
	}
	if err := c.query(ctx, txResultQuery, map[string]any{"id": string(id)}, &data); err != nil {
		return TxResult{}, err
	}
	r := data.Transaction.TransactionResult
	if r == nil {
		return TxResult{}, fmt.Errorf("%w: tx result %s", ErrNotFound, id)
	}
	out := TxResult{Status: model.TxStatus(r.TxStatus), ExceptionNames: r.ExceptionNames}
	if r.BlockIndex != nil {
		out.BlockIndex = *r.BlockIndex
	}
	return out, nil
}

const battleOutcomeQuery = `query($avatar: Address!) {
  stateQuery {
    arenaBattleResult(avatarAddress: $avatar) {
      isVictory
    }
  }
}`

func (c *GraphQLClient) BattleOutcome(ctx context.Context, avatar model.Address) (*BattleOutcome, error) {
	var data struct {
		StateQuery struct {
			ArenaBattleResult *struct {
				IsVictory bool `json:"isVictory"`
			} `json:"arenaBattleResult"`
		} `json:"stateQuery"`
	}
	if err := c.query(ctx, battleOutcomeQuery, map[string]any{"avatar": "0x" + avatar.String()}, &data); err != nil {
		return nil, err
	}
	if data.StateQuery.ArenaBattleResult == nil {
		return nil, fmt.Errorf("%w: battle result for %s", ErrNotFound, avatar)
	}
	return &BattleOutcome{IsVictory: data.StateQuery.ArenaBattleResult.IsVictory}, nil
}

// buildTransaction decodes the base64 bencodex payload and extracts the
// action list (payload key "a"): each element is a dict of type_id/values.
func (c *GraphQLClient) buildTransaction(id, signer, payload string) (*Transaction, error) {
	signerAddr, err := model.NewAddress(signer)
	if err != nil {
		return nil, fmt.Errorf("tx %s: bad signer: %w", id, err)
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("tx %s: payload base64: %w", id, err)
	}
	v, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("tx %s: payload bencodex: %w", id, err)
	}
	dict, ok := v.(Dict)
	if !ok {
		return nil, fmt.Errorf("tx %s: payload is not a dictionary", id)
	}
	actionsList, ok := dict.List("a")
	if !ok {
		return nil, fmt.Errorf("tx %s: payload has no action list", id)
	}

	actions := make([]Action, 0, len(actionsList))
	for _, av := range actionsList {
		ad, ok := av.(Dict)
		if !ok {
			continue
		}
		typeID, ok := ad.Text("type_id")
		if !ok {
			continue
		}
		values, ok := ad.Dict("values")
		if !ok {
			values = Dict{}
		}
		actions = append(actions, Action{TypeID: typeID, Values: values})
	}
	return &Transaction{ID: model.TxID(id), Signer: signerAddr, Actions: actions}, nil
}
