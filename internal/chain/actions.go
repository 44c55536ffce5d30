package chain

import (
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"regexp"

	"arenarank/internal/model"
)

// Action is one raw action from a transaction: its versioned type id and the
// bencodex payload under "values".
type Action struct {
	TypeID string
	Values Dict
}

var (
	battleActionRe   = regexp.MustCompile(`^battle[0-9]*$`)
	transferActionRe = regexp.MustCompile(`^transfer_asset[0-9]*$`)
)

// IsBattleAction reports whether the type id is any version of the battle
// action.
func IsBattleAction(typeID string) bool {
	return battleActionRe.MatchString(typeID)
}

// IsTransferAction reports whether the type id is any version of the asset
// transfer action.
func IsTransferAction(typeID string) bool {
	return transferActionRe.MatchString(typeID)
}

// BattleAction is the decoded battle action payload. Memo carries the signed
// battle token issued at matchmaking time.
type BattleAction struct {
	MyAvatarAddress    model.Address
	EnemyAvatarAddress model.Address
	Memo               string
	ArenaProvider      string
	ChargeAp           bool
	Costumes           [][]byte
	Equipments         [][]byte
}

// ParseBattleAction decodes a battle action, rejecting other action types.
func ParseBattleAction(a Action) (*BattleAction, error) {
	if !IsBattleAction(a.TypeID) {
		return nil, fmt.Errorf("not a battle action: %q", a.TypeID)
	}
	mine, err := addressField(a.Values, "maa")
	if err != nil {
		return nil, err
	}
	enemy, err := addressField(a.Values, "eaa")
	if err != nil {
		return nil, err
	}
	memo, ok := a.Values.Text("m")
	if !ok {
		return nil, fmt.Errorf("battle action %q: missing memo", a.TypeID)
	}
	provider, ok := a.Values.Text("arp")
	if !ok {
		return nil, fmt.Errorf("battle action %q: missing arena provider", a.TypeID)
	}
	out := &BattleAction{
		MyAvatarAddress:    mine,
		EnemyAvatarAddress: enemy,
		Memo:               memo,
		ArenaProvider:      provider,
	}
	if charge, ok := a.Values.Bool("cha"); ok {
		out.ChargeAp = charge
	}
	out.Costumes = bytesListField(a.Values, "cs")
	out.Equipments = bytesListField(a.Values, "es")
	return out, nil
}

// TransferAsset is the decoded transfer_asset payload. Amount is the
// quantity scaled down by the currency's decimal places.
type TransferAsset struct {
	Sender    model.Address
	Recipient model.Address
	Ticker    string
	Amount    float64
	Memo      string
}

// ParseTransferAsset decodes a transfer_asset action, rejecting other
// action types.
func ParseTransferAsset(a Action) (*TransferAsset, error) {
	if !IsTransferAction(a.TypeID) {
		return nil, fmt.Errorf("not a transfer action: %q", a.TypeID)
	}
	sender, err := addressField(a.Values, "sender")
	if err != nil {
		return nil, err
	}
	recipient, err := addressField(a.Values, "recipient")
	if err != nil {
		return nil, err
	}
	amountList, ok := a.Values.List("amount")
	if !ok || len(amountList) != 2 {
		return nil, fmt.Errorf("transfer action %q: malformed amount", a.TypeID)
	}
	currency, ok := amountList[0].(Dict)
	if !ok {
		return nil, fmt.Errorf("transfer action %q: malformed currency", a.TypeID)
	}
	quantity, ok := amountList[1].(Integer)
	if !ok {
		return nil, fmt.Errorf("transfer action %q: malformed quantity", a.TypeID)
	}
	ticker, ok := currency.Text("ticker")
	if !ok {
		return nil, fmt.Errorf("transfer action %q: missing ticker", a.TypeID)
	}
	decimals, ok := currency.Bytes("decimalPlaces")
	if !ok || len(decimals) != 1 {
		return nil, fmt.Errorf("transfer action %q: missing decimal places", a.TypeID)
	}
	out := &TransferAsset{
		Sender:    sender,
		Recipient: recipient,
		Ticker:    ticker,
		Amount:    scaledAmount(quantity.Int, int(decimals[0])),
	}
	if memo, ok := a.Values.Text("memo"); ok {
		out.Memo = memo
	}
	return out, nil
}

func scaledAmount(quantity *big.Int, decimalPlaces int) float64 {
	f, _ := new(big.Float).SetInt(quantity).Float64()
	return f / math.Pow10(decimalPlaces)
}

func addressField(d Dict, key string) (model.Address, error) {
	raw, ok := d.Bytes(key)
	if !ok || len(raw) != 20 {
		return "", fmt.Errorf("missing or malformed address field %q", key)
	}
	return model.NewAddress(hex.EncodeToString(raw))
}

func bytesListField(d Dict, key string) [][]byte {
	list, ok := d.List(key)
	if !ok {
		return nil
	}
	out := make([][]byte, 0, len(list))
	for _, v := range list {
		if b, ok := v.(Binary); ok {
			out = append(out, []byte(b))
		}
	}
	return out
}
