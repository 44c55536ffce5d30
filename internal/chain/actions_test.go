package chain_test

import (
	"bytes"
	"math/big"
	"testing"

	"arenarank/internal/chain"
)

func rawAddr(last byte) []byte {
	b := make([]byte, 20)
	b[19] = last
	return b
}

func TestIsBattleAction(t *testing.T) {
	for _, tc := range []struct {
		typeID string
		want   bool
	}{
		{"battle", true},
		{"battle14", true},
		{"battle_royale", false},
		{"transfer_asset5", false},
	} {
		if got := chain.IsBattleAction(tc.typeID); got != tc.want {
			t.Errorf("IsBattleAction(%q): got %v, want %v", tc.typeID, got, tc.want)
		}
	}
}

func TestParseBattleAction(t *testing.T) {
	action := chain.Action{
		TypeID: "battle14",
		Values: chain.Dict{
			"maa": chain.Binary(rawAddr(1)),
			"eaa": chain.Binary(rawAddr(2)),
			"m":   chain.Text("signed-token"),
			"arp": chain.Text("arenarank"),
			"cha": chain.Bool(true),
			"cs":  chain.List{chain.Binary([]byte{0xaa})},
			"es":  chain.List{chain.Binary([]byte{0xbb}), chain.Binary([]byte{0xcc})},
		},
	}

	parsed, err := chain.ParseBattleAction(action)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got, want := parsed.MyAvatarAddress.String(), "0000000000000000000000000000000000000001"; got != want {
		t.Errorf("my avatar: got %s, want %s", got, want)
	}
	if got, want := parsed.EnemyAvatarAddress.String(), "0000000000000000000000000000000000000002"; got != want {
		t.Errorf("enemy avatar: got %s, want %s", got, want)
	}
	if parsed.Memo != "signed-token" {
		t.Errorf("memo: got %q, want signed-token", parsed.Memo)
	}
	if parsed.ArenaProvider != "arenarank" {
		t.Errorf("provider: got %q, want arenarank", parsed.ArenaProvider)
	}
	if !parsed.ChargeAp {
		t.Errorf("charge ap: got false, want true")
	}
	if len(parsed.Costumes) != 1 || !bytes.Equal(parsed.Costumes[0], []byte{0xaa}) {
		t.Errorf("costumes: got %v", parsed.Costumes)
	}
	if len(parsed.Equipments) != 2 {
		t.Errorf("equipments: got %d, want 2", len(parsed.Equipments))
	}
}

func TestParseBattleActionMissingMemo(t *testing.T) {
	action := chain.Action{
		TypeID: "battle",
		Values: chain.Dict{
			"maa": chain.Binary(rawAddr(1)),
			"eaa": chain.Binary(rawAddr(2)),
			"arp": chain.Text("arenarank"),
		},
	}
	if _, err := chain.ParseBattleAction(action); err == nil {
		t.Fatal("expected error for missing memo")
	}
}

func TestParseBattleActionWrongType(t *testing.T) {
	if _, err := chain.ParseBattleAction(chain.Action{TypeID: "transfer_asset5"}); err == nil {
		t.Fatal("expected error for non-battle type id")
	}
}

func TestParseTransferAsset(t *testing.T) {
	action := chain.Action{
		TypeID: "transfer_asset5",
		Values: chain.Dict{
			"sender":    chain.Binary(rawAddr(3)),
			"recipient": chain.Binary(rawAddr(4)),
			"amount": chain.List{
				chain.Dict{
					"ticker":        chain.Text("NCG"),
					"decimalPlaces": chain.Binary([]byte{2}),
				},
				chain.Integer{Int: big.NewInt(2550)},
			},
			"memo": chain.Text("purchase:42"),
		},
	}

	parsed, err := chain.ParseTransferAsset(action)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Ticker != "NCG" {
		t.Errorf("ticker: got %q, want NCG", parsed.Ticker)
	}
	if parsed.Amount != 25.50 {
		t.Errorf("amount: got %v, want 25.50", parsed.Amount)
	}
	if parsed.Memo != "purchase:42" {
		t.Errorf("memo: got %q", parsed.Memo)
	}
	if got, want := parsed.Recipient.String(), "0000000000000000000000000000000000000004"; got != want {
		t.Errorf("recipient: got %s, want %s", got, want)
	}
}

func TestParseTransferAssetMalformedAmount(t *testing.T) {
	action := chain.Action{
		TypeID: "transfer_asset5",
		Values: chain.Dict{
			"sender":    chain.Binary(rawAddr(3)),
			"recipient": chain.Binary(rawAddr(4)),
			"amount":    chain.List{chain.Text("nope")},
		},
	}
	if _, err := chain.ParseTransferAsset(action); err == nil {
		t.Fatal("expected error for malformed amount")
	}
}
