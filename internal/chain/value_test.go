package chain_test

import (
	"math/big"
	"testing"

	"arenarank/internal/chain"
)

func TestDecodeScalars(t *testing.T) {
	cases := []struct {
		name  string
		input string
		check func(t *testing.T, v chain.Value)
	}{
		{"null", "n", func(t *testing.T, v chain.Value) {
			if _, ok := v.(chain.Null); !ok {
				t.Errorf("got %T, want Null", v)
			}
		}},
		{"true", "t", func(t *testing.T, v chain.Value) {
			if b, ok := v.(chain.Bool); !ok || !bool(b) {
				t.Errorf("got %v (%T), want Bool(true)", v, v)
			}
		}},
		{"false", "f", func(t *testing.T, v chain.Value) {
			if b, ok := v.(chain.Bool); !ok || bool(b) {
				t.Errorf("got %v (%T), want Bool(false)", v, v)
			}
		}},
		{"integer", "i42e", func(t *testing.T, v chain.Value) {
			i, ok := v.(chain.Integer)
			if !ok || i.Int.Cmp(big.NewInt(42)) != 0 {
				t.Errorf("got %v (%T), want Integer(42)", v, v)
			}
		}},
		{"negative integer", "i-7e", func(t *testing.T, v chain.Value) {
			i, ok := v.(chain.Integer)
			if !ok || i.Int.Cmp(big.NewInt(-7)) != 0 {
				t.Errorf("got %v (%T), want Integer(-7)", v, v)
			}
		}},
		{"big integer", "i100000000000000000000e", func(t *testing.T, v chain.Value) {
			want, _ := new(big.Int).SetString("100000000000000000000", 10)
			i, ok := v.(chain.Integer)
			if !ok || i.Int.Cmp(want) != 0 {
				t.Errorf("got %v (%T), want Integer(1e20)", v, v)
			}
		}},
		{"text", "u5:hello", func(t *testing.T, v chain.Value) {
			if s, ok := v.(chain.Text); !ok || s != "hello" {
				t.Errorf("got %v (%T), want Text(hello)", v, v)
			}
		}},
		{"binary", "3:abc", func(t *testing.T, v chain.Value) {
			if b, ok := v.(chain.Binary); !ok || string(b) != "abc" {
				t.Errorf("got %v (%T), want Binary(abc)", v, v)
			}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := chain.Decode([]byte(tc.input))
			if err != nil {
				t.Fatalf("decode %q: %v", tc.input, err)
			}
			tc.check(t, v)
		})
	}
}

func TestDecodeListAndDict(t *testing.T) {
	v, err := chain.Decode([]byte("li1eu1:ae"))
	if err != nil {
		t.Fatalf("decode list: %v", err)
	}
	list, ok := v.(chain.List)
	if !ok || len(list) != 2 {
		t.Fatalf("got %v (%T), want 2-element List", v, v)
	}

	v, err = chain.Decode([]byte("du1:mu5:token1:k2:xye"))
	if err != nil {
		t.Fatalf("decode dict: %v", err)
	}
	dict, ok := v.(chain.Dict)
	if !ok {
		t.Fatalf("got %T, want Dict", v)
	}
	if m, ok := dict.Text("m"); !ok || m != "token" {
		t.Errorf("text key m: got %q, %v", m, ok)
	}
	if b, ok := dict.Bytes("k"); !ok || string(b) != "xy" {
		t.Errorf("binary key k: got %q, %v", b, ok)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	for _, input := range []string{
		"",
		"i42",       // unterminated integer
		"u5:ab",     // short text
		"li1e",      // unterminated list
		"d1:k",      // key without value
		"nn",        // trailing bytes
		"x",         // unknown marker
		"u-1:x",     // negative length
		"iwhoopse",  // non-numeric integer
	} {
		if _, err := chain.Decode([]byte(input)); err == nil {
			t.Errorf("decode %q: expected error", input)
		}
	}
}
