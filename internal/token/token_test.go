package token_test

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	"arenarank/internal/token"
)

func newPair(t *testing.T) (*token.Generator, *token.Validator) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return token.NewGenerator(key, "arenarank", "arena-players"),
		token.NewValidator(&key.PublicKey, "arenarank", "arena-players")
}

func TestIssueAndParse(t *testing.T) {
	gen, val := newPair(t)

	signed, err := gen.Issue(42, time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	bid, err := val.Parse(signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if bid != 42 {
		t.Errorf("battle id: got %d, want 42", bid)
	}
	if err := val.Validate(signed, 42); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestValidateRejectsOtherBattle(t *testing.T) {
	gen, val := newPair(t)

	signed, err := gen.Issue(42, time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	err = val.Validate(signed, 43)
	if !errors.Is(err, token.ErrBattleIDMismatch) {
		t.Fatalf("got %v, want ErrBattleIDMismatch", err)
	}
}

func TestParseRejectsExpired(t *testing.T) {
	gen, val := newPair(t)

	signed, err := gen.Issue(42, time.Now().Add(-token.TokenLifetime-time.Minute))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	_, err = val.Parse(signed)
	if !errors.Is(err, token.ErrInvalidToken) {
		t.Fatalf("got %v, want ErrInvalidToken", err)
	}
}

func TestParseRejectsForeignKey(t *testing.T) {
	gen, _ := newPair(t)
	_, val := newPair(t)

	signed, err := gen.Issue(42, time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := val.Parse(signed); !errors.Is(err, token.ErrInvalidToken) {
		t.Fatalf("got %v, want ErrInvalidToken", err)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	_, val := newPair(t)
	if _, err := val.Parse("not.a.token"); !errors.Is(err, token.ErrInvalidToken) {
		t.Fatalf("got %v, want ErrInvalidToken", err)
	}
}
