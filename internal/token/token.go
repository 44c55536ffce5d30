// Package token issues and verifies the signed battle tokens carried in the
// memo field of on-chain battle actions. A token binds one battle id to one
// provider, so the tracker and settlement can prove a transaction was staged
// through this service.
package token

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// TokenLifetime is how long a battle token stays valid after issue.
	// Battles are fought within minutes; six hours absorbs chain delays.
	TokenLifetime = 6 * time.Hour
)

var (
	ErrInvalidToken = errors.New("invalid battle token")
	// ErrBattleIDMismatch means the token is genuine but was issued for a
	// different battle.
	ErrBattleIDMismatch = errors.New("battle token issued for another battle")
)

// Claims is the battle token payload. BattleID lives in the private "bid"
// claim.
type Claims struct {
	BattleID int64 `json:"bid"`
	jwt.RegisteredClaims
}

// Generator signs battle tokens with the service's RSA key.
type Generator struct {
	key      *rsa.PrivateKey
	issuer   string
	audience string
}

func NewGenerator(key *rsa.PrivateKey, issuer, audience string) *Generator {
	return &Generator{key: key, issuer: issuer, audience: audience}
}

// Issue signs a token for one battle.
func (g *Generator) Issue(battleID int64, now time.Time) (string, error) {
	claims := Claims{
		BattleID: battleID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    g.issuer,
			Audience:  jwt.ClaimStrings{g.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenLifetime)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(g.key)
	if err != nil {
		return "", fmt.Errorf("sign battle token: %w", err)
	}
	return signed, nil
}

// Validator verifies battle tokens against the service's public key.
type Validator struct {
	key      *rsa.PublicKey
	issuer   string
	audience string
}

func NewValidator(key *rsa.PublicKey, issuer, audience string) *Validator {
	return &Validator{key: key, issuer: issuer, audience: audience}
}

// Parse verifies the signature, issuer, audience and expiry, and returns
// the embedded battle id. Used by the tracker, which learns the battle id
// from the token itself.
func (v *Validator) Parse(raw string) (int64, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.key, nil
	}, jwt.WithIssuer(v.issuer), jwt.WithAudience(v.audience), jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.BattleID <= 0 {
		return 0, fmt.Errorf("%w: missing battle id", ErrInvalidToken)
	}
	return claims.BattleID, nil
}

// Validate verifies the token and checks it was issued for the expected
// battle. Used by settlement, which already knows which battle it is
// settling.
func (v *Validator) Validate(raw string, battleID int64) error {
	bid, err := v.Parse(raw)
	if err != nil {
		return err
	}
	if bid != battleID {
		return fmt.Errorf("%w: token bid %d, battle %d", ErrBattleIDMismatch, bid, battleID)
	}
	return nil
}
