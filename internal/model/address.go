package model

import (
	"fmt"
	"strings"
)

// Address identifies an avatar (or any on-chain account) as a lowercase
// 40-character hex string without the 0x prefix. All ranking and settlement
// keys are derived from this canonical form.
type Address string

// NewAddress normalizes a raw hex string into the canonical form.
func NewAddress(hex string) (Address, error) {
	h := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(hex), "0x"))
	if len(h) != 40 {
		return "", fmt.Errorf("address must be 40 hex chars, got %d", len(h))
	}
	for _, c := range h {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fmt.Errorf("address contains non-hex char %q", c)
		}
	}
	return Address(h), nil
}

func (a Address) String() string { return string(a) }

// TxID is a transaction id on the external chain, lowercase hex.
type TxID string

func (t TxID) String() string { return string(t) }
