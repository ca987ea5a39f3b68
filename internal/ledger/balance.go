package ledger

import (
	"fmt"
	"strings"

	"lukechampine.com/uint128"
)

// Balance is an unsigned 128-bit quantity of the ledger's single asset.
type Balance = uint128.Uint128

// MaxBalance is the largest representable balance, 2^128-1.
var MaxBalance = uint128.Max

// NewBalance converts a uint64 into a Balance.
func NewBalance(v uint64) Balance {
	return uint128.From64(v)
}

// CheckedAdd returns a+b, or false when the sum does not fit in a Balance.
func CheckedAdd(a, b Balance) (Balance, bool) {
	sum := a.AddWrap(b)
	if sum.Cmp(a) < 0 {
		return Balance{}, false
	}
	return sum, true
}

// CheckedSub returns a-b, or false when b exceeds a.
func CheckedSub(a, b Balance) (Balance, bool) {
	if a.Cmp(b) < 0 {
		return Balance{}, false
	}
	return a.SubWrap(b), true
}

// ParseBalance parses a base-10 balance. Signs, fractions and values beyond
// 2^128-1 are rejected.
func ParseBalance(s string) (Balance, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Balance{}, fmt.Errorf("amount is required")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return Balance{}, fmt.Errorf("amount %q must be a non-negative integer", s)
		}
	}
	v, err := uint128.FromString(s)
	if err != nil {
		return Balance{}, fmt.Errorf("amount %q: %w", s, err)
	}
	return v, nil
}
