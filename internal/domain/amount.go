package domain

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned for amounts that are not unsigned 256-bit integers.
var ErrInvalidAmount = errors.New("invalid amount")

// AmountFromBig converts an on-chain uint256 into a decimal.
func AmountFromBig(v *big.Int) (decimal.Decimal, error) {
	if v == nil || v.Sign() < 0 {
		return decimal.Zero, ErrInvalidAmount
	}
	if _, overflow := uint256.FromBig(v); overflow {
		return decimal.Zero, ErrInvalidAmount
	}
	return decimal.NewFromBigInt(v, 0), nil
}

// ParseAmount parses a base-10 integer amount.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if err := ValidateAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ValidateAmount checks that d is a whole number in [0, 2^256).
func ValidateAmount(d decimal.Decimal) error {
	if d.Sign() < 0 || !d.Equal(d.Truncate(0)) {
		return ErrInvalidAmount
	}
	if _, overflow := uint256.FromBig(d.BigInt()); overflow {
		return ErrInvalidAmount
	}
	return nil
}
