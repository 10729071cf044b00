package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pool represents a liquidity pool discovered through the factory.
// Corresponds to pools table in PostgreSQL.
type Pool struct {
	ID        int64
	Address   string          // pair contract address, lower-case
	Token0    string          // lower-case
	Token1    string          // lower-case
	Reserve0  decimal.Decimal // numeric(78,0)
	Reserve1  decimal.Decimal // numeric(78,0)
	Swaps     decimal.Decimal // numeric(32,0)
	CreatedAt time.Time
}

// Reserves is a pair of token amounts, used as deltas for mint and burn
// and as absolute values for swap read-backs.
type Reserves struct {
	Reserve0 decimal.Decimal
	Reserve1 decimal.Decimal
}

// ReserveOp selects how Reserves are applied to a pool.
type ReserveOp int

const (
	// ReserveOpMint adds the amounts to the current reserves.
	ReserveOpMint ReserveOp = iota
	// ReserveOpBurn subtracts the amounts from the current reserves.
	ReserveOpBurn
	// ReserveOpSwap replaces the reserves and increments the swap count.
	ReserveOpSwap
	// ReserveOpCountSwap increments the swap count and keeps the reserves.
	// The amounts are ignored.
	ReserveOpCountSwap
)

func (op ReserveOp) String() string {
	switch op {
	case ReserveOpMint:
		return "mint"
	case ReserveOpBurn:
		return "burn"
	case ReserveOpSwap:
		return "swap"
	case ReserveOpCountSwap:
		return "count_swap"
	default:
		return "unknown"
	}
}
