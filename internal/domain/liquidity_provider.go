package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LiquidityProvider tracks LP shares held by an address, in total and per pool.
// Corresponds to liquidity_providers table in PostgreSQL.
type LiquidityProvider struct {
	ID            int64
	UserID        *int64 // one-to-one link to users.id
	Address       string // lower-case, unique
	TotalShares   decimal.Decimal
	PoolLiquidity map[string]decimal.Decimal // pool address -> shares
	CreatedAt     time.Time
}

// SharesIn returns the shares held in pool, zero if none.
func (lp *LiquidityProvider) SharesIn(pool string) decimal.Decimal {
	if lp.PoolLiquidity == nil {
		return decimal.Zero
	}
	return lp.PoolLiquidity[NormalizeAddress(pool)]
}

// Clone returns a deep copy of lp.
func (lp *LiquidityProvider) Clone() *LiquidityProvider {
	c := *lp
	if lp.UserID != nil {
		id := *lp.UserID
		c.UserID = &id
	}
	c.PoolLiquidity = make(map[string]decimal.Decimal, len(lp.PoolLiquidity))
	for k, v := range lp.PoolLiquidity {
		c.PoolLiquidity[k] = v
	}
	return &c
}
