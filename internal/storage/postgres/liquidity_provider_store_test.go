package postgres

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-indexer/internal/domain"
	"dex-indexer/internal/storage"
)

func TestLiquidityProviderStore_Lifecycle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	users := NewUserStore(pool)
	store := NewLiquidityProviderStore(pool)
	ctx := context.Background()

	u, err := users.Create(ctx, &domain.User{Address: "0xa"})
	require.NoError(t, err)

	created, err := store.Create(ctx, &domain.LiquidityProvider{
		UserID:        &u.ID,
		Address:       "0xA",
		TotalShares:   dec(50),
		PoolLiquidity: map[string]decimal.Decimal{"0xP": dec(50)},
	})
	require.NoError(t, err)
	require.NotNil(t, created.UserID)
	assert.Equal(t, u.ID, *created.UserID)
	assert.True(t, created.SharesIn("0xp").Equal(dec(50)))

	require.NoError(t, store.Mint(ctx, "0xa", "0xp", dec(30)))
	require.NoError(t, store.Mint(ctx, "0xa", "0xq", dec(7)))
	require.NoError(t, store.Burn(ctx, "0xA", "0xP", dec(20)))

	lp, err := store.GetByAddress(ctx, "0xa")
	require.NoError(t, err)
	assert.True(t, lp.TotalShares.Equal(dec(67)), "total = %s", lp.TotalShares)
	assert.True(t, lp.SharesIn("0xp").Equal(dec(60)), "p = %s", lp.SharesIn("0xp"))
	assert.True(t, lp.SharesIn("0xq").Equal(dec(7)))

	err = store.Burn(ctx, "0xa", "0xq", dec(8))
	assert.ErrorIs(t, err, storage.ErrNegativeBalance)

	lp, err = store.GetByAddress(ctx, "0xa")
	require.NoError(t, err)
	assert.True(t, lp.TotalShares.Equal(dec(67)), "rejected burn must not change totals")
}

func TestLiquidityProviderStore_Errors(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewLiquidityProviderStore(pool)
	ctx := context.Background()

	assert.ErrorIs(t, store.Burn(ctx, "0xnone", "0xp", dec(1)), storage.ErrNotFound)
	assert.ErrorIs(t, store.Mint(ctx, "0xnone", "0xp", dec(1)), storage.ErrNotFound)

	_, err := store.GetByAddress(ctx, "0xnone")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	lp := &domain.LiquidityProvider{Address: "0xb", TotalShares: dec(1), PoolLiquidity: map[string]decimal.Decimal{"0xp": dec(1)}}
	_, err = store.Create(ctx, lp)
	require.NoError(t, err)
	_, err = store.Create(ctx, lp)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	assert.ErrorIs(t, store.Mint(ctx, "0xb", "0xp", decimal.RequireFromString("0.5")), storage.ErrInvalidInput)
	assert.ErrorIs(t, store.Burn(ctx, "0xb", "0xp", dec(-1)), storage.ErrInvalidInput)
}
