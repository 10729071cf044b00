package postgres

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-indexer/internal/domain"
	"dex-indexer/internal/storage"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestPoolStore_CreateAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPoolStore(pool)
	ctx := context.Background()

	created, err := store.Create(ctx, "0xPOOL000000000000000000000000000000000001", "0xAAA", "0xBBB")
	require.NoError(t, err)
	assert.Equal(t, "0xpool000000000000000000000000000000000001", created.Address)
	assert.Equal(t, "0xaaa", created.Token0)
	assert.True(t, created.Reserve0.IsZero())
	assert.True(t, created.Swaps.IsZero())

	got, err := store.GetByAddress(ctx, "0xPool000000000000000000000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = store.Create(ctx, "0xpool000000000000000000000000000000000001", "0xaaa", "0xbbb")
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	_, err = store.GetByAddress(ctx, "0xmissing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPoolStore_UpdateReserves(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPoolStore(pool)
	ctx := context.Background()

	_, err := store.Create(ctx, "0xp", "0xa", "0xb")
	require.NoError(t, err)

	huge, err := domain.ParseAmount("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	require.NoError(t, err)

	require.NoError(t, store.UpdateReserves(ctx, "0xp", domain.Reserves{Reserve0: huge, Reserve1: dec(200)}, domain.ReserveOpMint))
	require.NoError(t, store.UpdateReserves(ctx, "0xp", domain.Reserves{Reserve0: dec(1), Reserve1: dec(50)}, domain.ReserveOpBurn))

	p, err := store.GetByAddress(ctx, "0xp")
	require.NoError(t, err)
	assert.True(t, p.Reserve0.Equal(huge.Sub(dec(1))), "reserve0 = %s", p.Reserve0)
	assert.True(t, p.Reserve1.Equal(dec(150)))

	require.NoError(t, store.UpdateReserves(ctx, "0xp", domain.Reserves{Reserve0: dec(90), Reserve1: dec(210)}, domain.ReserveOpSwap))
	p, err = store.GetByAddress(ctx, "0xp")
	require.NoError(t, err)
	assert.True(t, p.Reserve0.Equal(dec(90)))
	assert.True(t, p.Reserve1.Equal(dec(210)))
	assert.True(t, p.Swaps.Equal(dec(1)))

	require.NoError(t, store.UpdateReserves(ctx, "0xp", domain.Reserves{}, domain.ReserveOpCountSwap))
	p, err = store.GetByAddress(ctx, "0xp")
	require.NoError(t, err)
	assert.True(t, p.Swaps.Equal(dec(2)))
	assert.True(t, p.Reserve0.Equal(dec(90)), "count-only update must keep reserves")

	err = store.UpdateReserves(ctx, "0xp", domain.Reserves{Reserve0: dec(91), Reserve1: dec(0)}, domain.ReserveOpBurn)
	assert.ErrorIs(t, err, storage.ErrNegativeBalance)

	err = store.UpdateReserves(ctx, "0xnone", domain.Reserves{Reserve0: dec(1), Reserve1: dec(1)}, domain.ReserveOpMint)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = store.UpdateReserves(ctx, "0xp", domain.Reserves{Reserve0: decimal.RequireFromString("1.5"), Reserve1: dec(1)}, domain.ReserveOpMint)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
	p, err = store.GetByAddress(ctx, "0xp")
	require.NoError(t, err)
	assert.True(t, p.Reserve0.Equal(dec(90)), "rejected update must not change reserves")
}

func TestPoolStore_ConcurrentMints(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPoolStore(pool)
	ctx := context.Background()

	_, err := store.Create(ctx, "0xp", "0xa", "0xb")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.UpdateReserves(ctx, "0xp", domain.Reserves{Reserve0: dec(1), Reserve1: dec(2)}, domain.ReserveOpMint))
		}()
	}
	wg.Wait()

	p, err := store.GetByAddress(ctx, "0xp")
	require.NoError(t, err)
	assert.True(t, p.Reserve0.Equal(dec(25)))
	assert.True(t, p.Reserve1.Equal(dec(50)))
}

func TestPoolStore_GetAll(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPoolStore(pool)
	ctx := context.Background()

	for _, addr := range []string{"0xc", "0xa", "0xb"} {
		_, err := store.Create(ctx, addr, "0x1", "0x2")
		require.NoError(t, err)
	}

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "0xc", all[0].Address)
	assert.Equal(t, "0xb", all[2].Address)
}
