package ingestion

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"dex-indexer/internal/chain"
	"dex-indexer/internal/chain/stub"
	"dex-indexer/internal/storage/memory"
)

var (
	factoryAddr = common.HexToAddress("0x00000000000000000000000000000000000000Fa")
	tokenA      = common.HexToAddress("0x0000000000000000000000000000000000000AAA")
	tokenB      = common.HexToAddress("0x0000000000000000000000000000000000000BBB")
	pairC       = common.HexToAddress("0x0000000000000000000000000000000000000CCC")
	pairE       = common.HexToAddress("0x0000000000000000000000000000000000000EEE")
	senderD     = common.HexToAddress("0x0000000000000000000000000000000000000DDD")
	traderF     = common.HexToAddress("0x0000000000000000000000000000000000000FFF")
)

type fixture struct {
	pools      *memory.PoolStore
	users      *memory.UserStore
	lps        *memory.LiquidityProviderStore
	events     *memory.EventStore
	reserves   *stub.ReserveReader
	reconciler *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		pools:    memory.NewPoolStore(),
		users:    memory.NewUserStore(),
		lps:      memory.NewLiquidityProviderStore(),
		events:   memory.NewEventStore(),
		reserves: stub.NewReserveReader(),
	}
	f.reconciler = NewReconciler(ReconcilerOptions{
		Pools:    f.pools,
		Users:    f.users,
		LPs:      f.lps,
		Events:   f.events,
		Reserves: f.reserves,
	})
	return f
}

// logAt builds a decoded log with a transaction hash unique to (block, index).
func logAt(emitter common.Address, block uint64, index uint, ev chain.Event) chain.Log {
	return chain.Log{
		Event:       ev,
		Address:     emitter,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block*10_000 + uint64(index))),
		BlockNumber: block,
		Index:       index,
	}
}

func pairCreated(pair common.Address) *chain.PairCreated {
	return &chain.PairCreated{Token0: tokenA, Token1: tokenB, Pair: pair, PoolCount: big.NewInt(1)}
}

func mint(sender common.Address, amount0, amount1, liquidity int64) *chain.Mint {
	return &chain.Mint{
		Sender:    sender,
		Amount0:   big.NewInt(amount0),
		Amount1:   big.NewInt(amount1),
		Liquidity: big.NewInt(liquidity),
	}
}

func burn(sender common.Address, amount0, amount1, liquidity int64) *chain.Burn {
	return &chain.Burn{
		Sender:    sender,
		To:        sender,
		Amount0:   big.NewInt(amount0),
		Amount1:   big.NewInt(amount1),
		Liquidity: big.NewInt(liquidity),
	}
}

func swap(sender common.Address, in, out int64) *chain.Swap {
	return &chain.Swap{
		Sender:    sender,
		TokenIn:   tokenA,
		TokenOut:  tokenB,
		AmountIn:  big.NewInt(in),
		AmountOut: big.NewInt(out),
	}
}

func lower(a common.Address) string {
	return hexAddr(a)
}

func assertDecimal(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(decimal.NewFromInt(want)), "want %d, got %s", want, got.String())
}

func big1() *big.Int { return big.NewInt(1) }
