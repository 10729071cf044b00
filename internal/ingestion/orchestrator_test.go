package ingestion

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-indexer/internal/chain"
	"dex-indexer/internal/chain/stub"
	"dex-indexer/internal/domain"
)

func newTestOrchestrator(t *testing.T, f *fixture, source chain.LogSource) *Orchestrator {
	t.Helper()
	return NewOrchestrator(OrchestratorOptions{
		Source:             source,
		Pools:              f.pools,
		Reconciler:         f.reconciler,
		Factory:            factoryAddr,
		StartupConcurrency: 2,
	})
}

func TestOrchestrator_StartWatchesFactoryAndStoredPools(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, p := range []common.Address{pairE, pairC} {
		_, err := f.pools.Create(ctx, p.Hex(), lower(tokenA), lower(tokenB))
		require.NoError(t, err)
	}
	source := stub.NewLogSource()
	o := newTestOrchestrator(t, f, source)
	assert.Equal(t, StateStopped, o.State())

	require.NoError(t, o.Start(ctx))
	defer o.Stop()

	assert.Equal(t, StateWatchingPools, o.State())
	assert.Equal(t, []string{lower(pairC), lower(pairE)}, o.WatchedPools())
	assert.True(t, source.Watching(factoryAddr))
	assert.True(t, source.Watching(pairC))
	assert.Equal(t, 3, source.Active())

	filters := source.Filters()
	require.NotEmpty(t, filters)
	assert.Equal(t, factoryAddr, filters[0].Address)
	assert.Equal(t, chain.FactoryEvents, filters[0].Events)
	assert.Equal(t, chain.PoolEvents, filters[1].Events)
	assert.Zero(t, filters[1].FromBlock, "stored pools resume at the head")
}

func TestOrchestrator_StartWithoutPools(t *testing.T) {
	f := newFixture(t)
	o := newTestOrchestrator(t, f, stub.NewLogSource())

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	assert.Equal(t, StateWatchingFactory, o.State())
	assert.Empty(t, o.WatchedPools())
	assert.ErrorIs(t, o.Start(context.Background()), ErrAlreadyRunning)
}

func TestOrchestrator_StartManyPoolsBounded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 1; i <= 25; i++ {
		_, err := f.pools.Create(ctx, fmt.Sprintf("0x%040x", i), lower(tokenA), lower(tokenB))
		require.NoError(t, err)
	}
	source := stub.NewLogSource()
	o := newTestOrchestrator(t, f, source)

	require.NoError(t, o.Start(ctx))
	defer o.Stop()

	assert.Len(t, o.WatchedPools(), 25)
	assert.Equal(t, 26, source.Active())
}

func TestOrchestrator_StartFailsWhenFactoryWatchFails(t *testing.T) {
	f := newFixture(t)
	source := stub.NewLogSource()
	source.WatchErr = errors.New("dial tcp: connection refused")
	o := newTestOrchestrator(t, f, source)

	err := o.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateStopped, o.State())
}

func TestOrchestrator_WatchPoolIsIdempotent(t *testing.T) {
	f := newFixture(t)
	source := stub.NewLogSource()
	o := newTestOrchestrator(t, f, source)
	ctx := context.Background()

	assert.ErrorIs(t, o.WatchPool(ctx, pairC.Hex(), 0), ErrNotRunning)

	require.NoError(t, o.Start(ctx))
	defer o.Stop()

	require.NoError(t, o.WatchPool(ctx, pairC.Hex(), 0))
	require.NoError(t, o.WatchPool(ctx, lower(pairC), 0))
	assert.Equal(t, 2, source.Active())
	assert.Equal(t, []string{lower(pairC)}, o.WatchedPools())

	assert.ErrorIs(t, o.WatchPool(ctx, "0x123", 0), domain.ErrInvalidAddress)
}

func TestOrchestrator_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	_, err := f.pools.Create(context.Background(), lower(pairC), lower(tokenA), lower(tokenB))
	require.NoError(t, err)
	source := stub.NewLogSource()
	o := newTestOrchestrator(t, f, source)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, func() bool { return o.State() == StateWatchingPools }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StateStopped, o.State())
	assert.Equal(t, 0, source.Active())
	assert.Empty(t, o.WatchedPools())
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	f := newFixture(t)
	source := stub.NewLogSource()
	o := newTestOrchestrator(t, f, source)
	ctx := context.Background()

	require.NoError(t, o.Start(ctx))
	defer o.Stop()

	source.Emit(logAt(factoryAddr, 10, 0, pairCreated(pairC)))

	pool, err := f.pools.GetByAddress(ctx, "0x0000000000000000000000000000000000000ccc")
	require.NoError(t, err)
	assert.Equal(t, "0x0000000000000000000000000000000000000aaa", pool.Token0)
	assert.Equal(t, "0x0000000000000000000000000000000000000bbb", pool.Token1)
	assertDecimal(t, 0, pool.Reserve0)
	assertDecimal(t, 0, pool.Reserve1)

	created, err := f.events.GetByPool(ctx, lower(pairC))
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, domain.EventTypePairCreated, created[0].Type)

	assert.Equal(t, []string{lower(pairC)}, o.WatchedPools())
	assert.True(t, source.Watching(pairC))
	filters := source.Filters()
	assert.Equal(t, uint64(10), filters[len(filters)-1].FromBlock)

	source.Emit(logAt(pairC, 11, 0, mint(senderD, 100, 200, 50)))

	pool, err = f.pools.GetByAddress(ctx, lower(pairC))
	require.NoError(t, err)
	assertDecimal(t, 100, pool.Reserve0)
	assertDecimal(t, 200, pool.Reserve1)

	lp, err := f.lps.GetByAddress(ctx, "0x0000000000000000000000000000000000000ddd")
	require.NoError(t, err)
	assertDecimal(t, 50, lp.TotalShares)
	assert.Equal(t, map[string]string{lower(pairC): "50"}, stringShares(lp))

	_, err = f.users.GetByAddress(ctx, "0x0000000000000000000000000000000000000DDD")
	assert.NoError(t, err)

	// a replayed PairCreated does not open a second subscription
	source.Emit(logAt(factoryAddr, 10, 0, pairCreated(pairC)))
	assert.Equal(t, 2, source.Active())
}

func stringShares(lp *domain.LiquidityProvider) map[string]string {
	out := make(map[string]string, len(lp.PoolLiquidity))
	for k, v := range lp.PoolLiquidity {
		out[k] = v.String()
	}
	return out
}

// chainLogs serves raw logs by block range and emitter.
type chainLogs struct {
	mu   sync.Mutex
	head uint64
	logs []types.Log
}

func (c *chainLogs) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []types.Log
	for _, l := range c.logs {
		if l.BlockNumber < q.FromBlock.Uint64() || l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if slices.Contains(q.Addresses, l.Address) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (c *chainLogs) BlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *chainLogs) mine(head uint64, logs ...types.Log) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = head
	c.logs = append(c.logs, logs...)
}

func rawLog(t *testing.T, a abi.ABI, name string, emitter common.Address, block uint64, index uint, indexed []common.Address, values ...any) types.Log {
	t.Helper()
	ev := a.Events[name]
	data, err := ev.Inputs.NonIndexed().Pack(values...)
	require.NoError(t, err)

	topics := []common.Hash{ev.ID}
	for _, addr := range indexed {
		topics = append(topics, common.BytesToHash(addr.Bytes()))
	}
	return types.Log{
		Address:     emitter,
		Topics:      topics,
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block*10_000 + uint64(index))),
		Index:       index,
	}
}

func TestOrchestrator_MintInPairCreatedBlock(t *testing.T) {
	f := newFixture(t)
	node := &chainLogs{head: 10}
	o := newTestOrchestrator(t, f, chain.NewPollSource(node, 5*time.Millisecond, nil, nil))
	ctx := context.Background()

	require.NoError(t, o.Start(ctx))
	defer o.Stop()

	node.mine(20,
		rawLog(t, chain.FactoryABI, chain.EventPairCreated, factoryAddr, 11, 0,
			[]common.Address{tokenA, tokenB}, pairC, big.NewInt(1)),
		rawLog(t, chain.PairABI, chain.EventMint, pairC, 11, 1,
			[]common.Address{senderD}, big.NewInt(100), big.NewInt(200), big.NewInt(50)),
	)

	require.Eventually(t, func() bool {
		_, err := f.lps.GetByAddress(ctx, lower(senderD))
		return err == nil
	}, 2*time.Second, 5*time.Millisecond, "mint in the creation block was not indexed")

	pool, err := f.pools.GetByAddress(ctx, lower(pairC))
	require.NoError(t, err)
	assertDecimal(t, 100, pool.Reserve0)
	assertDecimal(t, 200, pool.Reserve1)

	lp, err := f.lps.GetByAddress(ctx, lower(senderD))
	require.NoError(t, err)
	assertDecimal(t, 50, lp.TotalShares)
}
