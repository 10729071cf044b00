package chain

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dex-indexer/internal/observability"
)

type fakeWSClient struct {
	mu           sync.Mutex
	sub          *WSSubscription
	queries      []ethereum.FilterQuery
	unsubscribed int
}

func (c *fakeWSClient) SubscribeLogs(_ context.Context, q ethereum.FilterQuery) (*WSSubscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, q)
	c.sub = &WSSubscription{query: q, ch: make(chan types.Log, 16), done: make(chan struct{})}
	return c.sub, nil
}

func (c *fakeWSClient) Unsubscribe(_ context.Context, sub *WSSubscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed++
	sub.stop()
	return nil
}

func (c *fakeWSClient) Close() error { return nil }

func (c *fakeWSClient) Unsubscribed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubscribed
}

// collector gathers handler output across batches.
type collector struct {
	mu   sync.Mutex
	logs []Log
	got  chan struct{}
}

func newCollector() *collector {
	return &collector{got: make(chan struct{}, 64)}
}

func (c *collector) handle(_ context.Context, logs []Log) {
	c.mu.Lock()
	c.logs = append(c.logs, logs...)
	c.mu.Unlock()
	c.got <- struct{}{}
}

func (c *collector) waitFor(t *testing.T, n int) []Log {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		c.mu.Lock()
		if len(c.logs) >= n {
			out := append([]Log(nil), c.logs...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		select {
		case <-c.got:
		case <-deadline:
			t.Fatalf("timed out waiting for %d logs", n)
		}
	}
}

func mintLog(t *testing.T, block uint64, index uint) types.Log {
	l := packLog(t, PairABI, EventMint, testPool,
		[]common.Address{testSender}, big.NewInt(1), big.NewInt(2), big.NewInt(3))
	l.BlockNumber = block
	l.Index = index
	return l
}

func TestWSSource_DeliversDecodedLogs(t *testing.T) {
	client := &fakeWSClient{}
	metrics := observability.NewMetrics(prometheus.NewRegistry(), "")
	src := NewWSSource(client, zap.NewNop(), metrics)
	col := newCollector()

	sub, err := src.Watch(context.Background(), Filter{Address: testPool, Events: PoolEvents}, col.handle)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ActiveSubscriptions))

	removed := mintLog(t, 1, 0)
	removed.Removed = true
	malformed := mintLog(t, 1, 1)
	malformed.Data = malformed.Data[:10]

	client.sub.ch <- removed
	client.sub.ch <- malformed
	client.sub.ch <- mintLog(t, 1, 2)
	client.sub.ch <- mintLog(t, 2, 0)

	logs := col.waitFor(t, 2)
	require.Len(t, logs, 2)
	assert.IsType(t, &Mint{}, logs[0].Event)
	assert.Equal(t, uint(2), logs[0].Index)
	assert.Equal(t, uint64(2), logs[1].BlockNumber)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LogDecodeErrors.WithLabelValues(EventMint)))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.LogsReceived.WithLabelValues(EventMint)))

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Equal(t, 1, client.Unsubscribed())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ActiveSubscriptions))
}

func TestWSSource_ContextCancelReleases(t *testing.T) {
	client := &fakeWSClient{}
	src := NewWSSource(client, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := src.Watch(ctx, Filter{Address: testPool}, func(context.Context, []Log) {})
	require.NoError(t, err)

	cancel()
	sub.Unsubscribe()
	assert.Equal(t, 1, client.Unsubscribed())
}

func TestWSSource_PassesStartBlock(t *testing.T) {
	client := &fakeWSClient{}
	src := NewWSSource(client, nil, nil)

	sub, err := src.Watch(context.Background(), Filter{Address: testPool, Events: PoolEvents, FromBlock: 11}, func(context.Context, []Log) {})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Len(t, client.queries, 1)
	assert.Equal(t, uint64(11), client.queries[0].FromBlock.Uint64())
}

func TestWSSource_UnknownEventName(t *testing.T) {
	src := NewWSSource(&fakeWSClient{}, nil, nil)
	_, err := src.Watch(context.Background(), Filter{Address: testPool, Events: []string{"Sync"}}, nil)
	assert.Error(t, err)
}

func TestDrain(t *testing.T) {
	ch := make(chan types.Log, maxBatch+10)
	for i := 0; i < maxBatch+5; i++ {
		ch <- rawAt(1, uint(i+1))
	}

	batch := drain(ch, rawAt(1, 0))
	assert.Len(t, batch, maxBatch)
	assert.Equal(t, uint(0), batch[0].Index)
	assert.Len(t, ch, 6)
}
