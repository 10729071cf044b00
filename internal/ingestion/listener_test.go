package ingestion

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"dex-indexer/internal/chain"
	"dex-indexer/internal/chain/stub"
	"dex-indexer/internal/domain"
	"dex-indexer/internal/storage/memory"
)

func TestListener_StartStopMessages(t *testing.T) {
	source := stub.NewLogSource()
	l := NewListener(source, memory.NewEventStore(), nil)

	assert.Equal(t, MsgNoListener, l.Stop())

	msg, err := l.Start(context.Background(), pairC.Hex())
	require.NoError(t, err)
	assert.Equal(t, "Started listening to events", msg)
	assert.Equal(t, lower(pairC), l.Address())
	assert.True(t, source.Watching(pairC))

	assert.Equal(t, "Stopped listening to events", l.Stop())
	assert.Equal(t, "No active listener to stop", l.Stop())
	assert.False(t, source.Watching(pairC))
	assert.Empty(t, l.Address())
}

func TestListener_RecordsMintsOnly(t *testing.T) {
	source := stub.NewLogSource()
	events := memory.NewEventStore()
	l := NewListener(source, events, nil)

	_, err := l.Start(context.Background(), pairC.Hex())
	require.NoError(t, err)
	defer l.Stop()

	source.Emit(
		logAt(pairC, 1, 0, mint(senderD, 100, 200, 50)),
		logAt(pairC, 1, 1, burn(senderD, 1, 1, 1)),
		logAt(pairC, 1, 0, mint(senderD, 100, 200, 50)),
	)

	recorded, err := events.GetByPool(context.Background(), lower(pairC))
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, domain.EventTypeMint, recorded[0].Type)
	assert.Equal(t, lower(senderD), recorded[0].Sender)
	assertDecimal(t, 100, *recorded[0].Amount0)
	assertDecimal(t, 200, *recorded[0].Amount1)
}

func TestListener_StartReplacesPreviousWatch(t *testing.T) {
	source := stub.NewLogSource()
	l := NewListener(source, memory.NewEventStore(), nil)

	_, err := l.Start(context.Background(), pairC.Hex())
	require.NoError(t, err)
	_, err = l.Start(context.Background(), pairE.Hex())
	require.NoError(t, err)
	defer l.Stop()

	assert.False(t, source.Watching(pairC))
	assert.True(t, source.Watching(pairE))
	assert.Equal(t, 1, source.Active())
}

func TestListener_OutlivesRequestContext(t *testing.T) {
	source := stub.NewLogSource()
	events := memory.NewEventStore()
	l := NewListener(source, events, nil)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := l.Start(ctx, pairC.Hex())
	require.NoError(t, err)
	defer l.Stop()
	cancel()

	source.Emit(logAt(pairC, 1, 0, mint(senderD, 1, 1, 1)))
	assert.Equal(t, 1, events.Len())
}

func TestListener_RejectsInvalidAddress(t *testing.T) {
	l := NewListener(stub.NewLogSource(), memory.NewEventStore(), nil)

	_, err := l.Start(context.Background(), "not-an-address")
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)
	assert.Equal(t, MsgNoListener, l.Stop())
}

func TestListener_WatchError(t *testing.T) {
	source := stub.NewLogSource()
	source.WatchErr = errors.New("subscribe refused")
	l := NewListener(source, memory.NewEventStore(), nil)

	msg, err := l.Start(context.Background(), pairC.Hex())
	assert.Error(t, err)
	assert.Empty(t, msg)
	assert.Equal(t, MsgNoListener, l.Stop())
}

// headFilterer serves a fixed chain head and no logs.
type headFilterer struct {
	mu   sync.Mutex
	head uint64
}

func (f *headFilterer) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (f *headFilterer) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head++
	return f.head, nil
}

func TestListener_StopLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	source := chain.NewPollSource(&headFilterer{head: 1}, time.Millisecond, nil, nil)
	l := NewListener(source, memory.NewEventStore(), nil)

	for _, addr := range []common.Address{pairC, pairE, pairC} {
		_, err := l.Start(context.Background(), addr.Hex())
		require.NoError(t, err)
	}
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, MsgListenerStopped, l.Stop())
}

func TestListener_MintAmountsAreExact(t *testing.T) {
	source := stub.NewLogSource()
	events := memory.NewEventStore()
	l := NewListener(source, events, nil)
	_, err := l.Start(context.Background(), pairC.Hex())
	require.NoError(t, err)
	defer l.Stop()

	huge, ok := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	require.True(t, ok)
	ev := &chain.Mint{Sender: senderD, Amount0: huge, Amount1: big.NewInt(0), Liquidity: big.NewInt(0)}
	source.Emit(logAt(pairC, 1, 0, ev))

	recorded, err := events.GetByPool(context.Background(), lower(pairC))
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, huge.String(), recorded[0].Amount0.String())
}
