package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"dex-indexer/internal/chain"
	"dex-indexer/internal/domain"
	"dex-indexer/internal/storage"
)

// Status messages returned by Listener.
const (
	MsgListenerStarted = "Started listening to events"
	MsgListenerStopped = "Stopped listening to events"
	MsgNoListener      = "No active listener to stop"
)

// Listener is a manual watch on a single contract that records its Mint
// events. It is independent of the Orchestrator; at most one watch is
// active at a time.
type Listener struct {
	source chain.LogSource
	events storage.EventStore
	logger *zap.Logger

	mu      sync.Mutex
	sub     chain.Subscription
	address string
}

// NewListener creates an idle Listener.
func NewListener(source chain.LogSource, events storage.EventStore, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{source: source, events: events, logger: logger.Named("listener")}
}

// Start replaces any active watch with one on address. The watch outlives
// ctx and ends only on Stop.
func (l *Listener) Start(ctx context.Context, address string) (string, error) {
	key, err := domain.ParseAddress(address)
	if err != nil {
		return "", fmt.Errorf("%w: %q", err, address)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sub != nil {
		l.sub.Unsubscribe()
		l.sub, l.address = nil, ""
	}

	filter := chain.Filter{Address: common.HexToAddress(key), Events: []string{chain.EventMint}}
	sub, err := l.source.Watch(context.WithoutCancel(ctx), filter, l.handle)
	if err != nil {
		l.logger.Error("failed to start listener", zap.String("address", key), zap.Error(err))
		return "", fmt.Errorf("start listener: %w", err)
	}
	l.sub, l.address = sub, key

	l.logger.Info("listening", zap.String("address", key))
	return MsgListenerStarted, nil
}

// Stop ends the active watch.
func (l *Listener) Stop() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sub == nil {
		return MsgNoListener
	}
	l.sub.Unsubscribe()
	l.logger.Info("stopped listening", zap.String("address", l.address))
	l.sub, l.address = nil, ""
	return MsgListenerStopped
}

// Address returns the watched address, or "" when idle.
func (l *Listener) Address() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.address
}

func (l *Listener) handle(ctx context.Context, logs []chain.Log) {
	for _, lg := range logs {
		ev, ok := lg.Event.(*chain.Mint)
		if !ok {
			continue
		}
		record, err := amountEventRecord(lg, domain.EventTypeMint, hexAddr(ev.Sender), ev.Amount0, ev.Amount1)
		if err == nil {
			err = l.events.Append(ctx, record)
		}
		switch {
		case err == nil:
		case errors.Is(err, storage.ErrDuplicateKey):
			l.logger.Debug("mint already recorded", zap.String("tx", lg.TxHash.Hex()), zap.Uint("log_index", lg.Index))
		default:
			l.logger.Error("failed to record mint", zap.String("tx", lg.TxHash.Hex()), zap.Error(err))
		}
	}
}
