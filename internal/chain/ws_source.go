package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"dex-indexer/internal/observability"
)

// maxBatch bounds how many buffered notifications are handed to one handler call.
const maxBatch = 256

const unsubscribeTimeout = 5 * time.Second

// WSSource is a LogSource backed by a WebSocket eth_subscribe client.
type WSSource struct {
	client  WSClient
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewWSSource creates a LogSource over client.
func NewWSSource(client WSClient, logger *zap.Logger, metrics *observability.Metrics) *WSSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSSource{client: client, logger: logger, metrics: metrics}
}

// Watch subscribes to filter and runs handler for each batch of decoded logs.
func (s *WSSource) Watch(ctx context.Context, filter Filter, handler LogHandler) (Subscription, error) {
	q, err := filter.Query()
	if err != nil {
		return nil, err
	}
	wsSub, err := s.client.SubscribeLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", filter.Address.Hex(), err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w := &watch{cancel: cancel, done: make(chan struct{})}

	s.metrics.SubscriptionOpened()
	logger := s.logger.With(zap.String("contract", filter.Address.Hex()))

	go func() {
		defer close(w.done)
		defer s.metrics.SubscriptionClosed()
		defer func() {
			unsubCtx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
			defer cancel()
			if err := s.client.Unsubscribe(unsubCtx, wsSub); err != nil && !errors.Is(err, ErrClientClosed) {
				logger.Debug("unsubscribe failed", zap.Error(err))
			}
		}()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-wsSub.Done():
				return
			case first := <-wsSub.Logs():
				raw := drain(wsSub.Logs(), first)
				if logs := decodeBatch(raw, logger, s.metrics); len(logs) > 0 {
					handler(loopCtx, logs)
				}
			}
		}
	}()

	return w, nil
}

// drain collects notifications that are already buffered behind first.
func drain(ch <-chan types.Log, first types.Log) []types.Log {
	batch := []types.Log{first}
	for len(batch) < maxBatch {
		select {
		case l := <-ch:
			batch = append(batch, l)
		default:
			return batch
		}
	}
	return batch
}

// decodeBatch decodes raw logs, dropping re-org removals and malformed logs.
func decodeBatch(raw []types.Log, logger *zap.Logger, metrics *observability.Metrics) []Log {
	logs := make([]Log, 0, len(raw))
	for _, r := range raw {
		if r.Removed {
			logger.Debug("skipping removed log",
				zap.String("tx", r.TxHash.Hex()), zap.Uint64("block", r.BlockNumber))
			continue
		}
		l, err := Decode(r)
		if err != nil {
			metrics.RecordDecodeError(topicName(r))
			logger.Warn("dropping undecodable log",
				zap.String("tx", r.TxHash.Hex()), zap.Uint("index", r.Index), zap.Error(err))
			continue
		}
		metrics.RecordLogReceived(l.Event.EventName(), l.BlockNumber)
		logs = append(logs, l)
	}
	return logs
}

func topicName(r types.Log) string {
	if len(r.Topics) > 0 {
		if def, ok := eventsByID[r.Topics[0]]; ok {
			return def.Name
		}
	}
	return "Unknown"
}

// watch is the Subscription shared by the sources in this package.
// Its goroutine releases transport resources before closing done.
type watch struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (w *watch) Unsubscribe() {
	w.cancel()
	<-w.done
}
