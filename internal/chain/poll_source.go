package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"dex-indexer/internal/observability"
)

// LogFilterer is the subset of ethclient.Client used for polling and backfill.
type LogFilterer interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// maxBlockRange caps a single eth_getLogs request.
const maxBlockRange = 2000

// PollSource is a LogSource that polls eth_getLogs over HTTP JSON-RPC.
// A watch starts at its filter's FromBlock, or after the chain head
// observed when Watch is called.
type PollSource struct {
	client   LogFilterer
	interval time.Duration
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewPollSource creates a polling LogSource.
func NewPollSource(client LogFilterer, interval time.Duration, logger *zap.Logger, metrics *observability.Metrics) *PollSource {
	if interval <= 0 {
		interval = 4 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PollSource{client: client, interval: interval, logger: logger, metrics: metrics}
}

// Watch polls for logs matching filter.
func (s *PollSource) Watch(ctx context.Context, filter Filter, handler LogHandler) (Subscription, error) {
	q, err := filter.Query()
	if err != nil {
		return nil, err
	}
	from := filter.FromBlock
	if from == 0 {
		head, err := s.client.BlockNumber(ctx)
		if err != nil {
			return nil, fmt.Errorf("read chain head: %w", err)
		}
		from = head + 1
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w := &watch{cancel: cancel, done: make(chan struct{})}
	logger := s.logger.With(zap.String("contract", filter.Address.Hex()))

	s.metrics.SubscriptionOpened()
	go func() {
		defer close(w.done)
		defer s.metrics.SubscriptionClosed()
		s.poll(loopCtx, q, from, handler, logger)
	}()

	return w, nil
}

func (s *PollSource) poll(ctx context.Context, q ethereum.FilterQuery, from uint64, handler LogHandler, logger *zap.Logger) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.interval
	b.MaxInterval = 10 * s.interval

	wait := s.interval
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		next, err := s.fetch(ctx, q, from, handler, logger)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait = b.NextBackOff()
			logger.Warn("log poll failed", zap.Uint64("from", from), zap.Duration("retry_in", wait), zap.Error(err))
			continue
		}
		b.Reset()
		from = next
		wait = s.interval
	}
}

// fetch delivers logs in [from, min(head, from+maxBlockRange-1)] and returns
// the next block to query.
func (s *PollSource) fetch(ctx context.Context, q ethereum.FilterQuery, from uint64, handler LogHandler, logger *zap.Logger) (uint64, error) {
	head, err := s.client.BlockNumber(ctx)
	if err != nil {
		return from, fmt.Errorf("read chain head: %w", err)
	}
	if head < from {
		return from, nil
	}
	to := head
	if to-from+1 > maxBlockRange {
		to = from + maxBlockRange - 1
	}

	q.FromBlock = new(big.Int).SetUint64(from)
	q.ToBlock = new(big.Int).SetUint64(to)
	raw, err := s.client.FilterLogs(ctx, q)
	if err != nil {
		return from, fmt.Errorf("filter logs [%d,%d]: %w", from, to, err)
	}

	if logs := decodeBatch(raw, logger, s.metrics); len(logs) > 0 {
		handler(ctx, logs)
	}
	return to + 1, nil
}
