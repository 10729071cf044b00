package ingestion

import (
	"context"
	"errors"

	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"dex-indexer/internal/chain"
	"dex-indexer/internal/storage"
)

// PoolWatcher opens a pool subscription delivering logs from fromBlock on.
// WatchPool must be idempotent.
type PoolWatcher interface {
	WatchPool(ctx context.Context, address string, fromBlock uint64) error
}

// GlobalRouter handles factory-level logs. After a PairCreated log creates
// its pool it asks the watcher to subscribe to the new pair, starting at the
// creation block so liquidity added in the same block is not missed.
type GlobalRouter struct {
	reconciler *Reconciler
	watcher    PoolWatcher
	logger     *zap.Logger
}

// NewGlobalRouter creates a GlobalRouter.
func NewGlobalRouter(reconciler *Reconciler, watcher PoolWatcher, logger *zap.Logger) *GlobalRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GlobalRouter{reconciler: reconciler, watcher: watcher, logger: logger}
}

// HandleLogs is a chain.LogHandler for the factory subscription.
func (g *GlobalRouter) HandleLogs(ctx context.Context, logs []chain.Log) {
	SortLogs(logs)
	for _, l := range logs {
		g.Dispatch(ctx, l)
	}
}

// Dispatch reconciles one factory log.
func (g *GlobalRouter) Dispatch(ctx context.Context, l chain.Log) {
	var pc panics.Catcher
	pc.Try(func() {
		ev, ok := l.Event.(*chain.PairCreated)
		if !ok {
			g.logger.Warn("ignoring unknown factory event",
				zap.String("event", eventName(l)),
				zap.String("tx", l.TxHash.Hex()))
			return
		}

		res := g.reconciler.PairCreated(ctx, l, ev)

		// The pool exists either way once creation succeeded or conflicted.
		created, _ := res.Outcome(OpPool)
		if created.Err != nil && !errors.Is(created.Err, storage.ErrDuplicateKey) {
			return
		}
		pair := hexAddr(ev.Pair)
		if err := g.watcher.WatchPool(ctx, pair, l.BlockNumber); err != nil {
			g.logger.Error("failed to watch new pool",
				zap.String("pool", pair), zap.Error(err))
		}
	})
	if r := pc.Recovered(); r != nil {
		g.logger.Error("factory handler panicked",
			zap.String("tx", l.TxHash.Hex()),
			zap.Uint64("block", l.BlockNumber),
			zap.String("panic", r.String()))
	}
}
