package ingestion

import (
	"context"

	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"dex-indexer/internal/chain"
)

// PoolRouter dispatches the logs of one pool subscription to the Reconciler.
// Logs of a batch are handled one at a time in chain order, so two events of
// the same pool never race on its reserves.
type PoolRouter struct {
	reconciler *Reconciler
	logger     *zap.Logger
}

// NewPoolRouter creates a PoolRouter.
func NewPoolRouter(reconciler *Reconciler, logger *zap.Logger) *PoolRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PoolRouter{reconciler: reconciler, logger: logger}
}

// HandleLogs is a chain.LogHandler for pool subscriptions.
func (p *PoolRouter) HandleLogs(ctx context.Context, logs []chain.Log) {
	SortLogs(logs)
	for _, l := range logs {
		p.Dispatch(ctx, l)
	}
}

// Dispatch reconciles one log. It reports false for logs it ignores.
// A panic inside a handler is logged and contained to that log.
func (p *PoolRouter) Dispatch(ctx context.Context, l chain.Log) (res Result, handled bool) {
	var pc panics.Catcher
	pc.Try(func() {
		switch ev := l.Event.(type) {
		case *chain.Mint:
			res, handled = p.reconciler.Mint(ctx, l, ev), true
		case *chain.Burn:
			res, handled = p.reconciler.Burn(ctx, l, ev), true
		case *chain.Swap:
			res, handled = p.reconciler.Swap(ctx, l, ev), true
		case *chain.SwapForwarded:
			res, handled = p.reconciler.SwapForwarded(ctx, l, ev), true
		default:
			p.logger.Warn("ignoring unknown pool event",
				zap.String("event", eventName(l)),
				zap.String("pool", hexAddr(l.Address)),
				zap.String("tx", l.TxHash.Hex()))
		}
	})
	if r := pc.Recovered(); r != nil {
		p.logger.Error("pool handler panicked",
			zap.String("event", eventName(l)),
			zap.String("pool", hexAddr(l.Address)),
			zap.String("tx", l.TxHash.Hex()),
			zap.Uint64("block", l.BlockNumber),
			zap.String("panic", r.String()))
		return Result{}, false
	}
	return res, handled
}

func eventName(l chain.Log) string {
	if l.Event == nil {
		return "Unknown"
	}
	return l.Event.EventName()
}
