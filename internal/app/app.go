// Package app wires the indexer components together. Assemble composes
// ready-made collaborators; Build creates them from configuration.
package app

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"dex-indexer/internal/chain"
	"dex-indexer/internal/ingestion"
	"dex-indexer/internal/observability"
	"dex-indexer/internal/storage"
)

// Components are the collaborators an App is assembled from.
type Components struct {
	Pools  storage.PoolStore
	Users  storage.UserStore
	LPs    storage.LiquidityProviderStore
	Events storage.EventStore

	Source   chain.LogSource
	Reserves chain.ReserveReader

	Factory            common.Address
	StartupConcurrency int

	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// App holds the assembled indexer for the lifetime of the process.
type App struct {
	Reconciler   *ingestion.Reconciler
	Orchestrator *ingestion.Orchestrator
	Listener     *ingestion.Listener

	logger  *zap.Logger
	closers []func()
}

// Assemble wires stores, reconciler, routers, orchestrator and listener.
func Assemble(c Components) *App {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	reconciler := ingestion.NewReconciler(ingestion.ReconcilerOptions{
		Pools:    c.Pools,
		Users:    c.Users,
		LPs:      c.LPs,
		Events:   c.Events,
		Reserves: c.Reserves,
		Logger:   logger.Named("reconciler"),
		Metrics:  c.Metrics,
	})

	return &App{
		Reconciler: reconciler,
		Orchestrator: ingestion.NewOrchestrator(ingestion.OrchestratorOptions{
			Source:             c.Source,
			Pools:              c.Pools,
			Reconciler:         reconciler,
			Factory:            c.Factory,
			StartupConcurrency: c.StartupConcurrency,
			Logger:             logger,
		}),
		Listener: ingestion.NewListener(c.Source, c.Events, logger),
		logger:   logger,
	}
}

// Run starts automatic indexing and blocks until ctx is done. Any manual
// listener is stopped on return.
func (a *App) Run(ctx context.Context) error {
	defer a.Listener.Stop()
	return a.Orchestrator.Run(ctx)
}

// OnClose registers fn to run on Close. Closers run in reverse order.
func (a *App) OnClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases resources registered with OnClose.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
