package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dex-indexer/internal/chain"
	"dex-indexer/internal/domain"
	"dex-indexer/internal/storage"
)

// ErrNotRunning is returned by WatchPool before Start or after Stop.
var ErrNotRunning = errors.New("orchestrator is not running")

// ErrAlreadyRunning is returned by Start on a running orchestrator.
var ErrAlreadyRunning = errors.New("orchestrator is already running")

// State is the subscription state of the Orchestrator.
type State int

const (
	StateStopped State = iota
	StateWatchingFactory
	StateWatchingPools
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateWatchingFactory:
		return "watching_factory"
	case StateWatchingPools:
		return "watching_pools"
	default:
		return "unknown"
	}
}

// Orchestrator owns every automatic log subscription: one for the factory
// and one per known pool.
type Orchestrator struct {
	source      chain.LogSource
	pools       storage.PoolStore
	factory     common.Address
	concurrency int
	global      *GlobalRouter
	router      *PoolRouter
	logger      *zap.Logger

	mu         sync.Mutex
	state      State
	epoch      uint64
	runCtx     context.Context
	factorySub chain.Subscription
	poolSubs   map[string]chain.Subscription // nil value while a watch is opening
}

// OrchestratorOptions contains configuration for creating an Orchestrator.
type OrchestratorOptions struct {
	Source     chain.LogSource
	Pools      storage.PoolStore
	Reconciler *Reconciler
	Factory    common.Address

	// StartupConcurrency bounds how many pool watches open at once on start.
	// Default: 8
	StartupConcurrency int

	Logger *zap.Logger
}

// NewOrchestrator creates a stopped Orchestrator and its routers.
func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := opts.StartupConcurrency
	if concurrency <= 0 {
		concurrency = 8
	}

	o := &Orchestrator{
		source:      opts.Source,
		pools:       opts.Pools,
		factory:     opts.Factory,
		concurrency: concurrency,
		logger:      logger.Named("orchestrator"),
		poolSubs:    make(map[string]chain.Subscription),
	}
	o.router = NewPoolRouter(opts.Reconciler, logger.Named("pool_router"))
	o.global = NewGlobalRouter(opts.Reconciler, o, logger.Named("global_router"))
	return o
}

// Run starts the orchestrator and blocks until ctx is done, then closes
// every subscription.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	o.Stop()
	return nil
}

// Start watches the factory, then opens a watch for every stored pool.
// Subscriptions live until ctx is done or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateStopped {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	o.epoch++
	epoch := o.epoch
	o.runCtx = ctx
	// A PairCreated may be delivered before Watch returns.
	o.state = StateWatchingFactory
	o.mu.Unlock()

	sub, err := o.source.Watch(ctx, chain.Filter{Address: o.factory, Events: chain.FactoryEvents}, o.global.HandleLogs)
	if err != nil {
		o.Stop()
		return fmt.Errorf("watch factory %s: %w", o.factory.Hex(), err)
	}

	o.mu.Lock()
	if o.epoch != epoch || o.state == StateStopped {
		o.mu.Unlock()
		sub.Unsubscribe()
		return ErrNotRunning
	}
	o.factorySub = sub
	o.mu.Unlock()
	o.logger.Info("watching factory", zap.String("factory", o.factory.Hex()))

	pools, err := o.pools.GetAll(ctx)
	if err != nil {
		o.Stop()
		return fmt.Errorf("load pools: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for _, p := range pools {
		address := p.Address
		g.Go(func() error {
			return o.WatchPool(gctx, address, 0)
		})
	}
	if err := g.Wait(); err != nil {
		o.Stop()
		return fmt.Errorf("watch stored pools: %w", err)
	}

	o.logger.Info("orchestrator started", zap.Int("pools", len(pools)))
	return nil
}

// WatchPool opens a pool subscription unless one exists. Delivery starts at
// fromBlock, or after the current head when it is zero. The subscription
// lives as long as the orchestrator run, not ctx; ctx only guards the call.
func (o *Orchestrator) WatchPool(ctx context.Context, address string, fromBlock uint64) error {
	key, err := domain.ParseAddress(address)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	o.mu.Lock()
	if o.state == StateStopped {
		o.mu.Unlock()
		return ErrNotRunning
	}
	if _, exists := o.poolSubs[key]; exists {
		o.mu.Unlock()
		return nil
	}
	o.poolSubs[key] = nil
	epoch, runCtx := o.epoch, o.runCtx
	o.mu.Unlock()

	filter := chain.Filter{Address: common.HexToAddress(key), Events: chain.PoolEvents, FromBlock: fromBlock}
	sub, err := o.source.Watch(runCtx, filter, o.router.HandleLogs)

	o.mu.Lock()
	if o.epoch != epoch || o.state == StateStopped {
		o.mu.Unlock()
		if sub != nil {
			sub.Unsubscribe()
		}
		return ErrNotRunning
	}
	if err != nil {
		delete(o.poolSubs, key)
		o.mu.Unlock()
		return fmt.Errorf("watch pool %s: %w", key, err)
	}
	o.poolSubs[key] = sub
	o.state = StateWatchingPools
	o.mu.Unlock()

	o.logger.Info("watching pool", zap.String("pool", key), zap.Uint64("from_block", fromBlock))
	return nil
}

// Stop closes every subscription and returns to StateStopped.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	subs := make([]chain.Subscription, 0, len(o.poolSubs)+1)
	if o.factorySub != nil {
		subs = append(subs, o.factorySub)
	}
	for _, sub := range o.poolSubs {
		if sub != nil {
			subs = append(subs, sub)
		}
	}
	o.factorySub = nil
	o.poolSubs = make(map[string]chain.Subscription)
	o.state = StateStopped
	o.mu.Unlock()

	// Unsubscribe waits for in-flight handlers, which may call WatchPool.
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	if len(subs) > 0 {
		o.logger.Info("orchestrator stopped", zap.Int("subscriptions", len(subs)))
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// WatchedPools returns the addresses with an open subscription, sorted.
func (o *Orchestrator) WatchedPools() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	pools := make([]string, 0, len(o.poolSubs))
	for addr, sub := range o.poolSubs {
		if sub != nil {
			pools = append(pools, addr)
		}
	}
	sort.Strings(pools)
	return pools
}
