package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"dex-indexer/internal/chain"
	"dex-indexer/internal/config"
	"dex-indexer/internal/observability"
	chstore "dex-indexer/internal/storage/clickhouse"
	"dex-indexer/internal/storage/memory"
	"dex-indexer/internal/storage/migrations"
	"dex-indexer/internal/storage/postgres"
)

// BuildOptions tune Build.
type BuildOptions struct {
	Metrics        *observability.Metrics
	SkipMigrations bool
}

// Build creates every component described by cfg and assembles them.
// The caller must Close the returned App.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts BuildOptions) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &builder{cfg: cfg, logger: logger, opts: opts}

	c := Components{
		Factory:            common.HexToAddress(cfg.FactoryAddress),
		StartupConcurrency: cfg.StartupConcurrency,
		Logger:             logger,
		Metrics:            opts.Metrics,
	}
	if err := b.stores(ctx, &c); err != nil {
		b.close()
		return nil, err
	}
	if err := b.chain(ctx, &c); err != nil {
		b.close()
		return nil, err
	}

	a := Assemble(c)
	a.closers = b.closers
	return a, nil
}

// Migrate applies the Postgres migrations, and the ClickHouse ones when
// that backend is configured.
func Migrate(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.UseMemory {
		return errors.New("nothing to migrate with in-memory stores")
	}

	pool, err := postgres.NewPool(ctx, cfg.PostgresDSN(), postgres.PoolOptions{
		ConnectTimeout: cfg.DBConnectTimeout,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := migrations.RunPostgresMigrations(ctx, pool, logger); err != nil {
		return fmt.Errorf("postgres migrations: %w", err)
	}
	logger.Info("postgres migrations applied")

	if cfg.EventsBackend == config.BackendClickhouse {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN, logger)
		if err != nil {
			return fmt.Errorf("clickhouse migrations: %w", err)
		}
		_ = conn.Close()
		logger.Info("clickhouse migrations applied")
	}
	return nil
}

type builder struct {
	cfg     *config.Config
	logger  *zap.Logger
	opts    BuildOptions
	closers []func()
}

func (b *builder) onClose(fn func()) {
	b.closers = append(b.closers, fn)
}

func (b *builder) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

func (b *builder) stores(ctx context.Context, c *Components) error {
	if b.cfg.UseMemory {
		b.logger.Warn("using in-memory stores, state is lost on exit")
		c.Pools = memory.NewPoolStore()
		c.Users = memory.NewUserStore()
		c.LPs = memory.NewLiquidityProviderStore()
		c.Events = memory.NewEventStore()
		return nil
	}

	pool, err := postgres.NewPool(ctx, b.cfg.PostgresDSN(), postgres.PoolOptions{
		MaxConns:       b.cfg.DBMaxConns,
		MinConns:       b.cfg.DBMinConns,
		ConnectTimeout: b.cfg.DBConnectTimeout,
		IdleTimeout:    b.cfg.DBIdleTimeout,
		QueryTimeout:   b.cfg.DBQueryTimeout,
		Metrics:        b.opts.Metrics,
	})
	if err != nil {
		return err
	}
	b.onClose(pool.Close)

	if !b.opts.SkipMigrations {
		if err := migrations.RunPostgresMigrations(ctx, pool, b.logger); err != nil {
			return fmt.Errorf("postgres migrations: %w", err)
		}
	}

	c.Pools = postgres.NewPoolStore(pool)
	c.Users = postgres.NewUserStore(pool)
	c.LPs = postgres.NewLiquidityProviderStore(pool)

	if b.cfg.EventsBackend != config.BackendClickhouse {
		c.Events = postgres.NewEventStore(pool)
		return nil
	}

	var conn *chstore.Conn
	if b.opts.SkipMigrations {
		conn, err = chstore.Open(ctx, b.cfg.ClickhouseDSN)
	} else {
		conn, err = migrations.RunClickhouseMigrations(ctx, b.cfg.ClickhouseDSN, b.logger)
	}
	if err != nil {
		return fmt.Errorf("clickhouse: %w", err)
	}
	b.onClose(func() { _ = conn.Close() })
	c.Events = chstore.NewEventStore(conn)
	return nil
}

func (b *builder) chain(ctx context.Context, c *Components) error {
	rpc, err := ethclient.DialContext(ctx, b.cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}
	b.onClose(rpc.Close)

	c.Reserves = chain.NewReserveReader(rpc, b.cfg.ReserveCallTimeout, b.opts.Metrics)

	if b.cfg.WSURL == "" {
		b.logger.Info("no ws_url configured, polling for logs", zap.Duration("interval", b.cfg.PollInterval))
		c.Source = chain.NewPollSource(rpc, b.cfg.PollInterval, b.logger.Named("poll"), b.opts.Metrics)
		return nil
	}

	wsCfg := chain.DefaultWSConfig()
	wsCfg.Backfill = rpc
	wsCfg.Logger = b.logger
	wsCfg.Metrics = b.opts.Metrics
	ws, err := chain.NewWSClient(ctx, b.cfg.WSURL, &wsCfg)
	if err != nil {
		return fmt.Errorf("connect ws: %w", err)
	}
	b.onClose(func() { _ = ws.Close() })
	c.Source = chain.NewWSSource(ws, b.logger.Named("ws_source"), b.opts.Metrics)
	return nil
}
