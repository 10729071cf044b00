// Package main is the indexer binary: it tracks pools, reserves, swap
// counts and LP shares of a Uniswap V2 style DEX.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"dex-indexer/internal/app"
	"dex-indexer/internal/config"
	"dex-indexer/internal/logging"
	"dex-indexer/internal/observability"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := config.New()
	var configPath string

	root := &cobra.Command{
		Use:          "indexer",
		Short:        "Indexes DEX factory and pool events into Postgres",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "optional config file (yaml, json or toml)")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "json", "log format (json or console)")
	mustBind(v, "log_level", root.PersistentFlags().Lookup("log-level"))
	mustBind(v, "log_format", root.PersistentFlags().Lookup("log-format"))

	root.AddCommand(newRunCommand(v, &configPath), newMigrateCommand(v, &configPath))
	return root
}

func newRunCommand(v *viper.Viper, configPath *string) *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch the factory and every known pool until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(v, *configPath)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			return run(cfg, logger, skipMigrations)
		},
	}
	cmd.Flags().Bool("use-memory", false, "use in-memory stores instead of Postgres")
	cmd.Flags().String("metrics-addr", config.DefaultMetricsAddr, "operational HTTP listen address")
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply migrations on start")
	mustBind(v, "use_memory", cmd.Flags().Lookup("use-memory"))
	mustBind(v, "metrics_addr", cmd.Flags().Lookup("metrics-addr"))
	return cmd
}

func newMigrateCommand(v *viper.Viper, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(v, *configPath)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			if err := app.Migrate(cmd.Context(), cfg, logger); err != nil {
				logger.Error("migration failed", zap.Error(err))
				return err
			}
			return nil
		},
	}
}

func setup(v *viper.Viper, configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, logger, nil
}

func run(cfg *config.Config, logger *zap.Logger, skipMigrations bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-done:
			return
		}

		select {
		case sig := <-sigCh:
			logger.Error("received second signal, forcing exit", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(shutdownTimeout):
			logger.Error("graceful shutdown timed out, forcing exit", zap.Duration("timeout", shutdownTimeout))
			os.Exit(1)
		case <-done:
		}
	}()

	a, err := app.Build(ctx, cfg, logger, app.BuildOptions{
		Metrics:        observability.DefaultMetrics,
		SkipMigrations: skipMigrations,
	})
	if err != nil {
		logger.Error("failed to build indexer", zap.Error(err))
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           app.NewRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("ops server listening", zap.String("addr", cfg.MetricsAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("indexer starting",
		zap.String("factory", cfg.FactoryAddress),
		zap.Bool("ws", cfg.WSURL != ""),
		zap.Bool("memory", cfg.UseMemory),
		zap.String("events_backend", cfg.EventsBackend))

	if err := a.Run(ctx); err != nil {
		logger.Error("indexer stopped with error", zap.Error(err))
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// mustBind binds a registered flag; a nil flag is a programming error.
func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}
