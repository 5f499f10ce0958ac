package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ammEngine/internal/config"
	"ammEngine/internal/replay"
	"ammEngine/internal/storage"
	"ammEngine/internal/storage/postgres"
)

func runReplay(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadReplay(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Input == "" {
		return fmt.Errorf("input path is required")
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("batch size must be > 0")
	}
	engineCfg, custody, err := engineConfig(cfg.Engine)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinks := []storage.EventStorage{storage.NewJsonlStorage(cfg.Out)}
	var store *postgres.Store
	if cfg.PGDSN != "" {
		store, err = openStore(ctx, cfg.PGDSN, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		sinks = append(sinks, store)
	}

	runner := replay.NewRunner(replay.RunConfig{
		InputPath:         cfg.Input,
		BatchSize:         uint64(cfg.BatchSize),
		CheckpointPath:    cfg.Checkpoint,
		CheckpointEnabled: cfg.CheckpointEnabled,
		MaxRetries:        cfg.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff,
		Custody:           custody,
		Engine:            engineCfg,
	}, sinks, storage.NewJsonlStorage(cfg.Errors), logger)

	logger.Info("replay start",
		zap.String("input", cfg.Input),
		zap.String("out", cfg.Out),
		zap.String("errors", cfg.Errors),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.String("checkpoint", cfg.Checkpoint),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
	)

	summary, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	if store != nil {
		// serve restores from this snapshot, so replayed balances carry over.
		if err := saveEngine(ctx, store, runner.Registry(), runner.Ledger()); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
	}

	logger.Info("replay complete",
		zap.Int("applied", summary.Applied),
		zap.Int("rejected", summary.Rejected),
		zap.Int("events", summary.Events),
		zap.Int("pools", len(runner.Registry().ListPools())),
	)
	return nil
}
