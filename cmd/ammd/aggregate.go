package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ammEngine/internal/aggregate"
	"ammEngine/internal/config"
	"ammEngine/internal/storage/postgres"
	"ammEngine/internal/tokenmeta"
)

func runAggregate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadAggregate(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	switch {
	case cfg.Input == "":
		return errors.New("aggregate: --in is required")
	case cfg.PGDSN == "":
		return errors.New("aggregate: --pg-dsn is required")
	}
	window, err := cfg.WindowSeconds()
	if err != nil {
		return err
	}
	from, err := config.ParseTimestamp(cfg.RecomputeFrom)
	if err != nil {
		return fmt.Errorf("recompute-from: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.PGDSN, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	// Without an RPC endpoint volumes stay in raw base units.
	var decimals aggregate.DecimalsSource
	if cfg.RPCURL != "" {
		client, err := dialChain(ctx, cfg.RPCURL, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		decimals = tokenmeta.NewResolver(client, logger)
	}

	agg := aggregate.NewAggregator(aggregate.Config{
		WindowSeconds: window,
		BatchSize:     cfg.BatchSize,
		RecomputeFrom: from,
		StateStore:    aggregateState(cfg.StateFile, store, window),
	}, store, decimals, logger)

	logger.Info("aggregating swap events",
		zap.String("in", cfg.Input),
		zap.String("pg", redactDSN(cfg.PGDSN)),
		zap.Uint64("window_s", window),
		zap.Uint64("recompute_from", from),
		zap.Bool("decimals", decimals != nil),
	)
	return agg.Run(ctx, cfg.Input)
}

// aggregateState prefers a local file when one is configured and otherwise
// keeps progress in postgres under a per-window name.
func aggregateState(path string, store *postgres.Store, window uint64) aggregate.StateStore {
	if path != "" {
		return &aggregate.FileStateStore{Path: path}
	}
	return &aggregate.DBStateStore{Backend: store, Name: fmt.Sprintf("aggregator:%d", window)}
}
