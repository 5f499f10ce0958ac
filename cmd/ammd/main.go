package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ammEngine/internal/chain"
	"ammEngine/internal/config"
	"ammEngine/internal/dex"
	"ammEngine/internal/storage/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "ammd",
		Short:        "Constant-product AMM engine",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	root.AddCommand(newServeCommand())

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay an operations file through a fresh engine",
		RunE:  runReplay,
	}

	addEngineFlags(replayCmd.Flags())
	replayCmd.Flags().String("in", "", "input operations JSONL")
	replayCmd.Flags().String("out", "./data/events.jsonl", "output events JSONL")
	replayCmd.Flags().String("errors", "./data/replay_errors.jsonl", "rejected operations JSONL")
	replayCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	replayCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	replayCmd.Flags().Int("batch-size", 500, "operations per batch")
	replayCmd.Flags().String("pg-dsn", "", "Postgres DSN for events (optional)")
	replayCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	replayCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	replayCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(replayCmd)

	aggregateCmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Aggregate engine events into window metrics",
		RunE:  runAggregate,
	}

	aggregateCmd.Flags().String("rpc", "", "EVM RPC URL for token decimals (optional)")
	aggregateCmd.Flags().String("in", "", "input events JSONL")
	aggregateCmd.Flags().String("window", "5m", "aggregation window (e.g. 1m, 5m, 1h)")
	aggregateCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	aggregateCmd.Flags().Int("batch-size", 1000, "batch size for DB writes")
	aggregateCmd.Flags().String("state-file", "", "optional local state file for progress tracking")
	aggregateCmd.Flags().String("recompute-from", "", "recompute from timestamp (unix seconds or RFC3339)")
	aggregateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(aggregateCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the engine over HTTP and websocket",
		Long: `Serve the engine over HTTP and websocket.

Write requests name their acting account in the body, and balances live in
an in-memory ledger. Run it as a development or simulation surface, or
behind a proxy that authenticates callers and sets --identity-header.
--faucet enables POST /v1/faucet for crediting balances.`,
		RunE: runServe,
	}

	flags := cmd.Flags()
	addEngineFlags(flags)
	flags.String("listen", ":8080", "HTTP listen address")
	flags.String("pg-dsn", "", "Postgres DSN for events and snapshots (optional)")
	flags.String("events-out", "./data/events.jsonl", "events JSONL path (empty disables)")
	flags.String("rpc", "", "EVM RPC URL for token metadata (optional)")
	flags.Float64("rate-limit-rps", 50, "requests per second per client IP")
	flags.Int("rate-limit-burst", 100, "request burst per client IP")
	flags.Duration("snapshot-every", time.Minute, "Postgres snapshot interval")
	flags.Bool("faucet", false, "expose POST /v1/faucet to mint test balances")
	flags.String("identity-header", "", "trusted header carrying the acting account (empty trusts the body)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	return cmd
}

func addEngineFlags(flags *pflag.FlagSet) {
	flags.String("custody", "", "custody account holding pooled funds")
	flags.String("reward-token", "", "token paid by reward claims")
	flags.Uint32("default-fee-bps", dex.DefaultFeeBps, "fee for pools created without one")
	flags.Bool("auto-fill", true, "try open limit orders after each swap")
	flags.Int("max-auto-fills", 16, "orders evaluated after one swap")
}

func engineConfig(cfg config.EngineConfig) (dex.Config, common.Address, error) {
	if cfg.Custody == "" {
		return dex.Config{}, common.Address{}, fmt.Errorf("custody address is required")
	}
	custody, err := dex.ParseAddress(cfg.Custody)
	if err != nil {
		return dex.Config{}, common.Address{}, fmt.Errorf("custody: %w", err)
	}
	out := dex.Config{
		AutoFill:     cfg.AutoFill,
		MaxAutoFills: cfg.MaxAutoFills,
		FeeBps:       cfg.DefaultFee,
	}
	if strings.TrimSpace(cfg.RewardToken) != "" {
		out.RewardToken, err = dex.ParseAddress(cfg.RewardToken)
		if err != nil {
			return dex.Config{}, common.Address{}, fmt.Errorf("reward token: %w", err)
		}
	}
	return out, custody, nil
}

// dialChain connects to the RPC endpoint and checks it answers before any
// token lookups are attempted.
func dialChain(ctx context.Context, rpcURL string, logger *zap.Logger) (*chain.Client, error) {
	client, err := chain.NewClient(ctx, rpcURL, 0)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("query chain id: %w", err)
	}
	logger.Info("rpc connected", zap.String("chain_id", chainID.String()))
	return client, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}

// openStore connects to postgres and brings the schema up to date.
func openStore(ctx context.Context, dsn string, logger *zap.Logger) (*postgres.Store, error) {
	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	logger.Debug("postgres schema ready", zap.String("dsn", redactDSN(dsn)))
	return store, nil
}
