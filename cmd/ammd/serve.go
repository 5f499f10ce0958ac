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
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ammEngine/internal/api"
	"ammEngine/internal/config"
	"ammEngine/internal/dex"
	"ammEngine/internal/ledger"
	"ammEngine/internal/metrics"
	"ammEngine/internal/storage"
	"ammEngine/internal/storage/postgres"
	"ammEngine/internal/tokenmeta"
)

const limiterIdle = 10 * time.Minute

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadServe(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	engineCfg, custody, err := engineConfig(cfg.Engine)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.New()
	hub := api.NewHub(logger)
	defer hub.Close()

	publishers := []storage.Publisher{collector, hub}
	if cfg.EventsOut != "" {
		publishers = append(publishers, storage.NewJsonlStorage(cfg.EventsOut))
	}

	var store *postgres.Store
	if cfg.PGDSN != "" {
		store, err = openStore(ctx, cfg.PGDSN, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		publishers = append(publishers, store)
	}

	led := ledger.NewMemory(custody)
	reg := dex.NewRegistry(engineCfg, led, &dex.SystemClock{}, storage.NewFanout(publishers...), logger)

	if store != nil {
		if err := restoreEngine(ctx, store, reg, led, logger); err != nil {
			return err
		}
	}

	opts := apiOptions(cfg, led, collector, hub)
	if cfg.RPCURL != "" {
		chainClient, err := dialChain(ctx, cfg.RPCURL, logger)
		if err != nil {
			return err
		}
		defer chainClient.Close()
		opts.Tokens = tokenmeta.NewResolver(chainClient, logger)
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewServer(reg, opts, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("serve start",
		zap.String("listen", cfg.Listen),
		zap.String("custody", custody.Hex()),
		zap.Uint32("default_fee_bps", engineCfg.FeeBps),
		zap.Bool("auto_fill", engineCfg.AutoFill),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.String("events_out", cfg.EventsOut),
		zap.Bool("token_metadata", opts.Tokens != nil),
		zap.Bool("faucet", opts.Faucet != nil),
		zap.String("identity_header", cfg.IdentityHeader),
	)
	if opts.Faucet != nil {
		logger.Warn("faucet enabled; any caller can mint balances")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(limiterIdle)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := opts.Limiter.Prune(limiterIdle); n > 0 {
					logger.Debug("pruned rate limiters", zap.Int("count", n))
				}
			}
		}
	})
	if store != nil && cfg.SnapshotEvery > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.SnapshotEvery)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if err := saveEngine(gctx, store, reg, led); err != nil {
						logger.Warn("snapshot", zap.Error(err))
					}
				}
			}
		})
	}

	err = g.Wait()
	if store != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if serr := saveEngine(saveCtx, store, reg, led); serr != nil {
			logger.Error("final snapshot", zap.Error(serr))
			err = errors.Join(err, serr)
		}
	}
	logger.Info("serve stopped")
	return err
}

func apiOptions(cfg config.ServeConfig, led *ledger.Memory, collector *metrics.Collector, hub *api.Hub) api.Options {
	opts := api.Options{
		Rejections:     collector,
		MetricsHandler: collector.Handler(),
		Hub:            hub,
		Limiter:        api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		IdentityHeader: cfg.IdentityHeader,
	}
	if cfg.Faucet {
		opts.Faucet = led
	}
	return opts
}

func restoreEngine(ctx context.Context, store *postgres.Store, reg *dex.Registry, led *ledger.Memory, logger *zap.Logger) error {
	snap, ok, err := store.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if !ok {
		return nil
	}
	balances, err := store.LoadBalances(ctx)
	if err != nil {
		return err
	}
	if err := led.LoadBalances(balances); err != nil {
		return fmt.Errorf("restore ledger: %w", err)
	}
	if err := reg.Restore(snap); err != nil {
		return fmt.Errorf("restore engine: %w", err)
	}
	logger.Info("engine restored",
		zap.Int("pools", len(snap.Pools)),
		zap.Int("orders", len(snap.Orders)),
		zap.Int("balances", len(balances)),
	)
	return nil
}

func saveEngine(ctx context.Context, store *postgres.Store, reg *dex.Registry, led *ledger.Memory) error {
	return store.SaveSnapshot(ctx, reg.Snapshot(), led.Balances())
}
