package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"ammEngine/internal/dex"
	"ammEngine/internal/ledger"
	"ammEngine/internal/model"
	"ammEngine/internal/storage"
)

// ErrClockRegression rejects an operation stamped before the engine clock.
var ErrClockRegression = errors.New("timestamp before engine clock")

// RunConfig holds runtime settings for a replay.
type RunConfig struct {
	InputPath         string
	BatchSize         uint64
	CheckpointPath    string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration
	Custody           common.Address
	Engine            dex.Config
}

// ErrorStorage persists rejected operations.
type ErrorStorage interface {
	PutErrorBatch(ctx context.Context, errs []model.OperationError) error
}

// Summary counts what a Run did.
type Summary struct {
	Applied  int
	Rejected int
	Events   int
}

// Runner applies an operations file to a fresh engine and writes the
// resulting events and rejections to storage.
type Runner struct {
	cfg        RunConfig
	sinks      []storage.EventStorage
	errors     ErrorStorage
	logger     *zap.Logger
	checkpoint *CheckpointStore
	retry      retryPolicy

	clock    *dex.ManualClock
	ledger   *ledger.Memory
	registry *dex.Registry
	pending  []model.Event
}

// NewRunner builds a Runner. errStore may be nil to drop rejections.
func NewRunner(cfg RunConfig, sinks []storage.EventStorage, errStore ErrorStorage, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		cfg:        cfg,
		sinks:      sinks,
		errors:     errStore,
		logger:     logger,
		checkpoint: NewCheckpointStore(cfg.CheckpointPath, cfg.CheckpointEnabled),
		retry:      newRetryPolicy(cfg.MaxRetries, cfg.RetryBackoff, logger),
		clock:      dex.NewManualClock(0),
		ledger:     ledger.NewMemory(cfg.Custody),
	}
	sink := dex.EventSinkFunc(func(_ context.Context, ev model.Event) error {
		r.pending = append(r.pending, ev)
		return nil
	})
	r.registry = dex.NewRegistry(cfg.Engine, r.ledger, r.clock, sink, logger)
	return r
}

// Registry exposes the replayed engine.
func (r *Runner) Registry() *dex.Registry {
	return r.registry
}

// Ledger exposes the replay ledger.
func (r *Runner) Ledger() *ledger.Memory {
	return r.ledger
}

// Run executes the replay loop.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	var summary Summary
	if r.cfg.BatchSize == 0 {
		return summary, fmt.Errorf("batch size must be greater than zero")
	}
	if r.cfg.Custody == (common.Address{}) {
		return summary, fmt.Errorf("custody address is required")
	}

	ops, err := LoadOperations(r.cfg.InputPath)
	if err != nil {
		return summary, err
	}

	start := uint64(1)
	cp, ok, err := r.checkpoint.Load()
	if err != nil {
		return summary, err
	}
	if ok {
		if err := r.restore(cp); err != nil {
			return summary, fmt.Errorf("restore checkpoint: %w", err)
		}
		start = cp.LastProcessedOp + 1
		r.logger.Info("resume from checkpoint", zap.Uint64("last_processed", cp.LastProcessedOp), zap.Uint64("from", start))
	}

	batches, err := splitBatches(ops, start, r.cfg.BatchSize)
	if err != nil {
		return summary, err
	}
	if len(batches) == 0 {
		r.logger.Info("nothing to replay", zap.Uint64("from", start), zap.Int("operations", len(ops)))
		return summary, nil
	}

	app := &applier{reg: r.registry, ledger: r.ledger, logger: r.logger}
	for _, batch := range batches {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		var rejected []model.OperationError
		for _, op := range batch.ops {
			if err := r.applyAt(ctx, app, op); err != nil {
				rejected = append(rejected, model.OperationError{
					Seq:       op.Seq,
					Timestamp: r.clock.Now(),
					Op:        op.Op,
					Account:   op.Account,
					PoolID:    op.PoolID,
					OrderID:   op.OrderID,
					Error:     err.Error(),
				})
				continue
			}
			summary.Applied++
		}

		events := r.pending
		r.pending = nil
		if err := r.flush(ctx, events, rejected); err != nil {
			return summary, err
		}
		summary.Rejected += len(rejected)
		summary.Events += len(events)

		err := r.checkpoint.Save(Checkpoint{
			LastProcessedOp: batch.to,
			Engine:          r.registry.Snapshot(),
			Ledger:          r.ledger.Balances(),
		})
		if err != nil {
			return summary, err
		}

		r.logger.Info("batch complete",
			zap.Uint64("from", batch.from),
			zap.Uint64("to", batch.to),
			zap.Int("events", len(events)),
			zap.Int("rejected", len(rejected)),
		)
	}

	return summary, nil
}

func (r *Runner) applyAt(ctx context.Context, app *applier, op model.Operation) error {
	if op.Timestamp != 0 && !r.clock.Set(op.Timestamp) {
		return fmt.Errorf("%w: %d < %d", ErrClockRegression, op.Timestamp, r.clock.Now())
	}
	return app.apply(ctx, op)
}

func (r *Runner) restore(cp Checkpoint) error {
	if err := r.registry.Restore(cp.Engine); err != nil {
		return err
	}
	if err := r.ledger.LoadBalances(cp.Ledger); err != nil {
		return err
	}
	r.clock.Set(cp.Engine.Clock)
	return nil
}

func (r *Runner) flush(ctx context.Context, events []model.Event, rejected []model.OperationError) error {
	for _, sink := range r.sinks {
		err := r.retry.do(ctx, "store events", func(ctx context.Context) error {
			return sink.PutEventBatch(ctx, events)
		})
		if err != nil {
			return fmt.Errorf("store events: %w", err)
		}
	}
	if r.errors == nil || len(rejected) == 0 {
		return nil
	}
	err := r.retry.do(ctx, "store rejected operations", func(ctx context.Context) error {
		return r.errors.PutErrorBatch(ctx, rejected)
	})
	if err != nil {
		return fmt.Errorf("store rejected operations: %w", err)
	}
	return nil
}
