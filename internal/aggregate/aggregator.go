package aggregate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"ammEngine/internal/model"
)

const (
	feeMethodEvent     = "engine_fee"
	tvlMethodReserves  = "reserves_after_last_event"
	defaultBatchSize   = 1000
	maxEventLineLength = 10 * 1024 * 1024
)

// Config controls aggregation behavior.
type Config struct {
	WindowSeconds uint64
	BatchSize     int
	RecomputeFrom uint64
	StateStore    StateStore
}

// MetricsStore receives pool metadata and window metrics. *postgres.Store
// satisfies it.
type MetricsStore interface {
	UpsertPools(ctx context.Context, pools []model.PoolMeta) error
	UpsertWindowMetrics(ctx context.Context, metrics []model.PoolWindowMetrics) error
}

// DecimalsSource scales raw amounts to token units. *tokenmeta.Resolver
// satisfies it.
type DecimalsSource interface {
	Decimals(ctx context.Context, token common.Address) (uint8, error)
}

// Aggregator folds engine events into per-pool window metrics.
type Aggregator struct {
	cfg          Config
	store        MetricsStore
	decimals     DecimalsSource
	logger       *zap.Logger
	accumulators map[string]*Accumulator
	poolSeen     map[string]model.PoolMeta
}

// NewAggregator builds an Aggregator. decimals may be nil, in which case
// amounts are reported in base units.
func NewAggregator(cfg Config, store MetricsStore, decimals DecimalsSource, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Aggregator{
		cfg:          cfg,
		store:        store,
		decimals:     decimals,
		logger:       logger,
		accumulators: make(map[string]*Accumulator),
		poolSeen:     make(map[string]model.PoolMeta),
	}
}

// Run folds the events JSONL file at inputPath into window metrics. Events at
// or before the resume point are skipped, but PoolCreated records are always
// read so pool metadata stays complete.
func (a *Aggregator) Run(ctx context.Context, inputPath string) error {
	switch {
	case a.store == nil:
		return errors.New("aggregate: no metrics store")
	case a.cfg.WindowSeconds == 0:
		return errors.New("aggregate: window must be positive")
	}
	if a.cfg.BatchSize <= 0 {
		a.cfg.BatchSize = defaultBatchSize
	}

	resume, err := a.loadStartTimestamp(ctx)
	if err != nil {
		return err
	}

	out := &pendingWrites{}
	latest := resume
	var stats runStats

	err = eachEvent(ctx, inputPath, func(ev model.Event, decodeErr error) error {
		stats.total++
		if decodeErr != nil {
			stats.failed++
			a.logger.Warn("skip undecodable event", zap.Error(decodeErr))
			return nil
		}
		if ev.Type == model.EventPoolCreated {
			a.notePool(ev, &out.pools)
		}
		if ev.Timestamp <= resume {
			stats.skipped++
			return nil
		}

		acc, closed := a.accumulatorFor(ev)
		if closed != nil {
			out.metrics = append(out.metrics, a.flushAccumulator(ctx, closed))
			stats.windows++
		}
		if err := acc.AddEvent(ev); err != nil {
			stats.failed++
			a.logger.Warn("skip event", zap.Error(err), zap.String("pool", ev.PoolID), zap.String("type", ev.Type))
			return nil
		}
		latest = max(latest, ev.Timestamp)

		if len(out.metrics) < a.cfg.BatchSize {
			return nil
		}
		if err := a.flushBatches(ctx, out.metrics, out.pools); err != nil {
			return err
		}
		out.reset()
		return a.saveState(ctx)
	})
	if err != nil {
		return err
	}

	for _, acc := range a.accumulators {
		out.metrics = append(out.metrics, a.flushAccumulator(ctx, acc))
		stats.windows++
	}
	clear(a.accumulators)

	if err := a.flushBatches(ctx, out.metrics, out.pools); err != nil {
		return err
	}
	a.cfg.RecomputeFrom = latest
	if err := a.saveState(ctx); err != nil {
		return err
	}

	a.logger.Info("aggregate complete",
		zap.Int("total", stats.total),
		zap.Int("windows", stats.windows),
		zap.Int("skipped", stats.skipped),
		zap.Int("failed", stats.failed),
	)
	return nil
}

type runStats struct {
	total, windows, skipped, failed int
}

type pendingWrites struct {
	metrics []model.PoolWindowMetrics
	pools   []model.PoolMeta
}

func (p *pendingWrites) reset() {
	p.metrics = p.metrics[:0]
	p.pools = p.pools[:0]
}

// accumulatorFor returns the open accumulator for the event's window. When
// the event starts a new window the previous accumulator is returned as
// closed.
func (a *Aggregator) accumulatorFor(ev model.Event) (acc, closed *Accumulator) {
	start := windowStart(ev.Timestamp, a.cfg.WindowSeconds)
	key := poolKey(ev.PoolID)
	acc = a.accumulators[key]
	if acc != nil && acc.WindowStart == start {
		return acc, nil
	}
	closed = acc
	acc = NewAccumulator(ev, start, start+a.cfg.WindowSeconds)
	a.accumulators[key] = acc
	return acc, closed
}

// eachEvent calls fn for every non-blank line of the JSONL file at path.
// Lines that fail to decode are passed with a non-nil decodeErr.
func eachEvent(ctx context.Context, path string, fn func(ev model.Event, decodeErr error) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open events: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxEventLineLength)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev model.Event
		decodeErr := json.Unmarshal(line, &ev)
		if err := fn(ev, decodeErr); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read events: %w", err)
	}
	return nil
}

func (a *Aggregator) loadStartTimestamp(ctx context.Context) (uint64, error) {
	if a.cfg.RecomputeFrom > 0 {
		return a.cfg.RecomputeFrom - 1, nil
	}
	if a.cfg.StateStore == nil {
		return 0, nil
	}
	last, ok, err := a.cfg.StateStore.Load(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return last, nil
}

// saveState records a timestamp before which every window is complete.
func (a *Aggregator) saveState(ctx context.Context) error {
	if a.cfg.StateStore == nil {
		return nil
	}

	if len(a.accumulators) == 0 {
		return a.cfg.StateStore.Save(ctx, a.cfg.RecomputeFrom)
	}

	safeTs := minOpenWindowStart(a.accumulators)
	if safeTs > 0 {
		safeTs--
	}
	return a.cfg.StateStore.Save(ctx, safeTs)
}

func (a *Aggregator) flushBatches(ctx context.Context, batch []model.PoolWindowMetrics, pools []model.PoolMeta) error {
	if len(pools) > 0 {
		if err := a.store.UpsertPools(ctx, pools); err != nil {
			return fmt.Errorf("upsert pools: %w", err)
		}
	}
	if len(batch) > 0 {
		if err := a.store.UpsertWindowMetrics(ctx, batch); err != nil {
			return fmt.Errorf("upsert window metrics: %w", err)
		}
	}
	return nil
}

func (a *Aggregator) flushAccumulator(ctx context.Context, acc *Accumulator) model.PoolWindowMetrics {
	decimalsA := a.tokenDecimals(ctx, acc.TokenA)
	decimalsB := a.tokenDecimals(ctx, acc.TokenB)

	metrics := model.PoolWindowMetrics{
		PoolID:         acc.PoolID,
		WindowSizeSecs: int64(a.cfg.WindowSeconds),
		WindowStart:    time.Unix(int64(acc.WindowStart), 0).UTC(),
		WindowEnd:      time.Unix(int64(acc.WindowEnd), 0).UTC(),
		SwapCount:      acc.SwapCount,
		VolumeA:        formatTokenAmount(acc.VolumeA, decimalsA),
		VolumeB:        formatTokenAmount(acc.VolumeB, decimalsB),
		FeeA:           formatTokenAmount(acc.FeeA, decimalsA),
		FeeB:           formatTokenAmount(acc.FeeB, decimalsB),
		FeeRateA:       computeRate(acc.FeeA, acc.ReserveA),
		FeeRateB:       computeRate(acc.FeeB, acc.ReserveB),
		APR:            computeAPR(acc.FeeA, acc.FeeB, acc.ReserveA, acc.ReserveB, a.cfg.WindowSeconds),
		FeeMethod:      feeMethodEvent,
		TVLMethod:      tvlMethodReserves,
	}
	if acc.ReserveA != nil && acc.ReserveB != nil {
		tvlA := formatTokenAmount(acc.ReserveA, decimalsA)
		tvlB := formatTokenAmount(acc.ReserveB, decimalsB)
		metrics.TVLA, metrics.TVLB = &tvlA, &tvlB
	}
	return metrics
}

// notePool queues pool metadata the first time a pool is seen, or again if
// an earlier creation time shows up.
func (a *Aggregator) notePool(ev model.Event, pools *[]model.PoolMeta) {
	key := poolKey(ev.PoolID)
	meta := model.PoolMeta{
		PoolID:      ev.PoolID,
		TokenA:      ev.TokenA,
		TokenB:      ev.TokenB,
		FeeBps:      ev.FeeBps,
		FirstSeenTS: ev.Timestamp,
	}
	if existing, ok := a.poolSeen[key]; ok && existing.FirstSeenTS <= meta.FirstSeenTS {
		return
	}
	a.poolSeen[key] = meta
	*pools = append(*pools, meta)
}

func (a *Aggregator) tokenDecimals(ctx context.Context, token string) uint8 {
	if a.decimals == nil {
		return 0
	}
	if !common.IsHexAddress(token) {
		a.logger.Warn("invalid token address", zap.String("token", token))
		return 0
	}
	decimals, err := a.decimals.Decimals(ctx, common.HexToAddress(token))
	if err != nil {
		a.logger.Warn("token decimals", zap.String("token", token), zap.Error(err))
		return 0
	}
	return decimals
}

func windowStart(ts uint64, windowSec uint64) uint64 {
	return ts - (ts % windowSec)
}

func poolKey(id string) string {
	return strings.ToLower(id)
}

func minOpenWindowStart(acc map[string]*Accumulator) uint64 {
	var lowest uint64
	for _, entry := range acc {
		if entry == nil {
			continue
		}
		if lowest == 0 || entry.WindowStart < lowest {
			lowest = entry.WindowStart
		}
	}
	return lowest
}
