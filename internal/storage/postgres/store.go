package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ammEngine/internal/model"
)

// Store provides Postgres persistence for engine state, events and metrics.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// PutEventBatch inserts events, skipping ids already stored.
func (s *Store) PutEventBatch(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", ev.ID, err)
		}
		batch.Queue(`
			INSERT INTO pool_events (id, seq, event_type, pool_id, account, ts, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			ON CONFLICT (id) DO NOTHING
		`,
			ev.ID,
			int64(ev.Seq),
			ev.Type,
			ev.PoolID,
			ev.Account,
			int64(ev.Timestamp),
			payload,
		)
	}
	return s.sendBatch(ctx, s.pool, batch, len(events))
}

// Publish stores a single event.
func (s *Store) Publish(ctx context.Context, event model.Event) error {
	return s.PutEventBatch(ctx, []model.Event{event})
}

// UpsertPools inserts or updates pool metadata.
func (s *Store) UpsertPools(ctx context.Context, pools []model.PoolMeta) error {
	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, pool := range pools {
		batch.Queue(`
			INSERT INTO pools (
				pool_id, token_a, token_b, fee_bps, first_seen_ts, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, now(), now())
			ON CONFLICT (pool_id)
			DO UPDATE SET
				token_a = EXCLUDED.token_a,
				token_b = EXCLUDED.token_b,
				fee_bps = EXCLUDED.fee_bps,
				first_seen_ts = LEAST(pools.first_seen_ts, EXCLUDED.first_seen_ts),
				updated_at = now()
		`,
			pool.PoolID,
			pool.TokenA,
			pool.TokenB,
			int32(pool.FeeBps),
			int64(pool.FirstSeenTS),
		)
	}
	return s.sendBatch(ctx, s.pool, batch, len(pools))
}

// UpsertWindowMetrics inserts or updates window metrics.
func (s *Store) UpsertWindowMetrics(ctx context.Context, metrics []model.PoolWindowMetrics) error {
	if len(metrics) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range metrics {
		batch.Queue(`
			INSERT INTO pool_window_metrics (
				pool_id, window_size_seconds, window_start_ts, window_end_ts,
				swap_count, volume_a, volume_b, fee_a, fee_b, fee_rate_a, fee_rate_b,
				tvl_a, tvl_b, apr, fee_method, tvl_method, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,now(),now())
			ON CONFLICT (pool_id, window_size_seconds, window_start_ts)
			DO UPDATE SET
				window_end_ts = EXCLUDED.window_end_ts,
				swap_count = EXCLUDED.swap_count,
				volume_a = EXCLUDED.volume_a,
				volume_b = EXCLUDED.volume_b,
				fee_a = EXCLUDED.fee_a,
				fee_b = EXCLUDED.fee_b,
				fee_rate_a = EXCLUDED.fee_rate_a,
				fee_rate_b = EXCLUDED.fee_rate_b,
				tvl_a = EXCLUDED.tvl_a,
				tvl_b = EXCLUDED.tvl_b,
				apr = EXCLUDED.apr,
				fee_method = EXCLUDED.fee_method,
				tvl_method = EXCLUDED.tvl_method,
				updated_at = now()
		`,
			m.PoolID,
			m.WindowSizeSecs,
			m.WindowStart,
			m.WindowEnd,
			int64(m.SwapCount),
			m.VolumeA,
			m.VolumeB,
			m.FeeA,
			m.FeeB,
			m.FeeRateA,
			m.FeeRateB,
			m.TVLA,
			m.TVLB,
			m.APR,
			m.FeeMethod,
			m.TVLMethod,
		)
	}
	return s.sendBatch(ctx, s.pool, batch, len(metrics))
}

// SaveSnapshot replaces the stored engine state and ledger balances in one
// transaction.
func (s *Store) SaveSnapshot(ctx context.Context, snap model.Snapshot, balances []model.BalanceRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `TRUNCATE pool_state, pool_positions, limit_orders, ledger_balances`); err != nil {
		return fmt.Errorf("clear snapshot tables: %w", err)
	}

	batch := &pgx.Batch{}
	for _, p := range snap.Pools {
		batch.Queue(`
			INSERT INTO pool_state (
				pool_id, token_a, token_b, reserve_a, reserve_b, total_shares, fee_bps,
				cumulative_fees_a, cumulative_fees_b, daily_volume, daily_fees_a, volume_day,
				last_update_ts, created_ts, active, reward_rate, acc_reward_per_share, last_reward_ts,
				reward_budget, rewards_accrued
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		`,
			p.ID, p.TokenA, p.TokenB, p.ReserveA, p.ReserveB, p.TotalShares, int32(p.FeeBps),
			p.CumulativeFeesA, p.CumulativeFeesB, p.DailyVolume, p.DailyFeesA, int64(p.VolumeDay),
			int64(p.LastUpdateTime), int64(p.CreatedAt), p.Active, p.RewardRate, p.AccRewardPerShare,
			int64(p.LastRewardTime), p.RewardBudget, p.RewardsAccrued,
		)
	}
	for _, pos := range snap.Positions {
		batch.Queue(`
			INSERT INTO pool_positions (
				pool_id, provider, shares, reward_debt, pending_rewards, contributed_a, contributed_b
			) VALUES ($1,$2,$3,$4,$5,$6,$7)
		`,
			pos.PoolID, pos.Provider, pos.Shares, pos.RewardDebt, pos.PendingRewards,
			pos.ContributedA, pos.ContributedB,
		)
	}
	for _, o := range snap.Orders {
		batch.Queue(`
			INSERT INTO limit_orders (
				order_id, pool_id, trader, side, token_in, token_out, amount_in, limit_price,
				min_amount_out, created_ts, expiry_ts, status, amount_out, closed_ts
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		`,
			int64(o.ID), o.PoolID, o.Trader, o.Side, o.TokenIn, o.TokenOut, o.AmountIn, o.LimitPrice,
			o.MinAmountOut, int64(o.CreatedAt), int64(o.Expiry), o.Status, o.AmountOut, int64(o.ClosedAt),
		)
	}
	for _, b := range balances {
		batch.Queue(`INSERT INTO ledger_balances (token, owner, amount) VALUES ($1,$2,$3)`,
			b.Token, b.Owner, b.Amount)
	}
	batch.Queue(`
		INSERT INTO engine_meta (id, clock_ts, next_order_id, event_seq, updated_at)
		VALUES (1, $1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE SET
			clock_ts = EXCLUDED.clock_ts,
			next_order_id = EXCLUDED.next_order_id,
			event_seq = EXCLUDED.event_seq,
			updated_at = now()
	`, int64(snap.Clock), int64(snap.NextOrderID), int64(snap.EventSeq))

	queued := len(snap.Pools) + len(snap.Positions) + len(snap.Orders) + len(balances) + 1
	if err := s.sendBatch(ctx, tx, batch, queued); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return tx.Commit(ctx)
}

// LoadSnapshot reads the stored engine state. ok is false when nothing has
// been saved yet.
func (s *Store) LoadSnapshot(ctx context.Context) (model.Snapshot, bool, error) {
	var snap model.Snapshot
	row := s.pool.QueryRow(ctx, `SELECT clock_ts, next_order_id, event_seq FROM engine_meta WHERE id = 1`)
	if err := row.Scan(&snap.Clock, &snap.NextOrderID, &snap.EventSeq); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Snapshot{}, false, nil
		}
		return model.Snapshot{}, false, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT pool_id, token_a, token_b, reserve_a::text, reserve_b::text, total_shares::text, fee_bps,
			cumulative_fees_a::text, cumulative_fees_b::text, daily_volume::text, daily_fees_a::text,
			volume_day, last_update_ts, created_ts, active, reward_rate::text,
			acc_reward_per_share::text, last_reward_ts, reward_budget::text, rewards_accrued::text
		FROM pool_state ORDER BY created_ts, pool_id
	`)
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("query pools: %w", err)
	}
	snap.Pools, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.PoolRecord, error) {
		var p model.PoolRecord
		err := row.Scan(&p.ID, &p.TokenA, &p.TokenB, &p.ReserveA, &p.ReserveB, &p.TotalShares, &p.FeeBps,
			&p.CumulativeFeesA, &p.CumulativeFeesB, &p.DailyVolume, &p.DailyFeesA,
			&p.VolumeDay, &p.LastUpdateTime, &p.CreatedAt, &p.Active, &p.RewardRate,
			&p.AccRewardPerShare, &p.LastRewardTime, &p.RewardBudget, &p.RewardsAccrued)
		return p, err
	})
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("scan pools: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT pool_id, provider, shares::text, reward_debt::text, pending_rewards::text,
			contributed_a::text, contributed_b::text
		FROM pool_positions ORDER BY pool_id, provider
	`)
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("query positions: %w", err)
	}
	snap.Positions, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.PositionRecord, error) {
		var pos model.PositionRecord
		err := row.Scan(&pos.PoolID, &pos.Provider, &pos.Shares, &pos.RewardDebt, &pos.PendingRewards,
			&pos.ContributedA, &pos.ContributedB)
		return pos, err
	})
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("scan positions: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT order_id, pool_id, trader, side, token_in, token_out, amount_in::text, limit_price::text,
			min_amount_out::text, created_ts, expiry_ts, status, amount_out::text, closed_ts
		FROM limit_orders ORDER BY order_id
	`)
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("query orders: %w", err)
	}
	snap.Orders, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.OrderRecord, error) {
		var o model.OrderRecord
		err := row.Scan(&o.ID, &o.PoolID, &o.Trader, &o.Side, &o.TokenIn, &o.TokenOut, &o.AmountIn,
			&o.LimitPrice, &o.MinAmountOut, &o.CreatedAt, &o.Expiry, &o.Status, &o.AmountOut, &o.ClosedAt)
		return o, err
	})
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("scan orders: %w", err)
	}

	return snap, true, nil
}

// LoadBalances reads the ledger balances saved with the last snapshot.
func (s *Store) LoadBalances(ctx context.Context) ([]model.BalanceRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT token, owner, amount::text FROM ledger_balances ORDER BY token, owner`)
	if err != nil {
		return nil, fmt.Errorf("query balances: %w", err)
	}
	balances, err := pgx.CollectRows(rows, pgx.RowToStructByPos[model.BalanceRecord])
	if err != nil {
		return nil, fmt.Errorf("scan balances: %w", err)
	}
	return balances, nil
}

// LoadState returns last_processed_ts for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var ts uint64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_ts FROM aggregate_state WHERE name=$1`, name)
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return ts, true, nil
}

// SaveState upserts last_processed_ts for a name.
func (s *Store) SaveState(ctx context.Context, name string, ts uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO aggregate_state (name, last_processed_ts, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_ts = EXCLUDED.last_processed_ts, updated_at = now()
	`, name, int64(ts))
	return err
}

type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func (s *Store) sendBatch(ctx context.Context, conn batchSender, batch *pgx.Batch, queued int) error {
	br := conn.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < queued; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
