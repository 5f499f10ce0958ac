package dex

import (
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"ammEngine/internal/model"
)

// Snapshot captures pools, positions and orders in storage form. Pools are
// locked one at a time, so a snapshot taken under concurrent writes is
// consistent per pool.
func (r *Registry) Snapshot() model.Snapshot {
	r.mu.RLock()
	ids := slices.Clone(r.poolOrder)
	accts := make([]*poolAccount, len(ids))
	for i, id := range ids {
		accts[i] = r.pools[id]
	}
	nextOrderID := r.nextOrderID
	r.mu.RUnlock()

	snap := model.Snapshot{
		Clock:       r.clock.Now(),
		NextOrderID: nextOrderID,
		EventSeq:    r.eventSeq.Load(),
	}
	for _, acct := range accts {
		acct.mu.Lock()
		snap.Pools = append(snap.Pools, poolRecord(&acct.state))
		for i := range acct.positions {
			snap.Positions = append(snap.Positions, positionRecord(acct.state.ID, &acct.positions[i]))
		}
		for _, order := range acct.orders {
			snap.Orders = append(snap.Orders, orderRecord(order))
		}
		acct.mu.Unlock()
	}
	slices.SortFunc(snap.Orders, func(a, b model.OrderRecord) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return snap
}

func poolRecord(p *Pool) model.PoolRecord {
	return model.PoolRecord{
		ID:                p.ID.Hex(),
		TokenA:            p.TokenA.Hex(),
		TokenB:            p.TokenB.Hex(),
		ReserveA:          FormatAmount(&p.ReserveA),
		ReserveB:          FormatAmount(&p.ReserveB),
		TotalShares:       FormatAmount(&p.TotalShares),
		FeeBps:            p.FeeBps,
		CumulativeFeesA:   FormatAmount(&p.CumulativeFeesA),
		CumulativeFeesB:   FormatAmount(&p.CumulativeFeesB),
		DailyVolume:       FormatAmount(&p.DailyVolume),
		DailyFeesA:        FormatAmount(&p.DailyFeesA),
		VolumeDay:         p.VolumeDay,
		LastUpdateTime:    p.LastUpdateTime,
		CreatedAt:         p.CreatedAt,
		Active:            p.Active,
		RewardRate:        FormatAmount(&p.RewardRate),
		AccRewardPerShare: FormatAmount(&p.AccRewardPerShare),
		LastRewardTime:    p.LastRewardTime,
		RewardBudget:      FormatAmount(&p.RewardBudget),
		RewardsAccrued:    FormatAmount(&p.RewardsAccrued),
	}
}

func positionRecord(poolID common.Hash, pos *LiquidityPosition) model.PositionRecord {
	return model.PositionRecord{
		PoolID:         poolID.Hex(),
		Provider:       pos.Provider.Hex(),
		Shares:         FormatAmount(&pos.Shares),
		RewardDebt:     FormatAmount(&pos.RewardDebt),
		PendingRewards: FormatAmount(&pos.PendingRewards),
		ContributedA:   FormatAmount(&pos.ContributedA),
		ContributedB:   FormatAmount(&pos.ContributedB),
	}
}

func orderRecord(o *LimitOrder) model.OrderRecord {
	return model.OrderRecord{
		ID:           o.ID,
		PoolID:       o.PoolID.Hex(),
		Trader:       o.Trader.Hex(),
		Side:         string(o.Side),
		TokenIn:      o.TokenIn.Hex(),
		TokenOut:     o.TokenOut.Hex(),
		AmountIn:     FormatAmount(&o.AmountIn),
		LimitPrice:   FormatAmount(&o.LimitPrice),
		MinAmountOut: FormatAmount(&o.MinAmountOut),
		CreatedAt:    o.CreatedAt,
		Expiry:       o.Expiry,
		Status:       string(o.Status),
		AmountOut:    FormatAmount(&o.AmountOut),
		ClosedAt:     o.ClosedAt,
	}
}

// recordDecoder parses storage fields, keeping the first error.
type recordDecoder struct {
	err error
}

func (d *recordDecoder) amount(dst *uint256.Int, field, value string) {
	if d.err != nil {
		return
	}
	v, err := ParseAmount(value)
	if err != nil {
		d.err = fmt.Errorf("%s: %w", field, err)
		return
	}
	dst.Set(v)
}

func (d *recordDecoder) address(field, value string) common.Address {
	if d.err != nil {
		return common.Address{}
	}
	addr, err := ParseAddress(value)
	if err != nil {
		d.err = fmt.Errorf("%s: %w", field, err)
	}
	return addr
}

func (d *recordDecoder) poolID(field, value string) common.Hash {
	if d.err != nil {
		return common.Hash{}
	}
	id, err := ParsePoolID(value)
	if err != nil {
		d.err = fmt.Errorf("%s: %w", field, err)
	}
	return id
}

// Restore replaces the registry's contents with a snapshot. Escrow totals and
// the order indexes are rebuilt from the orders.
func (r *Registry) Restore(snap model.Snapshot) error {
	pools := make(map[common.Hash]*poolAccount, len(snap.Pools))
	poolOrder := make([]common.Hash, 0, len(snap.Pools))

	for i, rec := range snap.Pools {
		var d recordDecoder
		p := Pool{
			ID:             d.poolID("id", rec.ID),
			TokenA:         d.address("token_a", rec.TokenA),
			TokenB:         d.address("token_b", rec.TokenB),
			FeeBps:         rec.FeeBps,
			VolumeDay:      rec.VolumeDay,
			LastUpdateTime: rec.LastUpdateTime,
			CreatedAt:      rec.CreatedAt,
			Active:         rec.Active,
			LastRewardTime: rec.LastRewardTime,
		}
		d.amount(&p.ReserveA, "reserve_a", rec.ReserveA)
		d.amount(&p.ReserveB, "reserve_b", rec.ReserveB)
		d.amount(&p.TotalShares, "total_shares", rec.TotalShares)
		d.amount(&p.CumulativeFeesA, "cumulative_fees_a", rec.CumulativeFeesA)
		d.amount(&p.CumulativeFeesB, "cumulative_fees_b", rec.CumulativeFeesB)
		d.amount(&p.DailyVolume, "daily_volume", rec.DailyVolume)
		d.amount(&p.DailyFeesA, "daily_fees_a", rec.DailyFeesA)
		d.amount(&p.RewardRate, "reward_rate", rec.RewardRate)
		d.amount(&p.AccRewardPerShare, "acc_reward_per_share", rec.AccRewardPerShare)
		d.amount(&p.RewardBudget, "reward_budget", rec.RewardBudget)
		d.amount(&p.RewardsAccrued, "rewards_accrued", rec.RewardsAccrued)
		if d.err != nil {
			return fmt.Errorf("pool %d: %w", i, d.err)
		}
		if p.ReserveA.IsZero() != p.ReserveB.IsZero() || p.ReserveA.IsZero() != p.TotalShares.IsZero() {
			return fmt.Errorf("pool %d: %w: reserves (%s, %s) with %s shares", i, ErrInvariantViolation,
				rec.ReserveA, rec.ReserveB, rec.TotalShares)
		}
		want, err := PoolID(p.TokenA, p.TokenB)
		if err != nil {
			return fmt.Errorf("pool %d: %w", i, err)
		}
		if want != p.ID || p.FeeBps >= BpsDenominator {
			return fmt.Errorf("pool %d: inconsistent record %s", i, rec.ID)
		}
		if _, dup := pools[p.ID]; dup {
			return fmt.Errorf("pool %d: %w: %s", i, ErrPoolAlreadyExists, rec.ID)
		}
		pools[p.ID] = newPoolAccount(p)
		poolOrder = append(poolOrder, p.ID)
	}

	for i, rec := range snap.Positions {
		var d recordDecoder
		poolID := d.poolID("pool_id", rec.PoolID)
		pos := LiquidityPosition{Provider: d.address("provider", rec.Provider)}
		d.amount(&pos.Shares, "shares", rec.Shares)
		d.amount(&pos.RewardDebt, "reward_debt", rec.RewardDebt)
		d.amount(&pos.PendingRewards, "pending_rewards", rec.PendingRewards)
		d.amount(&pos.ContributedA, "contributed_a", rec.ContributedA)
		d.amount(&pos.ContributedB, "contributed_b", rec.ContributedB)
		if d.err != nil {
			return fmt.Errorf("position %d: %w", i, d.err)
		}
		acct, ok := pools[poolID]
		if !ok {
			return fmt.Errorf("position %d: %w: %s", i, ErrPoolNotFound, rec.PoolID)
		}
		if _, dup := acct.position(pos.Provider); dup {
			return fmt.Errorf("position %d: %w: duplicate provider %s", i, ErrInvariantViolation, rec.Provider)
		}
		acct.putPosition(pos)
	}
	for _, id := range poolOrder {
		acct := pools[id]
		sum := new(uint256.Int)
		for j := range acct.positions {
			if err := incr(sum, &acct.positions[j].Shares); err != nil {
				return fmt.Errorf("pool %s: %w", id.Hex(), err)
			}
		}
		if !sum.Eq(&acct.state.TotalShares) {
			return fmt.Errorf("pool %s: %w: positions hold %s of %s shares", id.Hex(), ErrInvariantViolation,
				FormatAmount(sum), FormatAmount(&acct.state.TotalShares))
		}
	}

	orders := slices.Clone(snap.Orders)
	slices.SortFunc(orders, func(a, b model.OrderRecord) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	orderPools := make(map[uint64]common.Hash, len(orders))
	traderOrders := make(map[common.Address][]uint64)
	nextOrderID := max(snap.NextOrderID, 1)

	for _, rec := range orders {
		var d recordDecoder
		o := &LimitOrder{
			ID:        rec.ID,
			PoolID:    d.poolID("pool_id", rec.PoolID),
			Trader:    d.address("trader", rec.Trader),
			Side:      OrderSide(rec.Side),
			TokenIn:   d.address("token_in", rec.TokenIn),
			TokenOut:  d.address("token_out", rec.TokenOut),
			CreatedAt: rec.CreatedAt,
			Expiry:    rec.Expiry,
			Status:    OrderStatus(rec.Status),
			ClosedAt:  rec.ClosedAt,
		}
		d.amount(&o.AmountIn, "amount_in", rec.AmountIn)
		d.amount(&o.LimitPrice, "limit_price", rec.LimitPrice)
		d.amount(&o.MinAmountOut, "min_amount_out", rec.MinAmountOut)
		d.amount(&o.AmountOut, "amount_out", rec.AmountOut)
		if d.err != nil {
			return fmt.Errorf("order %d: %w", rec.ID, d.err)
		}
		acct, ok := pools[o.PoolID]
		if !ok {
			return fmt.Errorf("order %d: %w: %s", rec.ID, ErrPoolNotFound, rec.PoolID)
		}
		if _, dup := orderPools[o.ID]; dup {
			return fmt.Errorf("order %d: duplicate id", rec.ID)
		}
		tokenOut, err := orderTokens(&acct.state, o.Side, o.TokenIn)
		if err != nil || tokenOut != o.TokenOut {
			return fmt.Errorf("order %d: %w", rec.ID, ErrInvalidOrder)
		}
		switch o.Status {
		case OrderOpen:
			if err := incr(acct.state.escrow(o.TokenIn), &o.AmountIn); err != nil {
				return fmt.Errorf("order %d: %w", rec.ID, err)
			}
			acct.openOrders = append(acct.openOrders, o.ID)
		case OrderFilled, OrderCancelled, OrderExpired:
		default:
			return fmt.Errorf("order %d: %w: status %q", rec.ID, ErrInvalidOrder, rec.Status)
		}
		acct.orders[o.ID] = o
		orderPools[o.ID] = o.PoolID
		traderOrders[o.Trader] = append(traderOrders[o.Trader], o.ID)
		if o.ID >= nextOrderID {
			nextOrderID = o.ID + 1
		}
	}

	r.mu.Lock()
	r.pools = pools
	r.poolOrder = poolOrder
	r.orderPools = orderPools
	r.traderOrders = traderOrders
	r.nextOrderID = nextOrderID
	r.mu.Unlock()
	r.eventSeq.Store(snap.EventSeq)
	return nil
}
