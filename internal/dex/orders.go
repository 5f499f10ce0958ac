package dex

import (
	"context"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"ammEngine/internal/model"
)

type OrderSide string

const (
	// SideSell sells token A for token B.
	SideSell OrderSide = "SELL"
	// SideBuy spends token B to buy token A.
	SideBuy OrderSide = "BUY"
)

type OrderStatus string

const (
	OrderOpen      OrderStatus = "OPEN"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderExpired   OrderStatus = "EXPIRED"
)

// LimitOrder is a standing instruction to swap AmountIn once the pool pays at
// least LimitPrice (tokenOut per tokenIn, scaled by PriceScale). Orders in a
// terminal status never change again.
type LimitOrder struct {
	ID           uint64
	PoolID       common.Hash
	Trader       common.Address
	Side         OrderSide
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     uint256.Int
	LimitPrice   uint256.Int
	MinAmountOut uint256.Int
	CreatedAt    uint64
	// Expiry is an absolute logical timestamp; 0 never expires.
	Expiry    uint64
	Status    OrderStatus
	AmountOut uint256.Int
	ClosedAt  uint64
}

func (o *LimitOrder) expired(now uint64) bool {
	return o.Expiry != 0 && now >= o.Expiry
}

// LimitOrderParams describes a new order. ExpiresIn is in seconds from now;
// zero never expires.
type LimitOrderParams struct {
	PoolID       common.Hash
	Side         OrderSide
	TokenIn      common.Address
	AmountIn     *uint256.Int
	LimitPrice   *uint256.Int
	MinAmountOut *uint256.Int
	ExpiresIn    uint64
}

// CreateLimitOrder escrows AmountIn from the trader and records the order as
// OPEN. Escrowed funds stay outside the pool reserves until the order fills.
func (r *Registry) CreateLimitOrder(ctx context.Context, trader common.Address, params LimitOrderParams) (uint64, error) {
	if params.AmountIn == nil || params.AmountIn.IsZero() {
		return 0, ErrZeroAmount
	}
	limitPrice := orZero(params.LimitPrice)
	minOut := orZero(params.MinAmountOut)
	acct, err := r.account(params.PoolID)
	if err != nil {
		return 0, err
	}

	// Ids of failed orders are not reused.
	r.mu.Lock()
	id := r.nextOrderID
	r.nextOrderID++
	r.mu.Unlock()

	err = r.mutate(ctx, acct, func(tx *poolTxn) error {
		p := tx.pool()
		if err := requireActive(p); err != nil {
			return err
		}
		tokenOut, err := orderTokens(p, params.Side, params.TokenIn)
		if err != nil {
			return err
		}
		expiry := uint64(0)
		if params.ExpiresIn != 0 {
			expiry = tx.now + params.ExpiresIn
			if expiry < tx.now {
				return fmt.Errorf("%w: expiry", ErrArithmeticOverflow)
			}
		}
		if err := incr(p.escrow(params.TokenIn), params.AmountIn); err != nil {
			return err
		}

		order := &LimitOrder{
			ID:           id,
			PoolID:       p.ID,
			Trader:       trader,
			Side:         params.Side,
			TokenIn:      params.TokenIn,
			TokenOut:     tokenOut,
			AmountIn:     *params.AmountIn,
			LimitPrice:   *limitPrice,
			MinAmountOut: *minOut,
			CreatedAt:    tx.now,
			Expiry:       expiry,
			Status:       OrderOpen,
		}
		tx.touchOrder(id)
		tx.acct.orders[id] = order
		tx.acct.openOrders = append(tx.acct.openOrders, id)
		tx.onCommit(func() { r.indexOrder(id, params.PoolID, trader) })

		tx.pull(params.TokenIn, trader, params.AmountIn)
		tx.emit(model.EventOrderCreated, func(ev *model.Event) {
			ev.Account = trader.Hex()
			ev.OrderID = id
			ev.Side = string(params.Side)
			ev.TokenIn = params.TokenIn.Hex()
			ev.TokenOut = tokenOut.Hex()
			ev.AmountIn = FormatAmount(params.AmountIn)
		})
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.logger.Debug("limit order created",
		zap.Uint64("order", id),
		zap.String("pool", params.PoolID.Hex()),
		zap.String("trader", trader.Hex()),
		zap.String("side", string(params.Side)),
	)
	return id, nil
}

// indexOrder makes an order reachable by id and by trader. It runs with the
// pool lock held; r.mu is only ever taken after a pool lock, never before.
func (r *Registry) indexOrder(id uint64, poolID common.Hash, trader common.Address) {
	r.mu.Lock()
	r.orderPools[id] = poolID
	r.traderOrders[trader] = append(r.traderOrders[trader], id)
	r.mu.Unlock()
}

func orZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x
}

// orderTokens checks that the side matches tokenIn and returns tokenOut.
func orderTokens(p *Pool, side OrderSide, tokenIn common.Address) (common.Address, error) {
	switch {
	case side == SideSell && tokenIn == p.TokenA:
		return p.TokenB, nil
	case side == SideBuy && tokenIn == p.TokenB:
		return p.TokenA, nil
	default:
		return common.Address{}, fmt.Errorf("%w: side %q with token %s in pool %s",
			ErrInvalidOrder, side, tokenIn.Hex(), p.ID.Hex())
	}
}

func (r *Registry) orderAccount(id uint64) (*poolAccount, error) {
	r.mu.RLock()
	poolID, ok := r.orderPools[id]
	acct := r.pools[poolID]
	r.mu.RUnlock()
	if !ok || acct == nil {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	return acct, nil
}

// openOrder returns the order for mutation. If it has expired it is resolved
// to EXPIRED, which commits, and ErrOrderExpired is reported to the caller.
func (tx *poolTxn) openOrder(id uint64) (*LimitOrder, bool, error) {
	order, ok := tx.acct.orders[id]
	if !ok {
		return nil, false, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	if order.Status != OrderOpen {
		return nil, false, fmt.Errorf("%w: order %d is %s", ErrOrderNotOpen, id, order.Status)
	}
	if order.expired(tx.now) {
		if err := tx.closeOrder(order, OrderExpired); err != nil {
			return nil, false, err
		}
		tx.report = fmt.Errorf("%w: order %d expired at %d", ErrOrderExpired, id, order.Expiry)
		return order, false, nil
	}
	return order, true, nil
}

// closeOrder moves an open order to CANCELLED or EXPIRED and refunds its
// escrow to the trader.
func (tx *poolTxn) closeOrder(order *LimitOrder, status OrderStatus) error {
	tx.touchOrder(order.ID)
	if err := decr(tx.pool().escrow(order.TokenIn), &order.AmountIn); err != nil {
		return err
	}
	order.Status = status
	order.ClosedAt = tx.now
	tx.acct.removeOpenOrder(order.ID)

	tx.push(order.TokenIn, order.Trader, &order.AmountIn)
	kind := model.EventOrderCancelled
	if status == OrderExpired {
		kind = model.EventOrderExpired
	}
	tx.emit(kind, func(ev *model.Event) {
		ev.Account = order.Trader.Hex()
		ev.OrderID = order.ID
		ev.Side = string(order.Side)
		ev.TokenIn = order.TokenIn.Hex()
		ev.AmountIn = FormatAmount(&order.AmountIn)
	})
	return nil
}

// TryFill executes the order against the pool if the current price meets
// its limit price and minimum output. It returns false, without changing
// anything, when the conditions are not met. Anyone may call it.
func (r *Registry) TryFill(ctx context.Context, id uint64) (bool, error) {
	acct, err := r.orderAccount(id)
	if err != nil {
		return false, err
	}

	filled := false
	err = r.mutate(ctx, acct, func(tx *poolTxn) error {
		order, open, err := tx.openOrder(id)
		if err != nil || !open {
			return err
		}
		p := tx.pool()
		if err := requireActive(p); err != nil {
			return err
		}
		if !fillable(p, order) {
			return nil
		}

		tx.touchOrder(id)
		if err := decr(p.escrow(order.TokenIn), &order.AmountIn); err != nil {
			return err
		}
		out, err := tx.applySwap(order.TokenIn, &order.AmountIn)
		if err != nil {
			return err
		}
		order.Status = OrderFilled
		order.AmountOut = out.amountOut
		order.ClosedAt = tx.now
		tx.acct.removeOpenOrder(id)

		tx.push(out.tokenOut, order.Trader, &out.amountOut)
		tx.emitSwap(order.Trader, order.TokenIn, &order.AmountIn, out)
		tx.emit(model.EventOrderFilled, func(ev *model.Event) {
			ev.Account = order.Trader.Hex()
			ev.OrderID = id
			ev.Side = string(order.Side)
			ev.TokenIn = order.TokenIn.Hex()
			ev.TokenOut = out.tokenOut.Hex()
			ev.AmountIn = FormatAmount(&order.AmountIn)
			ev.AmountOut = FormatAmount(&out.amountOut)
			ev.Fee = FormatAmount(&out.fee)
		})
		filled = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return filled, nil
}

// fillable reports whether the order's full amount would swap at or above
// its limit price and minimum output right now.
func fillable(p *Pool, order *LimitOrder) bool {
	reserveIn, reserveOut, _, ok := p.reserves(order.TokenIn)
	if !ok {
		return false
	}
	out, err := getAmountOut(&order.AmountIn, reserveIn, reserveOut, p.FeeBps)
	if err != nil || out.IsZero() || !out.Lt(reserveOut) {
		return false
	}
	if out.Lt(&order.MinAmountOut) {
		return false
	}
	return meetsLimitPrice(&order.AmountIn, out, &order.LimitPrice)
}

// CancelOrder refunds an open order's escrow. Only the order's trader may
// cancel it.
func (r *Registry) CancelOrder(ctx context.Context, caller common.Address, id uint64) error {
	acct, err := r.orderAccount(id)
	if err != nil {
		return err
	}
	return r.mutate(ctx, acct, func(tx *poolTxn) error {
		if order, ok := tx.acct.orders[id]; ok && order.Trader != caller {
			return fmt.Errorf("%w: %s is not the trader of order %d", ErrUnauthorized, caller.Hex(), id)
		}
		order, open, err := tx.openOrder(id)
		if err != nil || !open {
			return err
		}
		return tx.closeOrder(order, OrderCancelled)
	})
}

// SweepExpired resolves every expired open order of the pool and returns how
// many were expired.
func (r *Registry) SweepExpired(ctx context.Context, poolID common.Hash) (int, error) {
	acct, err := r.account(poolID)
	if err != nil {
		return 0, err
	}
	count := 0
	err = r.mutate(ctx, acct, func(tx *poolTxn) error {
		for _, id := range slices.Clone(tx.acct.openOrders) {
			order := tx.acct.orders[id]
			if !order.expired(tx.now) {
				continue
			}
			if err := tx.closeOrder(order, OrderExpired); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Order returns a copy of the order.
func (r *Registry) Order(id uint64) (LimitOrder, error) {
	acct, err := r.orderAccount(id)
	if err != nil {
		return LimitOrder{}, err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	order, ok := acct.orders[id]
	if !ok {
		return LimitOrder{}, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	return *order, nil
}

// UserOrders returns the account's orders in creation order.
func (r *Registry) UserOrders(account common.Address) []LimitOrder {
	r.mu.RLock()
	ids := slices.Clone(r.traderOrders[account])
	r.mu.RUnlock()

	out := make([]LimitOrder, 0, len(ids))
	for _, id := range ids {
		order, err := r.Order(id)
		if err != nil {
			continue
		}
		out = append(out, order)
	}
	return out
}

// PoolOrders returns all orders of a pool ordered by id.
func (r *Registry) PoolOrders(poolID common.Hash) ([]LimitOrder, error) {
	acct, err := r.account(poolID)
	if err != nil {
		return nil, err
	}
	acct.mu.Lock()
	out := make([]LimitOrder, 0, len(acct.orders))
	for _, order := range acct.orders {
		out = append(out, *order)
	}
	acct.mu.Unlock()
	slices.SortFunc(out, func(a, b LimitOrder) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}
