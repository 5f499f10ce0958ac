package dex

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"ammEngine/internal/model"
)

// SwapResult describes an executed swap.
type SwapResult struct {
	TokenIn   common.Address
	TokenOut  common.Address
	AmountIn  uint256.Int
	AmountOut uint256.Int
	Fee       uint256.Int
}

// Quote prices a swap of amountIn against the pool's current reserves.
// It does not modify state.
func (r *Registry) Quote(poolID common.Hash, tokenIn common.Address, amountIn *uint256.Int) (*uint256.Int, error) {
	acct, err := r.account(poolID)
	if err != nil {
		return nil, err
	}
	acct.mu.Lock()
	p := acct.state
	acct.mu.Unlock()

	reserveIn, reserveOut, _, ok := p.reserves(tokenIn)
	if !ok {
		return nil, fmt.Errorf("%w: %s not in pool %s", ErrInvalidToken, tokenIn.Hex(), poolID.Hex())
	}
	return getAmountOut(amountIn, reserveIn, reserveOut, p.FeeBps)
}

// Swap sells amountIn of tokenIn for the pool's other token. The trader
// receives at least minAmountOut or the swap fails with ErrSlippageExceeded
// and nothing changes.
func (r *Registry) Swap(ctx context.Context, trader common.Address, poolID common.Hash, tokenIn common.Address, amountIn, minAmountOut *uint256.Int) (SwapResult, error) {
	if amountIn.IsZero() {
		return SwapResult{}, ErrZeroAmount
	}
	acct, err := r.account(poolID)
	if err != nil {
		return SwapResult{}, err
	}

	var res SwapResult
	err = r.mutate(ctx, acct, func(tx *poolTxn) error {
		if err := requireActive(tx.pool()); err != nil {
			return err
		}
		out, err := tx.applySwap(tokenIn, amountIn)
		if err != nil {
			return err
		}
		if out.amountOut.Lt(minAmountOut) {
			return fmt.Errorf("%w: out %s < min %s", ErrSlippageExceeded,
				FormatAmount(&out.amountOut), FormatAmount(minAmountOut))
		}
		tx.pull(tokenIn, trader, amountIn)
		tx.push(out.tokenOut, trader, &out.amountOut)
		tx.emitSwap(trader, tokenIn, amountIn, out)

		res = SwapResult{
			TokenIn:   tokenIn,
			TokenOut:  out.tokenOut,
			AmountIn:  *amountIn,
			AmountOut: out.amountOut,
			Fee:       out.fee,
		}
		return nil
	})
	if err != nil {
		return SwapResult{}, err
	}

	r.logger.Debug("swap",
		zap.String("pool", poolID.Hex()),
		zap.String("trader", trader.Hex()),
		zap.String("amount_in", FormatAmount(&res.AmountIn)),
		zap.String("amount_out", FormatAmount(&res.AmountOut)),
	)
	if r.cfg.AutoFill {
		r.autoFill(ctx, acct)
	}
	return res, nil
}

type swapOutcome struct {
	tokenOut  common.Address
	amountOut uint256.Int
	fee       uint256.Int
}

// applySwap moves amountIn into the pool and amountOut out of it, updating
// fee and volume statistics. The caller arranges the matching transfers.
func (tx *poolTxn) applySwap(tokenIn common.Address, amountIn *uint256.Int) (swapOutcome, error) {
	p := tx.pool()
	reserveIn, reserveOut, tokenOut, ok := p.reserves(tokenIn)
	if !ok {
		return swapOutcome{}, fmt.Errorf("%w: %s not in pool %s", ErrInvalidToken, tokenIn.Hex(), p.ID.Hex())
	}
	amountOut, err := getAmountOut(amountIn, reserveIn, reserveOut, p.FeeBps)
	if err != nil {
		return swapOutcome{}, err
	}
	if amountOut.IsZero() {
		return swapOutcome{}, ErrInsufficientOutput
	}
	if !amountOut.Lt(reserveOut) {
		return swapOutcome{}, fmt.Errorf("%w: output %s drains reserve %s", ErrInsufficientReserves,
			FormatAmount(amountOut), FormatAmount(reserveOut))
	}
	fee, err := feeAmount(amountIn, p.FeeBps)
	if err != nil {
		return swapOutcome{}, err
	}

	oldA, oldB := p.ReserveA, p.ReserveB
	volumeA, feeA, err := tokenAValues(p, tokenIn, amountIn, amountOut, fee)
	if err != nil {
		return swapOutcome{}, err
	}

	if err := incr(reserveIn, amountIn); err != nil {
		return swapOutcome{}, err
	}
	if err := decr(reserveOut, amountOut); err != nil {
		return swapOutcome{}, err
	}
	if !productNotDecreased(&oldA, &oldB, &p.ReserveA, &p.ReserveB) {
		return swapOutcome{}, ErrInvariantViolation
	}

	cumulative := &p.CumulativeFeesA
	if tokenIn == p.TokenB {
		cumulative = &p.CumulativeFeesB
	}
	if err := incr(cumulative, fee); err != nil {
		return swapOutcome{}, err
	}
	rollDay(p, tx.now)
	if err := incr(&p.DailyVolume, volumeA); err != nil {
		return swapOutcome{}, err
	}
	if err := incr(&p.DailyFeesA, feeA); err != nil {
		return swapOutcome{}, err
	}
	p.LastUpdateTime = tx.now

	return swapOutcome{tokenOut: tokenOut, amountOut: *amountOut, fee: *fee}, nil
}

// tokenAValues expresses a swap's volume and fee in token A. A fee paid in
// token B is converted at the pre-swap reserve ratio.
func tokenAValues(p *Pool, tokenIn common.Address, amountIn, amountOut, fee *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if tokenIn == p.TokenA {
		return new(uint256.Int).Set(amountIn), new(uint256.Int).Set(fee), nil
	}
	feeA, err := mulDiv(fee, &p.ReserveA, &p.ReserveB)
	if err != nil {
		return nil, nil, err
	}
	return new(uint256.Int).Set(amountOut), feeA, nil
}

// rollDay zeroes the daily statistics when the logical day changes.
func rollDay(p *Pool, now uint64) {
	day := now / secondsPerDay
	if day == p.VolumeDay {
		return
	}
	p.VolumeDay = day
	p.DailyVolume.Clear()
	p.DailyFeesA.Clear()
}

func (tx *poolTxn) emitSwap(trader, tokenIn common.Address, amountIn *uint256.Int, out swapOutcome) {
	tx.emit(model.EventSwap, func(ev *model.Event) {
		ev.Account = trader.Hex()
		ev.TokenIn = tokenIn.Hex()
		ev.TokenOut = out.tokenOut.Hex()
		ev.AmountIn = FormatAmount(amountIn)
		ev.AmountOut = FormatAmount(&out.amountOut)
		ev.Fee = FormatAmount(&out.fee)
	})
}

// autoFill tries the pool's oldest open orders after a swap moved its price.
// Each attempt is its own atomic operation and fills do not trigger further
// auto-fills.
func (r *Registry) autoFill(ctx context.Context, acct *poolAccount) {
	acct.mu.Lock()
	n := len(acct.openOrders)
	if n > r.cfg.MaxAutoFills {
		n = r.cfg.MaxAutoFills
	}
	candidates := append([]uint64(nil), acct.openOrders[:n]...)
	acct.mu.Unlock()

	for _, id := range candidates {
		filled, err := r.TryFill(ctx, id)
		switch {
		case err == nil:
			if filled {
				r.logger.Debug("order auto-filled", zap.Uint64("order", id))
			}
		case errors.Is(err, ErrOrderExpired), errors.Is(err, ErrOrderNotOpen):
		default:
			r.logger.Warn("auto-fill", zap.Uint64("order", id), zap.Error(err))
		}
	}
}
