package dex

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"ammEngine/internal/model"
)

// AddLiquidityResult is the outcome of a deposit.
type AddLiquidityResult struct {
	UsedA        uint256.Int
	UsedB        uint256.Int
	SharesMinted uint256.Int
}

// RemoveLiquidityResult is the outcome of a withdrawal.
type RemoveLiquidityResult struct {
	AmountA uint256.Int
	AmountB uint256.Int
}

// AddLiquidity deposits up to the desired amounts at the pool's current ratio
// and mints shares to the provider. The first deposit sets the price and
// mints sqrt(usedA*usedB) shares.
func (r *Registry) AddLiquidity(ctx context.Context, provider common.Address, poolID common.Hash, amountADesired, amountBDesired, amountAMin, amountBMin *uint256.Int) (AddLiquidityResult, error) {
	if amountADesired.IsZero() || amountBDesired.IsZero() {
		return AddLiquidityResult{}, ErrZeroAmount
	}
	acct, err := r.account(poolID)
	if err != nil {
		return AddLiquidityResult{}, err
	}

	var res AddLiquidityResult
	err = r.mutate(ctx, acct, func(tx *poolTxn) error {
		p := tx.pool()
		if err := requireActive(p); err != nil {
			return err
		}
		usedA, usedB, err := depositAmounts(p, amountADesired, amountBDesired)
		if err != nil {
			return err
		}
		if usedA.Lt(amountAMin) || usedB.Lt(amountBMin) {
			return fmt.Errorf("%w: used (%s, %s) below min (%s, %s)", ErrSlippageExceeded,
				FormatAmount(usedA), FormatAmount(usedB), FormatAmount(amountAMin), FormatAmount(amountBMin))
		}
		minted, err := sharesFor(p, usedA, usedB)
		if err != nil {
			return err
		}
		if minted.IsZero() {
			return fmt.Errorf("%w: deposit mints no shares", ErrInsufficientLiquidity)
		}

		pos, err := tx.syncPosition(provider)
		if err != nil {
			return err
		}
		for _, step := range []struct{ target, delta *uint256.Int }{
			{&p.ReserveA, usedA},
			{&p.ReserveB, usedB},
			{&p.TotalShares, minted},
			{&pos.Shares, minted},
			{&pos.ContributedA, usedA},
			{&pos.ContributedB, usedB},
		} {
			if err := incr(step.target, step.delta); err != nil {
				return err
			}
		}
		p.LastUpdateTime = tx.now

		tx.pull(p.TokenA, provider, usedA)
		tx.pull(p.TokenB, provider, usedB)
		tx.emit(model.EventLiquidityAdded, func(ev *model.Event) {
			ev.Account = provider.Hex()
			ev.AmountA = FormatAmount(usedA)
			ev.AmountB = FormatAmount(usedB)
			ev.Shares = FormatAmount(minted)
		})
		res = AddLiquidityResult{UsedA: *usedA, UsedB: *usedB, SharesMinted: *minted}
		return nil
	})
	if err != nil {
		return AddLiquidityResult{}, err
	}
	r.logger.Debug("liquidity added",
		zap.String("pool", poolID.Hex()),
		zap.String("provider", provider.Hex()),
		zap.String("shares", FormatAmount(&res.SharesMinted)),
	)
	return res, nil
}

// depositAmounts picks the largest deposit at the pool ratio that fits within
// both desired amounts.
func depositAmounts(p *Pool, desiredA, desiredB *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if p.TotalShares.IsZero() {
		return new(uint256.Int).Set(desiredA), new(uint256.Int).Set(desiredB), nil
	}
	optimalB, err := mulDiv(desiredA, &p.ReserveB, &p.ReserveA)
	if err != nil {
		return nil, nil, err
	}
	if !desiredB.Lt(optimalB) {
		return new(uint256.Int).Set(desiredA), optimalB, nil
	}
	optimalA, err := mulDiv(desiredB, &p.ReserveA, &p.ReserveB)
	if err != nil {
		return nil, nil, err
	}
	return optimalA, new(uint256.Int).Set(desiredB), nil
}

func sharesFor(p *Pool, usedA, usedB *uint256.Int) (*uint256.Int, error) {
	if p.TotalShares.IsZero() {
		return sqrtProduct(usedA, usedB)
	}
	viaA, err := mulDiv(&p.TotalShares, usedA, &p.ReserveA)
	if err != nil {
		return nil, err
	}
	viaB, err := mulDiv(&p.TotalShares, usedB, &p.ReserveB)
	if err != nil {
		return nil, err
	}
	return minAmount(viaA, viaB), nil
}

// RemoveLiquidity burns shares and pays out the proportional reserves.
// Withdrawals are allowed on paused pools.
func (r *Registry) RemoveLiquidity(ctx context.Context, provider common.Address, poolID common.Hash, shares, amountAMin, amountBMin *uint256.Int) (RemoveLiquidityResult, error) {
	if shares.IsZero() {
		return RemoveLiquidityResult{}, ErrZeroAmount
	}
	acct, err := r.account(poolID)
	if err != nil {
		return RemoveLiquidityResult{}, err
	}

	var res RemoveLiquidityResult
	err = r.mutate(ctx, acct, func(tx *poolTxn) error {
		p := tx.pool()
		held, ok := tx.acct.position(provider)
		if !ok || held.Shares.Lt(shares) {
			return fmt.Errorf("%w: %s holds fewer than %s shares", ErrInsufficientLiquidity,
				provider.Hex(), FormatAmount(shares))
		}
		amountA, err := mulDiv(&p.ReserveA, shares, &p.TotalShares)
		if err != nil {
			return err
		}
		amountB, err := mulDiv(&p.ReserveB, shares, &p.TotalShares)
		if err != nil {
			return err
		}
		if amountA.Lt(amountAMin) || amountB.Lt(amountBMin) {
			return fmt.Errorf("%w: out (%s, %s) below min (%s, %s)", ErrSlippageExceeded,
				FormatAmount(amountA), FormatAmount(amountB), FormatAmount(amountAMin), FormatAmount(amountBMin))
		}

		pos, err := tx.syncPosition(provider)
		if err != nil {
			return err
		}
		for _, step := range []struct{ target, delta *uint256.Int }{
			{&pos.Shares, shares},
			{&p.TotalShares, shares},
			{&p.ReserveA, amountA},
			{&p.ReserveB, amountB},
		} {
			if err := decr(step.target, step.delta); err != nil {
				return err
			}
		}
		p.LastUpdateTime = tx.now
		tx.acct.prunePosition(provider)

		tx.push(p.TokenA, provider, amountA)
		tx.push(p.TokenB, provider, amountB)
		tx.emit(model.EventLiquidityRemoved, func(ev *model.Event) {
			ev.Account = provider.Hex()
			ev.AmountA = FormatAmount(amountA)
			ev.AmountB = FormatAmount(amountB)
			ev.Shares = FormatAmount(shares)
		})
		res = RemoveLiquidityResult{AmountA: *amountA, AmountB: *amountB}
		return nil
	})
	if err != nil {
		return RemoveLiquidityResult{}, err
	}
	r.logger.Debug("liquidity removed",
		zap.String("pool", poolID.Hex()),
		zap.String("provider", provider.Hex()),
		zap.String("shares", FormatAmount(shares)),
	)
	return res, nil
}
