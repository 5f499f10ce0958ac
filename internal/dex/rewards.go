package dex

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"ammEngine/internal/model"
)

// UserLiquidity is a provider's view of one pool.
type UserLiquidity struct {
	Shares         uint256.Int
	PendingRewards uint256.Int
	ContributedA   uint256.Int
	ContributedB   uint256.Int
}

// accrue advances the pool's reward accumulator to now:
//
//	emitted = min(rate * (now - lastRewardTime), rewardBudget)
//	acc    += emitted * RewardScale / totalShares
//
// Time with no shares outstanding earns nothing and leaves the budget intact.
// Accumulator rounding dust stays in RewardsAccrued.
func accrue(p *Pool, now uint64) error {
	if now <= p.LastRewardTime {
		return nil
	}
	if !p.TotalShares.IsZero() && !p.RewardRate.IsZero() && !p.RewardBudget.IsZero() {
		emitted, err := mulAmount(&p.RewardRate, uint256.NewInt(now-p.LastRewardTime))
		if err != nil {
			return err
		}
		if p.RewardBudget.Lt(emitted) {
			emitted.Set(&p.RewardBudget)
		}
		delta, err := mulDiv(emitted, RewardScale, &p.TotalShares)
		if err != nil {
			return err
		}
		if err := incr(&p.AccRewardPerShare, delta); err != nil {
			return err
		}
		if err := decr(&p.RewardBudget, emitted); err != nil {
			return err
		}
		if err := incr(&p.RewardsAccrued, emitted); err != nil {
			return err
		}
	}
	p.LastRewardTime = now
	return nil
}

// settlePosition moves rewards earned since the position's last snapshot into
// PendingRewards. It must run before the position's shares change.
func settlePosition(p *Pool, pos *LiquidityPosition) error {
	delta, err := subAmount(&p.AccRewardPerShare, &pos.RewardDebt)
	if err != nil {
		return err
	}
	earned, err := mulDiv(&pos.Shares, delta, RewardScale)
	if err != nil {
		return err
	}
	if err := incr(&pos.PendingRewards, earned); err != nil {
		return err
	}
	pos.RewardDebt = p.AccRewardPerShare
	return nil
}

// syncPosition accrues the pool and settles the provider's position, creating
// it if needed. The returned pointer is valid until the arena next grows.
func (tx *poolTxn) syncPosition(provider common.Address) (*LiquidityPosition, error) {
	p := tx.pool()
	if err := accrue(p, tx.now); err != nil {
		return nil, err
	}
	tx.touchPosition(provider)
	pos := tx.acct.ensurePosition(provider)
	if err := settlePosition(p, pos); err != nil {
		return nil, err
	}
	return pos, nil
}

// ClaimRewards pays the provider's accrued rewards in the configured reward
// token and returns the amount paid.
func (r *Registry) ClaimRewards(ctx context.Context, provider common.Address, poolID common.Hash) (*uint256.Int, error) {
	acct, err := r.account(poolID)
	if err != nil {
		return nil, err
	}

	paid := new(uint256.Int)
	err = r.mutate(ctx, acct, func(tx *poolTxn) error {
		if _, ok := tx.acct.position(provider); !ok {
			return fmt.Errorf("%w: %s has no position in %s", ErrUnauthorized, provider.Hex(), poolID.Hex())
		}
		pos, err := tx.syncPosition(provider)
		if err != nil {
			return err
		}
		paid.Set(&pos.PendingRewards)
		pos.PendingRewards.Clear()
		if !paid.IsZero() && r.cfg.RewardToken == (common.Address{}) {
			return fmt.Errorf("%w: no reward token configured", ErrInvalidToken)
		}
		if err := decr(&tx.pool().RewardsAccrued, paid); err != nil {
			return fmt.Errorf("%w: claim exceeds accrued rewards", err)
		}
		tx.acct.prunePosition(provider)

		tx.push(r.cfg.RewardToken, provider, paid)
		tx.emit(model.EventRewardsClaimed, func(ev *model.Event) {
			ev.Account = provider.Hex()
			ev.Rewards = FormatAmount(paid)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Debug("rewards claimed",
		zap.String("pool", poolID.Hex()),
		zap.String("provider", provider.Hex()),
		zap.String("amount", FormatAmount(paid)),
	)
	return paid, nil
}

// FundRewards pulls amount of the reward token from funder into the pool's
// reward budget. Emission stops once the budget is spent, so claims are never
// paid out of the reserves.
func (r *Registry) FundRewards(ctx context.Context, funder common.Address, poolID common.Hash, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	if r.cfg.RewardToken == (common.Address{}) {
		return fmt.Errorf("%w: no reward token configured", ErrInvalidToken)
	}
	acct, err := r.account(poolID)
	if err != nil {
		return err
	}
	err = r.mutate(ctx, acct, func(tx *poolTxn) error {
		p := tx.pool()
		// Settle time spent on the old budget first so the new funds are not
		// emitted retroactively.
		if err := accrue(p, tx.now); err != nil {
			return err
		}
		if err := incr(&p.RewardBudget, amount); err != nil {
			return err
		}
		tx.pull(r.cfg.RewardToken, funder, amount)
		tx.emit(model.EventRewardsFunded, func(ev *model.Event) {
			ev.Account = funder.Hex()
			ev.Rewards = FormatAmount(amount)
		})
		return nil
	})
	if err != nil {
		return err
	}
	r.logger.Debug("rewards funded",
		zap.String("pool", poolID.Hex()),
		zap.String("funder", funder.Hex()),
		zap.String("amount", FormatAmount(amount)),
	)
	return nil
}

// SetRewardRate changes the pool's per-second emission. Rewards up to now are
// accrued at the previous rate.
func (r *Registry) SetRewardRate(ctx context.Context, poolID common.Hash, rate *uint256.Int) error {
	if !rate.IsZero() && r.cfg.RewardToken == (common.Address{}) {
		return fmt.Errorf("%w: no reward token configured", ErrInvalidToken)
	}
	acct, err := r.account(poolID)
	if err != nil {
		return err
	}
	return r.mutate(ctx, acct, func(tx *poolTxn) error {
		p := tx.pool()
		if err := accrue(p, tx.now); err != nil {
			return err
		}
		p.RewardRate = *rate
		tx.emit(model.EventRewardRateUpdated, func(ev *model.Event) {
			ev.RewardRate = FormatAmount(rate)
		})
		return nil
	})
}

// UserLiquidityInfo reports the account's shares, rewards earned up to now and
// cumulative contributions. An account without a position reads as zero.
func (r *Registry) UserLiquidityInfo(poolID common.Hash, account common.Address) (UserLiquidity, error) {
	acct, err := r.account(poolID)
	if err != nil {
		return UserLiquidity{}, err
	}
	now := r.clock.Now()

	acct.mu.Lock()
	p := acct.state
	pos, ok := acct.position(account)
	var view LiquidityPosition
	if ok {
		view = *pos
	}
	acct.mu.Unlock()
	if !ok {
		return UserLiquidity{}, nil
	}

	if err := accrue(&p, now); err != nil {
		return UserLiquidity{}, err
	}
	if err := settlePosition(&p, &view); err != nil {
		return UserLiquidity{}, err
	}
	return UserLiquidity{
		Shares:         view.Shares,
		PendingRewards: view.PendingRewards,
		ContributedA:   view.ContributedA,
		ContributedB:   view.ContributedB,
	}, nil
}
