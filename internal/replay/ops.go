package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"ammEngine/internal/dex"
	"ammEngine/internal/ledger"
	"ammEngine/internal/model"
)

// Operation kinds accepted in a replay file.
const (
	OpMint            = "mint"
	OpCreatePool      = "create_pool"
	OpSetPoolActive   = "set_pool_active"
	OpAddLiquidity    = "add_liquidity"
	OpRemoveLiquidity = "remove_liquidity"
	OpSwap            = "swap"
	OpCreateOrder     = "create_order"
	OpCancelOrder     = "cancel_order"
	OpFillOrder       = "fill_order"
	OpSweepExpired    = "sweep_expired"
	OpClaimRewards    = "claim_rewards"
	OpSetRewardRate   = "set_reward_rate"
	OpFundRewards     = "fund_rewards"
)

const maxLineBytes = 1024 * 1024

// LoadOperations reads a JSONL operations file. Operations without a seq
// are numbered by their position in the file.
func LoadOperations(path string) ([]model.Operation, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open operations: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var ops []model.Operation
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var op model.Operation
		if err := json.Unmarshal([]byte(line), &op); err != nil {
			return nil, fmt.Errorf("parse operation line %d: %w", lineNo, err)
		}
		if op.Seq == 0 {
			op.Seq = uint64(len(ops) + 1)
		}
		ops = append(ops, op)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan operations: %w", err)
	}
	return ops, nil
}

// fields decodes operation fields, keeping the first error.
type fields struct {
	err error
}

func (f *fields) address(name, value string) common.Address {
	if f.err != nil {
		return common.Address{}
	}
	addr, err := dex.ParseAddress(value)
	if err != nil {
		f.err = fmt.Errorf("%s: %w", name, err)
	}
	return addr
}

func (f *fields) pool(value string) common.Hash {
	if f.err != nil {
		return common.Hash{}
	}
	id, err := dex.ParsePoolID(value)
	if err != nil {
		f.err = fmt.Errorf("pool_id: %w", err)
	}
	return id
}

func (f *fields) amount(name, value string) *uint256.Int {
	if f.err != nil {
		return new(uint256.Int)
	}
	v, err := dex.ParseAmount(value)
	if err != nil {
		f.err = fmt.Errorf("%s: %w", name, err)
		return new(uint256.Int)
	}
	return v
}

// applier executes decoded operations against one engine and its ledger.
type applier struct {
	reg    *dex.Registry
	ledger *ledger.Memory
	logger *zap.Logger
}

func (a *applier) apply(ctx context.Context, op model.Operation) error {
	f := &fields{}
	switch op.Op {
	case OpMint:
		token := f.address("token", op.Token)
		owner := f.address("account", op.Account)
		amount := f.amount("amount", op.Amount)
		if f.err != nil {
			return f.err
		}
		return a.ledger.Mint(token, owner, amount)

	case OpCreatePool:
		tokenA := f.address("token_a", op.TokenA)
		tokenB := f.address("token_b", op.TokenB)
		if f.err != nil {
			return f.err
		}
		var (
			id  common.Hash
			err error
		)
		if op.FeeBps != nil {
			id, err = a.reg.CreatePoolWithFee(ctx, tokenA, tokenB, *op.FeeBps)
		} else {
			id, err = a.reg.CreatePool(ctx, tokenA, tokenB)
		}
		if err == nil {
			a.logger.Debug("pool created", zap.Uint64("seq", op.Seq), zap.String("pool", id.Hex()))
		}
		return err

	case OpSetPoolActive:
		id := f.pool(op.PoolID)
		if f.err != nil {
			return f.err
		}
		if op.Active == nil {
			return fmt.Errorf("active is required")
		}
		return a.reg.SetPoolActive(ctx, id, *op.Active)

	case OpAddLiquidity:
		provider := f.address("account", op.Account)
		id := f.pool(op.PoolID)
		aDesired := f.amount("amount_a_desired", op.AmountADesired)
		bDesired := f.amount("amount_b_desired", op.AmountBDesired)
		aMin := f.amount("amount_a_min", op.AmountAMin)
		bMin := f.amount("amount_b_min", op.AmountBMin)
		if f.err != nil {
			return f.err
		}
		_, err := a.reg.AddLiquidity(ctx, provider, id, aDesired, bDesired, aMin, bMin)
		return err

	case OpRemoveLiquidity:
		provider := f.address("account", op.Account)
		id := f.pool(op.PoolID)
		shares := f.amount("shares", op.Shares)
		aMin := f.amount("amount_a_min", op.AmountAMin)
		bMin := f.amount("amount_b_min", op.AmountBMin)
		if f.err != nil {
			return f.err
		}
		_, err := a.reg.RemoveLiquidity(ctx, provider, id, shares, aMin, bMin)
		return err

	case OpSwap:
		trader := f.address("account", op.Account)
		id := f.pool(op.PoolID)
		tokenIn := f.address("token_in", op.TokenIn)
		amountIn := f.amount("amount_in", op.AmountIn)
		minOut := f.amount("min_amount_out", op.MinAmountOut)
		if f.err != nil {
			return f.err
		}
		_, err := a.reg.Swap(ctx, trader, id, tokenIn, amountIn, minOut)
		return err

	case OpCreateOrder:
		trader := f.address("account", op.Account)
		params := dex.LimitOrderParams{
			PoolID:       f.pool(op.PoolID),
			Side:         dex.OrderSide(strings.ToUpper(op.Side)),
			TokenIn:      f.address("token_in", op.TokenIn),
			AmountIn:     f.amount("amount_in", op.AmountIn),
			LimitPrice:   f.amount("limit_price", op.LimitPrice),
			MinAmountOut: f.amount("min_amount_out", op.MinAmountOut),
			ExpiresIn:    op.ExpiresIn,
		}
		if f.err != nil {
			return f.err
		}
		id, err := a.reg.CreateLimitOrder(ctx, trader, params)
		if err == nil {
			a.logger.Debug("order created", zap.Uint64("seq", op.Seq), zap.Uint64("order_id", id))
		}
		return err

	case OpCancelOrder:
		caller := f.address("account", op.Account)
		if f.err != nil {
			return f.err
		}
		return a.reg.CancelOrder(ctx, caller, op.OrderID)

	case OpFillOrder:
		filled, err := a.reg.TryFill(ctx, op.OrderID)
		if err == nil && !filled {
			a.logger.Debug("order not fillable", zap.Uint64("seq", op.Seq), zap.Uint64("order_id", op.OrderID))
		}
		return err

	case OpSweepExpired:
		id := f.pool(op.PoolID)
		if f.err != nil {
			return f.err
		}
		n, err := a.reg.SweepExpired(ctx, id)
		if err == nil && n > 0 {
			a.logger.Debug("orders expired", zap.Uint64("seq", op.Seq), zap.Int("count", n))
		}
		return err

	case OpClaimRewards:
		provider := f.address("account", op.Account)
		id := f.pool(op.PoolID)
		if f.err != nil {
			return f.err
		}
		_, err := a.reg.ClaimRewards(ctx, provider, id)
		return err

	case OpSetRewardRate:
		id := f.pool(op.PoolID)
		rate := f.amount("reward_rate", op.RewardRate)
		if f.err != nil {
			return f.err
		}
		return a.reg.SetRewardRate(ctx, id, rate)

	case OpFundRewards:
		funder := f.address("account", op.Account)
		id := f.pool(op.PoolID)
		amount := f.amount("amount", op.Amount)
		if f.err != nil {
			return f.err
		}
		return a.reg.FundRewards(ctx, funder, id, amount)

	default:
		return fmt.Errorf("unknown operation %q", op.Op)
	}
}
