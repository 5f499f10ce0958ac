package dex_test

import (
	"context"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ammEngine/internal/dex"
	"ammEngine/internal/ledger"
	"ammEngine/internal/model"
)

var (
	weth        = common.HexToAddress("0x1000000000000000000000000000000000000001")
	usdc        = common.HexToAddress("0x2000000000000000000000000000000000000002")
	dai         = common.HexToAddress("0x3000000000000000000000000000000000000003")
	rewardToken = common.HexToAddress("0x4000000000000000000000000000000000000004")
	custody     = common.HexToAddress("0xc0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0")
	alice       = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob         = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
	carol       = common.HexToAddress("0xca40100000000000000000000000000000000003")
	sponsor     = common.HexToAddress("0x5905500000000000000000000000000000000005")
)

const startTime = 1_700_000_000

type fixture struct {
	cfg    dex.Config
	reg    *dex.Registry
	ledger *ledger.Memory
	clock  *dex.ManualClock

	mu     sync.Mutex
	events []model.Event
}

func newFixture(t *testing.T, cfg dex.Config) *fixture {
	t.Helper()
	f := &fixture{
		cfg:    cfg,
		ledger: ledger.NewMemory(custody),
		clock:  dex.NewManualClock(startTime),
	}
	sink := dex.EventSinkFunc(func(_ context.Context, ev model.Event) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, ev)
		return nil
	})
	f.reg = dex.NewRegistry(cfg, f.ledger, f.clock, sink, nil)
	return f
}

func u(x uint64) *uint256.Int {
	return uint256.NewInt(x)
}

func (f *fixture) fund(t *testing.T, owner common.Address, token common.Address, amount uint64) {
	t.Helper()
	require.NoError(t, f.ledger.Mint(token, owner, u(amount)))
}

// fundRewards mints reward tokens to the sponsor and adds them to the pool's
// reward budget.
func (f *fixture) fundRewards(t *testing.T, poolID common.Hash, amount uint64) {
	t.Helper()
	f.fund(t, sponsor, f.cfg.RewardToken, amount)
	require.NoError(t, f.reg.FundRewards(context.Background(), sponsor, poolID, u(amount)))
}

func (f *fixture) balance(t *testing.T, token, owner common.Address) uint64 {
	t.Helper()
	bal, err := f.ledger.BalanceOf(context.Background(), token, owner)
	require.NoError(t, err)
	return bal.Uint64()
}

func (f *fixture) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.Type)
	}
	return out
}

// seedPool creates the WETH/USDC pool and deposits a, b from alice.
func (f *fixture) seedPool(t *testing.T, a, b uint64) common.Hash {
	t.Helper()
	ctx := context.Background()
	id, err := f.reg.CreatePool(ctx, usdc, weth)
	require.NoError(t, err)
	f.fund(t, alice, weth, a)
	f.fund(t, alice, usdc, b)
	_, err = f.reg.AddLiquidity(ctx, alice, id, u(a), u(b), u(0), u(0))
	require.NoError(t, err)
	return id
}

// requireConserved checks that custody holds exactly reserves plus escrow,
// plus the reward funds when the reward token is one of the pool's tokens.
func (f *fixture) requireConserved(t *testing.T, poolID common.Hash) {
	t.Helper()
	p, err := f.reg.Pool(poolID)
	require.NoError(t, err)

	wantA := new(uint256.Int).Add(&p.ReserveA, &p.EscrowA)
	wantB := new(uint256.Int).Add(&p.ReserveB, &p.EscrowB)
	rewards := new(uint256.Int).Add(&p.RewardBudget, &p.RewardsAccrued)
	switch f.cfg.RewardToken {
	case p.TokenA:
		wantA.Add(wantA, rewards)
	case p.TokenB:
		wantB.Add(wantB, rewards)
	}
	gotA, err := f.ledger.BalanceOf(context.Background(), p.TokenA, custody)
	require.NoError(t, err)
	gotB, err := f.ledger.BalanceOf(context.Background(), p.TokenB, custody)
	require.NoError(t, err)
	require.True(t, wantA.Eq(gotA), "token A custody %s, want %s", gotA.ToBig(), wantA.ToBig())
	require.True(t, wantB.Eq(gotB), "token B custody %s, want %s", gotB.ToBig(), wantB.ToBig())
}

func TestCreatePoolCanonicalOrder(t *testing.T) {
	f := newFixture(t, dex.Config{})
	ctx := context.Background()

	id, err := f.reg.CreatePool(ctx, usdc, weth)
	require.NoError(t, err)

	_, err = f.reg.CreatePool(ctx, weth, usdc)
	require.ErrorIs(t, err, dex.ErrPoolAlreadyExists)

	p, err := f.reg.PoolFor(weth, usdc)
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)
	assert.Equal(t, weth, p.TokenA)
	assert.Equal(t, usdc, p.TokenB)
	assert.Equal(t, dex.DefaultFeeBps, p.FeeBps)
	assert.True(t, p.Active)

	_, err = f.reg.CreatePool(ctx, weth, weth)
	require.ErrorIs(t, err, dex.ErrIdenticalTokens)
	_, err = f.reg.CreatePool(ctx, weth, common.Address{})
	require.ErrorIs(t, err, dex.ErrInvalidToken)
	_, err = f.reg.CreatePoolWithFee(ctx, weth, dai, dex.BpsDenominator)
	require.ErrorIs(t, err, dex.ErrInvalidFee)

	_, err = f.reg.CreatePoolWithFee(ctx, dai, weth, 5)
	require.NoError(t, err)
	pools := f.reg.ListPools()
	require.Len(t, pools, 2)
	assert.Equal(t, id, pools[0])

	assert.Equal(t, []string{model.EventPoolCreated, model.EventPoolCreated}, f.eventTypes())
}

func TestFirstDepositSetsPrice(t *testing.T) {
	f := newFixture(t, dex.Config{})
	id := f.seedPool(t, 10, 30000)

	p, err := f.reg.Pool(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(547), p.TotalShares.Uint64())
	assert.Equal(t, uint64(10), p.ReserveA.Uint64())
	assert.Equal(t, uint64(30000), p.ReserveB.Uint64())

	price, err := dex.SpotPrice(&p.ReserveA, &p.ReserveB)
	require.NoError(t, err)
	want := new(uint256.Int).Mul(u(3000), dex.PriceScale)
	assert.True(t, want.Eq(price), "price %s", price.ToBig())

	info, err := f.reg.UserLiquidityInfo(id, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(547), info.Shares.Uint64())
	assert.Equal(t, uint64(10), info.ContributedA.Uint64())
	assert.Equal(t, uint64(30000), info.ContributedB.Uint64())
	f.requireConserved(t, id)
}

func TestQuote(t *testing.T) {
	f := newFixture(t, dex.Config{})
	id := f.seedPool(t, 10, 30000)

	tests := []struct {
		name    string
		tokenIn common.Address
		in      uint64
		want    uint64
		err     error
	}{
		{name: "weth in", tokenIn: weth, in: 1, want: 2719},
		{name: "usdc in", tokenIn: usdc, in: 3000, want: 0},
		{name: "usdc in large", tokenIn: usdc, in: 30000, want: 4},
		{name: "zero", tokenIn: weth, in: 0, err: dex.ErrZeroAmount},
		{name: "foreign token", tokenIn: dai, in: 1, err: dex.ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := f.reg.Quote(id, tt.tokenIn, u(tt.in))
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Uint64())
		})
	}

	_, err := f.reg.Quote(common.Hash{1}, weth, u(1))
	require.ErrorIs(t, err, dex.ErrPoolNotFound)
}

func TestSwapUpdatesReservesAndStats(t *testing.T) {
	f := newFixture(t, dex.Config{})
	ctx := context.Background()
	id := f.seedPool(t, 1_000_000, 3_000_000_000)

	f.fund(t, bob, weth, 10_000)
	res, err := f.reg.Swap(ctx, bob, id, weth, u(10_000), u(0))
	require.NoError(t, err)
	assert.Equal(t, usdc, res.TokenOut)
	assert.Equal(t, uint64(29_614_741), res.AmountOut.Uint64())
	assert.Equal(t, uint64(30), res.Fee.Uint64())
	assert.Equal(t, uint64(0), f.balance(t, weth, bob))
	assert.Equal(t, uint64(29_614_741), f.balance(t, usdc, bob))

	f.fund(t, carol, usdc, 5_000_000)
	res, err = f.reg.Swap(ctx, carol, id, usdc, u(5_000_000), u(1_692))
	require.NoError(t, err)
	assert.Equal(t, uint64(1_692), res.AmountOut.Uint64())

	p, err := f.reg.Pool(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_010_000-1_692), p.ReserveA.Uint64())
	assert.Equal(t, uint64(3_000_000_000-29_614_741+5_000_000), p.ReserveB.Uint64())
	assert.Equal(t, uint64(30), p.CumulativeFeesA.Uint64())
	assert.Equal(t, uint64(15_000), p.CumulativeFeesB.Uint64())
	assert.Equal(t, uint64(11_692), p.DailyVolume.Uint64())
	assert.Equal(t, uint64(35), p.DailyFeesA.Uint64())

	info, err := f.reg.PoolInfo(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(11_692), info.DailyVolume.Uint64())
	assert.NotEqual(t, "0.000000000000000000", info.APY)

	// A new logical day resets the daily window.
	f.clock.Advance(86_400)
	info, err = f.reg.PoolInfo(id)
	require.NoError(t, err)
	assert.True(t, info.DailyVolume.IsZero())
	assert.Equal(t, "0.000000000000000000", info.APY)
	f.requireConserved(t, id)
}

func TestSwapSlippageLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, dex.Config{})
	ctx := context.Background()
	id := f.seedPool(t, 10, 30000)
	before, err := f.reg.Pool(id)
	require.NoError(t, err)

	f.fund(t, bob, weth, 1)
	_, err = f.reg.Swap(ctx, bob, id, weth, u(1), u(2720))
	require.ErrorIs(t, err, dex.ErrSlippageExceeded)

	after, err := f.reg.Pool(id)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, uint64(1), f.balance(t, weth, bob))
	assert.Equal(t, uint64(0), f.balance(t, usdc, bob))
	assert.NotContains(t, f.eventTypes(), model.EventSwap)

	_, err = f.reg.Swap(ctx, bob, id, weth, u(0), u(0))
	require.ErrorIs(t, err, dex.ErrZeroAmount)
}

func TestSwapLedgerFailureRollsBack(t *testing.T) {
	f := newFixture(t, dex.Config{})
	ctx := context.Background()
	id := f.seedPool(t, 10, 30000)
	before, err := f.reg.Pool(id)
	require.NoError(t, err)

	// bob holds nothing, so the pull fails after the pool was updated.
	_, err = f.reg.Swap(ctx, bob, id, weth, u(1), u(0))
	require.ErrorIs(t, err, dex.ErrInsufficientBalance)

	after, err := f.reg.Pool(id)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, uint64(0), f.balance(t, usdc, bob))
	f.requireConserved(t, id)
}

func TestAddLiquidityCompensatesPartialTransfer(t *testing.T) {
	f := newFixture(t, dex.Config{})
	ctx := context.Background()
	id := f.seedPool(t, 10, 30000)

	// bob can pay token A but not token B.
	f.fund(t, bob, weth, 5)
	_, err := f.reg.AddLiquidity(ctx, bob, id, u(5), u(15000), u(0), u(0))
	require.ErrorIs(t, err, dex.ErrInsufficientBalance)

	assert.Equal(t, uint64(5), f.balance(t, weth, bob))
	p, err := f.reg.Pool(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(547), p.TotalShares.Uint64())
	info, err := f.reg.UserLiquidityInfo(id, bob)
	require.NoError(t, err)
	assert.True(t, info.Shares.IsZero())
	f.requireConserved(t, id)
}

func TestAddLiquidityUsesPoolRatio(t *testing.T) {
	f := newFixture(t, dex.Config{})
	ctx := context.Background()
	id := f.seedPool(t, 10, 30000)

	f.fund(t, bob, weth, 100)
	f.fund(t, bob, usdc, 30000)

	tests := []struct {
		name               string
		desiredA, desiredB uint64
		minA, minB         uint64
		wantA, wantB       uint64
		err                error
	}{
		{name: "excess b", desiredA: 2, desiredB: 9000, wantA: 2, wantB: 6000},
		{name: "excess a", desiredA: 50, desiredB: 3000, wantA: 1, wantB: 3000},
		{name: "min a not met", desiredA: 50, desiredB: 3000, minA: 2, err: dex.ErrSlippageExceeded},
		{name: "zero", desiredA: 0, desiredB: 3000, err: dex.ErrZeroAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.reg.AddLiquidity(ctx, bob, id, u(tt.desiredA), u(tt.desiredB), u(tt.minA), u(tt.minB))
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantA, res.UsedA.Uint64())
			assert.Equal(t, tt.wantB, res.UsedB.Uint64())
			assert.False(t, res.SharesMinted.IsZero())
		})
	}
	f.requireConserved(t, id)
}

func TestRemoveLiquidity(t *testing.T) {
	f := newFixture(t, dex.Config{})
	ctx := context.Background()
	id := f.seedPool(t, 10, 30000)

	_, err := f.reg.RemoveLiquidity(ctx, alice, id, u(548), u(0), u(0))
	require.ErrorIs(t, err, dex.ErrInsufficientLiquidity)
	_, err = f.reg.RemoveLiquidity(ctx, bob, id, u(1), u(0), u(0))
	require.ErrorIs(t, err, dex.ErrInsufficientLiquidity)
	_, err = f.reg.RemoveLiquidity(ctx, alice, id, u(0), u(0), u(0))
	require.ErrorIs(t, err, dex.ErrZeroAmount)
	_, err = f.reg.RemoveLiquidity(ctx, alice, id, u(547), u(11), u(0))
	require.ErrorIs(t, err, dex.ErrSlippageExceeded)

	res, err := f.reg.RemoveLiquidity(ctx, alice, id, u(547), u(10), u(30000))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), res.AmountA.Uint64())
	assert.Equal(t, uint64(30000), res.AmountB.Uint64())

	p, err := f.reg.Pool(id)
	require.NoError(t, err)
	assert.True(t, p.ReserveA.IsZero())
	assert.True(t, p.ReserveB.IsZero())
	assert.True(t, p.TotalShares.IsZero())
	assert.Equal(t, uint64(10), f.balance(t, weth, alice))
	assert.Equal(t, uint64(30000), f.balance(t, usdc, alice))
	f.requireConserved(t, id)
}

func TestRemoveLiquidityAllowsOneSidedRounding(t *testing.T) {
	f := newFixture(t, dex.Config{})
	ctx := context.Background()
	id := f.seedPool(t, 10, 30000)

	f.fund(t, bob, weth, 1)
	f.fund(t, bob, usdc, 3000)
	added, err := f.reg.AddLiquidity(ctx, bob, id, u(1), u(3000), u(0), u(0))
	require.NoError(t, err)
	require.Equal(t, uint64(54), added.SharesMinted.Uint64())

	// 54 of 601 shares are worth less than one unit of the 11 token A held.
	_, err = f.reg.RemoveLiquidity(ctx, bob, id, u(54), u(1), u(0))
	require.ErrorIs(t, err, dex.ErrSlippageExceeded)

	res, err := f.reg.RemoveLiquidity(ctx, bob, id, u(54), u(0), u(0))
	require.NoError(t, err)
	assert.True(t, res.AmountA.IsZero())
	assert.Equal(t, uint64(2965), res.AmountB.Uint64())
	assert.Equal(t, uint64(2965), f.balance(t, usdc, bob))
	f.requireConserved(t, id)

	res, err = f.reg.RemoveLiquidity(ctx, alice, id, u(547), u(0), u(0))
	require.NoError(t, err)
	assert.Equal(t, uint64(11), res.AmountA.Uint64())
	assert.Equal(t, uint64(30035), res.AmountB.Uint64())
	f.requireConserved(t, id)
	assert.Zero(t, f.balance(t, weth, custody))
	assert.Zero(t, f.balance(t, usdc, custody))
}

func TestInactivePoolRejectsTrading(t *testing.T) {
	f := newFixture(t, dex.Config{})
	ctx := context.Background()
	id := f.seedPool(t, 10, 30000)

	require.NoError(t, f.reg.SetPoolActive(ctx, id, false))
	f.fund(t, bob, weth, 1)
	_, err := f.reg.Swap(ctx, bob, id, weth, u(1), u(0))
	require.ErrorIs(t, err, dex.ErrPoolNotFound)
	_, err = f.reg.CreateLimitOrder(ctx, bob, dex.LimitOrderParams{PoolID: id, Side: dex.SideSell, TokenIn: weth, AmountIn: u(1)})
	require.ErrorIs(t, err, dex.ErrPoolNotFound)

	_, err = f.reg.RemoveLiquidity(ctx, alice, id, u(100), u(0), u(0))
	require.NoError(t, err)

	require.NoError(t, f.reg.SetPoolActive(ctx, id, true))
	_, err = f.reg.Swap(ctx, bob, id, weth, u(1), u(0))
	require.NoError(t, err)
	assert.Contains(t, f.eventTypes(), model.EventPoolStatusChanged)
}

func TestRewardsSplitEquallyAcrossPools(t *testing.T) {
	run := func(t *testing.T, unrelatedPools int) (uint64, uint64) {
		f := newFixture(t, dex.Config{RewardToken: rewardToken})
		ctx := context.Background()
		id := f.seedPool(t, 10, 30000)
		f.fundRewards(t, id, 1_000_000)

		for i := 0; i < unrelatedPools; i++ {
			token := common.BigToAddress(uint256.NewInt(uint64(0x9000 + i)).ToBig())
			other, err := f.reg.CreatePool(ctx, dai, token)
			require.NoError(t, err)
			f.fund(t, carol, dai, 1000)
			f.fund(t, carol, token, 1000)
			_, err = f.reg.AddLiquidity(ctx, carol, other, u(1000), u(1000), u(0), u(0))
			require.NoError(t, err)
			require.NoError(t, f.reg.SetRewardRate(ctx, other, u(7)))
		}

		f.fund(t, bob, weth, 10)
		f.fund(t, bob, usdc, 30000)
		_, err := f.reg.AddLiquidity(ctx, bob, id, u(10), u(30000), u(0), u(0))
		require.NoError(t, err)
		require.NoError(t, f.reg.SetRewardRate(ctx, id, u(1000)))

		f.clock.Advance(100)
		a, err := f.reg.UserLiquidityInfo(id, alice)
		require.NoError(t, err)
		b, err := f.reg.UserLiquidityInfo(id, bob)
		require.NoError(t, err)
		require.Equal(t, a.Shares, b.Shares)
		return a.PendingRewards.Uint64(), b.PendingRewards.Uint64()
	}

	a0, b0 := run(t, 0)
	assert.Equal(t, uint64(49_999), a0)
	assert.Equal(t, a0, b0)

	a5, b5 := run(t, 5)
	assert.Equal(t, a0, a5)
	assert.Equal(t, b0, b5)
}

func TestClaimRewards(t *testing.T) {
	f := newFixture(t, dex.Config{RewardToken: rewardToken})
	ctx := context.Background()
	id := f.seedPool(t, 10, 30000)
	f.fundRewards(t, id, 1_000_000)

	require.NoError(t, f.reg.SetRewardRate(ctx, id, u(10)))
	f.clock.Advance(50)

	_, err := f.reg.ClaimRewards(ctx, carol, id)
	require.ErrorIs(t, err, dex.ErrUnauthorized)

	paid, err := f.reg.ClaimRewards(ctx, alice, id)
	require.NoError(t, err)
	// 547 shares earn 10*50 less accumulator rounding.
	assert.Equal(t, uint64(499), paid.Uint64())
	assert.Equal(t, uint64(499), f.balance(t, rewardToken, alice))

	info, err := f.reg.UserLiquidityInfo(id, alice)
	require.NoError(t, err)
	assert.True(t, info.PendingRewards.IsZero())

	// Rewards earned before a full withdrawal survive it and remain claimable.
	f.clock.Advance(10)
	_, err = f.reg.RemoveLiquidity(ctx, alice, id, u(547), u(0), u(0))
	require.NoError(t, err)
	info, err = f.reg.UserLiquidityInfo(id, alice)
	require.NoError(t, err)
	assert.True(t, info.Shares.IsZero())
	assert.Equal(t, uint64(99), info.PendingRewards.Uint64())

	paid, err = f.reg.ClaimRewards(ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), paid.Uint64())
	_, err = f.reg.ClaimRewards(ctx, alice, id)
	require.ErrorIs(t, err, dex.ErrUnauthorized)
}

func TestRewardsInPoolTokenLeaveReservesWhole(t *testing.T) {
	f := newFixture(t, dex.Config{RewardToken: weth})
	ctx := context.Background()
	id := f.seedPool(t, 10, 30000)
	f.fundRewards(t, id, 100)
	f.requireConserved(t, id)

	require.NoError(t, f.reg.SetRewardRate(ctx, id, u(1)))
	f.clock.Advance(5)
	paid, err := f.reg.ClaimRewards(ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), paid.Uint64())
	f.requireConserved(t, id)

	res, err := f.reg.RemoveLiquidity(ctx, alice, id, u(547), u(0), u(0))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), res.AmountA.Uint64())
	assert.Equal(t, uint64(14), f.balance(t, weth, alice))
	f.requireConserved(t, id)
	// 95 unspent budget plus one unit of accumulator dust.
	assert.Equal(t, uint64(96), f.balance(t, weth, custody))
}

func TestRewardBudgetCapsEmission(t *testing.T) {
	f := newFixture(t, dex.Config{RewardToken: rewardToken})
	ctx := context.Background()
	id := f.seedPool(t, 10, 30000)

	require.ErrorIs(t, f.reg.FundRewards(ctx, sponsor, id, u(0)), dex.ErrZeroAmount)
	require.ErrorIs(t, f.reg.FundRewards(ctx, sponsor, id, u(30)), dex.ErrInsufficientBalance)

	f.fundRewards(t, id, 30)
	require.NoError(t, f.reg.SetRewardRate(ctx, id, u(10)))
	f.clock.Advance(50)

	info, err := f.reg.UserLiquidityInfo(id, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(29), info.PendingRewards.Uint64())
	pool, err := f.reg.PoolInfo(id)
	require.NoError(t, err)
	assert.True(t, pool.RewardBudget.IsZero())

	// An empty budget emits nothing and is not backfilled when topped up.
	f.clock.Advance(100)
	f.fundRewards(t, id, 100)
	f.clock.Advance(1)
	info, err = f.reg.UserLiquidityInfo(id, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(39), info.PendingRewards.Uint64())

	paid, err := f.reg.ClaimRewards(ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(39), paid.Uint64())
	assert.Contains(t, f.eventTypes(), model.EventRewardsFunded)
}

func TestSetRewardRateRequiresRewardToken(t *testing.T) {
	f := newFixture(t, dex.Config{})
	id := f.seedPool(t, 10, 30000)
	err := f.reg.SetRewardRate(context.Background(), id, u(1))
	require.ErrorIs(t, err, dex.ErrInvalidToken)
	require.NoError(t, f.reg.SetRewardRate(context.Background(), id, u(0)))
}

func TestUnreachableLimitOrderRefundsOnCancel(t *testing.T) {
	f := newFixture(t, dex.Config{})
	ctx := context.Background()
	id := f.seedPool(t, 10, 30000)
	before, err := f.reg.Pool(id)
	require.NoError(t, err)

	// BUY spends USDC for WETH and asks for 1 WETH per USDC.
	f.fund(t, bob, usdc, 3000)
	orderID, err := f.reg.CreateLimitOrder(ctx, bob, dex.LimitOrderParams{
		PoolID:     id,
		Side:       dex.SideBuy,
		TokenIn:    usdc,
		AmountIn:   u(3000),
		LimitPrice: new(uint256.Int).Set(dex.PriceScale),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), f.balance(t, usdc, bob))
	f.requireConserved(t, id)

	for i := 0; i < 3; i++ {
		f.clock.Advance(3600)
		filled, err := f.reg.TryFill(ctx, orderID)
		require.NoError(t, err)
		assert.False(t, filled)
	}
	order, err := f.reg.Order(orderID)
	require.NoError(t, err)
	assert.Equal(t, dex.OrderOpen, order.Status)

	after, err := f.reg.Pool(id)
	require.NoError(t, err)
	assert.Equal(t, before.ReserveA, after.ReserveA)
	assert.Equal(t, before.ReserveB, after.ReserveB)

	err = f.reg.CancelOrder(ctx, carol, orderID)
	require.ErrorIs(t, err, dex.ErrUnauthorized)

	require.NoError(t, f.reg.CancelOrder(ctx, bob, orderID))
	assert.Equal(t, uint64(3000), f.balance(t, usdc, bob))
	order, err = f.reg.Order(orderID)
	require.NoError(t, err)
	assert.Equal(t, dex.OrderCancelled, order.Status)

	err = f.reg.CancelOrder(ctx, bob, orderID)
	require.ErrorIs(t, err, dex.ErrOrderNotOpen)
	_, err = f.reg.TryFill(ctx, orderID)
	require.ErrorIs(t, err, dex.ErrOrderNotOpen)
	_, err = f.reg.TryFill(ctx, 999)
	require.ErrorIs(t, err, dex.ErrOrderNotFound)
	f.requireConserved(t, id)

	orders := f.reg.UserOrders(bob)
	require.Len(t, orders, 1)
	assert.Equal(t, orderID, orders[0].ID)
}

func TestLimitOrderFills(t *testing.T) {
	f := newFixture(t, dex.Config{})
	ctx := context.Background()
	id := f.seedPool(t, 10, 30000)

	f.fund(t, bob, weth, 1)
	orderID, err := f.reg.CreateLimitOrder(ctx, bob, dex.LimitOrderParams{
		PoolID:       id,
		Side:         dex.SideSell,
		TokenIn:      weth,
		AmountIn:     u(1),
		LimitPrice:   new(uint256.Int).Mul(u(2000), dex.PriceScale),
		MinAmountOut: u(2700),
	})
	require.NoError(t, err)

	filled, err := f.reg.TryFill(ctx, orderID)
	require.NoError(t, err)
	require.True(t, filled)

	order, err := f.reg.Order(orderID)
	require.NoError(t, err)
	assert.Equal(t, dex.OrderFilled, order.Status)
	assert.Equal(t, uint64(2719), order.AmountOut.Uint64())
	assert.Equal(t, uint64(2719), f.balance(t, usdc, bob))

	p, err := f.reg.Pool(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), p.ReserveA.Uint64())
	assert.Equal(t, uint64(30000-2719), p.ReserveB.Uint64())
	assert.True(t, p.EscrowA.IsZero())
	f.requireConserved(t, id)

	types := f.eventTypes()
	assert.Equal(t, []string{model.EventSwap, model.EventOrderFilled}, types[len(types)-2:])
}

func TestSwapAutoFillsOrders(t *testing.T) {
	f := newFixture(t, dex.Config{AutoFill: true})
	ctx := context.Background()
	id := f.seedPool(t, 10, 30000)

	f.fund(t, bob, weth, 1)
	orderID, err := f.reg.CreateLimitOrder(ctx, bob, dex.LimitOrderParams{
		PoolID:     id,
		Side:       dex.SideSell,
		TokenIn:    weth,
		AmountIn:   u(1),
		LimitPrice: new(uint256.Int).Mul(u(2800), dex.PriceScale),
	})
	require.NoError(t, err)
	filled, err := f.reg.TryFill(ctx, orderID)
	require.NoError(t, err)
	require.False(t, filled)

	// Buying WETH pushes its price above the limit.
	f.fund(t, carol, usdc, 10000)
	res, err := f.reg.Swap(ctx, carol, id, usdc, u(10000), u(0))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.AmountOut.Uint64())

	order, err := f.reg.Order(orderID)
	require.NoError(t, err)
	assert.Equal(t, dex.OrderFilled, order.Status)
	assert.Equal(t, uint64(4432), order.AmountOut.Uint64())
	f.requireConserved(t, id)
}

func TestOrderVisibleWhenCreatedEventPublished(t *testing.T) {
	ctx := context.Background()
	led := ledger.NewMemory(custody)
	var (
		reg     *dex.Registry
		seen    []dex.LimitOrder
		owned   []int
		lookErr error
	)
	sink := dex.EventSinkFunc(func(_ context.Context, ev model.Event) error {
		if ev.Type != model.EventOrderCreated {
			return nil
		}
		order, err := reg.Order(ev.OrderID)
		if err != nil {
			lookErr = err
			return nil
		}
		seen = append(seen, order)
		owned = append(owned, len(reg.UserOrders(bob)))
		return nil
	})
	reg = dex.NewRegistry(dex.Config{}, led, dex.NewManualClock(startTime), sink, nil)

	id, err := reg.CreatePool(ctx, weth, usdc)
	require.NoError(t, err)
	require.NoError(t, led.Mint(weth, alice, u(10)))
	require.NoError(t, led.Mint(usdc, alice, u(30000)))
	_, err = reg.AddLiquidity(ctx, alice, id, u(10), u(30000), u(0), u(0))
	require.NoError(t, err)

	require.NoError(t, led.Mint(usdc, bob, u(200)))
	for i := 0; i < 2; i++ {
		_, err := reg.CreateLimitOrder(ctx, bob, dex.LimitOrderParams{
			PoolID: id, Side: dex.SideBuy, TokenIn: usdc, AmountIn: u(100),
			LimitPrice: new(uint256.Int).Mul(dex.PriceScale, u(1)),
		})
		require.NoError(t, err)
	}

	require.NoError(t, lookErr)
	require.Len(t, seen, 2)
	assert.Equal(t, dex.OrderOpen, seen[0].Status)
	assert.Equal(t, []int{1, 2}, owned)

	// A rejected order is never indexed.
	_, err = reg.CreateLimitOrder(ctx, bob, dex.LimitOrderParams{PoolID: id, Side: dex.SideBuy, TokenIn: usdc, AmountIn: u(1)})
	require.ErrorIs(t, err, dex.ErrInsufficientBalance)
	assert.Len(t, reg.UserOrders(bob), 2)
}

func TestLimitOrderExpiry(t *testing.T) {
	f := newFixture(t, dex.Config{})
	ctx := context.Background()
	id := f.seedPool(t, 10, 30000)

	f.fund(t, bob, weth, 3)
	params := dex.LimitOrderParams{
		PoolID:     id,
		Side:       dex.SideSell,
		TokenIn:    weth,
		AmountIn:   u(1),
		LimitPrice: new(uint256.Int).Mul(u(100_000), dex.PriceScale),
		ExpiresIn:  60,
	}
	first, err := f.reg.CreateLimitOrder(ctx, bob, params)
	require.NoError(t, err)
	second, err := f.reg.CreateLimitOrder(ctx, bob, params)
	require.NoError(t, err)
	params.ExpiresIn = 0
	third, err := f.reg.CreateLimitOrder(ctx, bob, params)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), f.balance(t, weth, bob))

	f.clock.Advance(59)
	filled, err := f.reg.TryFill(ctx, first)
	require.NoError(t, err)
	assert.False(t, filled)

	f.clock.Advance(1)
	_, err = f.reg.TryFill(ctx, first)
	require.ErrorIs(t, err, dex.ErrOrderExpired)
	order, err := f.reg.Order(first)
	require.NoError(t, err)
	assert.Equal(t, dex.OrderExpired, order.Status)
	assert.Equal(t, uint64(1), f.balance(t, weth, bob))
	assert.Contains(t, f.eventTypes(), model.EventOrderExpired)

	n, err := f.reg.SweepExpired(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	order, err = f.reg.Order(second)
	require.NoError(t, err)
	assert.Equal(t, dex.OrderExpired, order.Status)
	assert.Equal(t, uint64(2), f.balance(t, weth, bob))

	order, err = f.reg.Order(third)
	require.NoError(t, err)
	assert.Equal(t, dex.OrderOpen, order.Status)
	f.requireConserved(t, id)

	orders, err := f.reg.PoolOrders(id)
	require.NoError(t, err)
	require.Len(t, orders, 3)
	assert.Equal(t, []uint64{first, second, third}, []uint64{orders[0].ID, orders[1].ID, orders[2].ID})
}

func TestCreateLimitOrderValidation(t *testing.T) {
	f := newFixture(t, dex.Config{})
	ctx := context.Background()
	id := f.seedPool(t, 10, 30000)
	f.fund(t, bob, usdc, 100)

	_, err := f.reg.CreateLimitOrder(ctx, bob, dex.LimitOrderParams{PoolID: id, Side: dex.SideSell, TokenIn: usdc, AmountIn: u(1)})
	require.ErrorIs(t, err, dex.ErrInvalidOrder)
	_, err = f.reg.CreateLimitOrder(ctx, bob, dex.LimitOrderParams{PoolID: id, Side: dex.SideBuy, TokenIn: usdc, AmountIn: u(0)})
	require.ErrorIs(t, err, dex.ErrZeroAmount)
	_, err = f.reg.CreateLimitOrder(ctx, bob, dex.LimitOrderParams{PoolID: id, Side: dex.SideBuy, TokenIn: usdc, AmountIn: u(101)})
	require.ErrorIs(t, err, dex.ErrInsufficientBalance)

	p, err := f.reg.Pool(id)
	require.NoError(t, err)
	assert.True(t, p.EscrowB.IsZero())
	assert.Empty(t, f.reg.UserOrders(bob))
}

func TestSnapshotRestore(t *testing.T) {
	f := newFixture(t, dex.Config{RewardToken: rewardToken})
	ctx := context.Background()
	id := f.seedPool(t, 1_000, 3_000_000)
	f.fundRewards(t, id, 1_000)
	require.NoError(t, f.reg.SetRewardRate(ctx, id, u(5)))

	f.fund(t, bob, usdc, 5000)
	orderID, err := f.reg.CreateLimitOrder(ctx, bob, dex.LimitOrderParams{
		PoolID:     id,
		Side:       dex.SideBuy,
		TokenIn:    usdc,
		AmountIn:   u(5000),
		LimitPrice: new(uint256.Int).Set(dex.PriceScale),
		ExpiresIn:  3600,
	})
	require.NoError(t, err)
	f.clock.Advance(30)

	snap := f.reg.Snapshot()
	require.Len(t, snap.Pools, 1)
	require.Len(t, snap.Positions, 1)
	require.Len(t, snap.Orders, 1)

	restored := dex.NewRegistry(dex.Config{RewardToken: rewardToken}, f.ledger, f.clock, nil, nil)
	require.NoError(t, restored.Restore(snap))

	want, err := f.reg.Pool(id)
	require.NoError(t, err)
	got, err := restored.Pool(id)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, uint64(5000), got.EscrowB.Uint64())

	wantInfo, err := f.reg.UserLiquidityInfo(id, alice)
	require.NoError(t, err)
	gotInfo, err := restored.UserLiquidityInfo(id, alice)
	require.NoError(t, err)
	assert.Equal(t, wantInfo, gotInfo)

	order, err := restored.Order(orderID)
	require.NoError(t, err)
	assert.Equal(t, dex.OrderOpen, order.Status)
	assert.Len(t, restored.UserOrders(bob), 1)

	next, err := restored.CreateLimitOrder(ctx, bob, dex.LimitOrderParams{PoolID: id, Side: dex.SideBuy, TokenIn: usdc, AmountIn: u(1)})
	require.ErrorIs(t, err, dex.ErrInsufficientBalance)
	assert.Zero(t, next)

	bad := snap
	bad.Orders = []model.OrderRecord{snap.Orders[0]}
	bad.Orders[0].Status = "PENDING"
	require.ErrorIs(t, restored.Restore(bad), dex.ErrInvalidOrder)

	drained := snap
	drained.Pools = []model.PoolRecord{snap.Pools[0]}
	drained.Pools[0].ReserveB = "0"
	require.ErrorIs(t, restored.Restore(drained), dex.ErrInvariantViolation)

	orphaned := snap
	orphaned.Positions = nil
	require.ErrorIs(t, restored.Restore(orphaned), dex.ErrInvariantViolation)

	doubled := snap
	doubled.Positions = []model.PositionRecord{snap.Positions[0], snap.Positions[0]}
	require.ErrorIs(t, restored.Restore(doubled), dex.ErrInvariantViolation)

	// Failed restores leave the registry as it was.
	got, err = restored.Pool(id)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
