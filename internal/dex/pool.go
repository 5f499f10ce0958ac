package dex

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Pool is the reserve, fee and reward state of one token pair. It is a value
// type: copies are independent, which the engine relies on for rollback and
// for handing out read-only views.
type Pool struct {
	ID     common.Hash
	TokenA common.Address
	TokenB common.Address

	ReserveA    uint256.Int
	ReserveB    uint256.Int
	TotalShares uint256.Int
	FeeBps      uint32

	CumulativeFeesA uint256.Int
	CumulativeFeesB uint256.Int
	// DailyVolume and DailyFeesA are token-A denominated and reset when the
	// logical day (VolumeDay) changes.
	DailyVolume uint256.Int
	DailyFeesA  uint256.Int
	VolumeDay   uint64

	LastUpdateTime uint64
	CreatedAt      uint64
	Active         bool

	RewardRate        uint256.Int
	AccRewardPerShare uint256.Int
	LastRewardTime    uint64
	// RewardBudget is funded reward token not yet emitted. RewardsAccrued is
	// emitted but unclaimed. Both sit in custody outside the reserves.
	RewardBudget   uint256.Int
	RewardsAccrued uint256.Int

	// Escrowed limit-order funds, held outside the reserves.
	EscrowA uint256.Int
	EscrowB uint256.Int
}

// reserves returns (reserveIn, reserveOut) for a swap of tokenIn.
func (p *Pool) reserves(tokenIn common.Address) (*uint256.Int, *uint256.Int, common.Address, bool) {
	switch tokenIn {
	case p.TokenA:
		return &p.ReserveA, &p.ReserveB, p.TokenB, true
	case p.TokenB:
		return &p.ReserveB, &p.ReserveA, p.TokenA, true
	default:
		return nil, nil, common.Address{}, false
	}
}

func (p *Pool) escrow(token common.Address) *uint256.Int {
	if token == p.TokenA {
		return &p.EscrowA
	}
	return &p.EscrowB
}

// LiquidityPosition is a provider's share of one pool.
type LiquidityPosition struct {
	Provider       common.Address
	Shares         uint256.Int
	RewardDebt     uint256.Int
	PendingRewards uint256.Int
	ContributedA   uint256.Int
	ContributedB   uint256.Int
}

// poolAccount owns everything mutated by operations on one pool. mu is the
// per-pool exclusive section; positions are an arena indexed by provider.
type poolAccount struct {
	mu            sync.Mutex
	state         Pool
	positions     []LiquidityPosition
	positionIndex map[common.Address]int
	orders        map[uint64]*LimitOrder
	openOrders    []uint64
}

func newPoolAccount(state Pool) *poolAccount {
	return &poolAccount{
		state:         state,
		positionIndex: make(map[common.Address]int),
		orders:        make(map[uint64]*LimitOrder),
	}
}

func (a *poolAccount) position(provider common.Address) (*LiquidityPosition, bool) {
	idx, ok := a.positionIndex[provider]
	if !ok {
		return nil, false
	}
	return &a.positions[idx], true
}

// ensurePosition returns the provider's position, creating it with a reward
// debt equal to the current accumulator so it earns nothing retroactively.
func (a *poolAccount) ensurePosition(provider common.Address) *LiquidityPosition {
	if pos, ok := a.position(provider); ok {
		return pos
	}
	a.positions = append(a.positions, LiquidityPosition{
		Provider:   provider,
		RewardDebt: a.state.AccRewardPerShare,
	})
	idx := len(a.positions) - 1
	a.positionIndex[provider] = idx
	return &a.positions[idx]
}

func (a *poolAccount) putPosition(pos LiquidityPosition) {
	if idx, ok := a.positionIndex[pos.Provider]; ok {
		a.positions[idx] = pos
		return
	}
	a.positions = append(a.positions, pos)
	a.positionIndex[pos.Provider] = len(a.positions) - 1
}

func (a *poolAccount) deletePosition(provider common.Address) {
	idx, ok := a.positionIndex[provider]
	if !ok {
		return
	}
	last := len(a.positions) - 1
	if idx != last {
		a.positions[idx] = a.positions[last]
		a.positionIndex[a.positions[idx].Provider] = idx
	}
	a.positions = a.positions[:last]
	delete(a.positionIndex, provider)
}

// prunePosition drops a position that holds neither shares nor rewards.
func (a *poolAccount) prunePosition(provider common.Address) {
	pos, ok := a.position(provider)
	if ok && pos.Shares.IsZero() && pos.PendingRewards.IsZero() {
		a.deletePosition(provider)
	}
}

func (a *poolAccount) removeOpenOrder(id uint64) {
	for i, open := range a.openOrders {
		if open == id {
			a.openOrders = append(a.openOrders[:i], a.openOrders[i+1:]...)
			return
		}
	}
}
