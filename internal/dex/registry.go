package dex

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"ammEngine/internal/model"
)

// Config controls engine behavior.
type Config struct {
	// RewardToken is paid out by ClaimRewards.
	RewardToken common.Address
	// AutoFill tries the pool's open limit orders after every swap.
	AutoFill bool
	// MaxAutoFills bounds the orders evaluated after one swap.
	MaxAutoFills int
	// FeeBps is the fee CreatePool applies. Zero means DefaultFeeBps.
	FeeBps uint32
}

// Registry maps canonical pool ids to pool accounts and is the entry point
// for swaps, liquidity, limit orders and rewards.
type Registry struct {
	cfg    Config
	ledger TokenLedger
	clock  Clock
	sink   EventSink
	logger *zap.Logger

	mu           sync.RWMutex
	pools        map[common.Hash]*poolAccount
	poolOrder    []common.Hash
	orderPools   map[uint64]common.Hash
	traderOrders map[common.Address][]uint64
	nextOrderID  uint64

	eventSeq atomic.Uint64
}

// NewRegistry builds an empty registry. sink and logger may be nil.
func NewRegistry(cfg Config, ledger TokenLedger, clock Clock, sink EventSink, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = nopSink{}
	}
	if clock == nil {
		clock = &SystemClock{}
	}
	if cfg.MaxAutoFills <= 0 {
		cfg.MaxAutoFills = 16
	}
	if cfg.FeeBps == 0 {
		cfg.FeeBps = DefaultFeeBps
	}
	return &Registry{
		cfg:          cfg,
		ledger:       ledger,
		clock:        clock,
		sink:         sink,
		logger:       logger,
		pools:        make(map[common.Hash]*poolAccount),
		orderPools:   make(map[uint64]common.Hash),
		traderOrders: make(map[common.Address][]uint64),
		nextOrderID:  1,
	}
}

// PoolInfo is the read view consumed by the dashboard layer.
type PoolInfo struct {
	PoolID          common.Hash
	TokenA          common.Address
	TokenB          common.Address
	ReserveA        uint256.Int
	ReserveB        uint256.Int
	TotalShares     uint256.Int
	FeeBps          uint32
	CumulativeFeesA uint256.Int
	CumulativeFeesB uint256.Int
	DailyVolume     uint256.Int
	RewardRate      uint256.Int
	RewardBudget    uint256.Int
	Active          bool
	APY             string
}

// CreatePool creates the pool for a pair with the configured fee.
func (r *Registry) CreatePool(ctx context.Context, tokenA, tokenB common.Address) (common.Hash, error) {
	return r.CreatePoolWithFee(ctx, tokenA, tokenB, r.cfg.FeeBps)
}

// CreatePoolWithFee creates the pool for a pair. Creating a pool that already
// exists, in either token order, fails with ErrPoolAlreadyExists.
func (r *Registry) CreatePoolWithFee(ctx context.Context, tokenA, tokenB common.Address, feeBps uint32) (common.Hash, error) {
	if feeBps >= BpsDenominator {
		return common.Hash{}, fmt.Errorf("%w: %d bps", ErrInvalidFee, feeBps)
	}
	tokenA, tokenB, err := SortTokens(tokenA, tokenB)
	if err != nil {
		return common.Hash{}, err
	}
	id, err := PoolID(tokenA, tokenB)
	if err != nil {
		return common.Hash{}, err
	}

	now := r.clock.Now()
	state := Pool{
		ID:             id,
		TokenA:         tokenA,
		TokenB:         tokenB,
		FeeBps:         feeBps,
		VolumeDay:      now / secondsPerDay,
		LastUpdateTime: now,
		CreatedAt:      now,
		Active:         true,
		LastRewardTime: now,
	}

	r.mu.Lock()
	if _, ok := r.pools[id]; ok {
		r.mu.Unlock()
		return common.Hash{}, fmt.Errorf("%w: %s", ErrPoolAlreadyExists, id.Hex())
	}
	acct := newPoolAccount(state)
	r.pools[id] = acct
	r.poolOrder = append(r.poolOrder, id)
	r.mu.Unlock()

	tx := acct.begin(now)
	tx.emit(model.EventPoolCreated, func(ev *model.Event) {
		ev.FeeBps = feeBps
	})
	r.publish(ctx, tx.events[0])

	r.logger.Debug("pool created",
		zap.String("pool", id.Hex()),
		zap.String("token_a", tokenA.Hex()),
		zap.String("token_b", tokenB.Hex()),
		zap.Uint32("fee_bps", feeBps),
	)
	return id, nil
}

func (r *Registry) account(poolID common.Hash) (*poolAccount, error) {
	r.mu.RLock()
	acct, ok := r.pools[poolID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, poolID.Hex())
	}
	return acct, nil
}

// requireActive rejects trades and deposits on a paused pool.
func requireActive(p *Pool) error {
	if !p.Active {
		return fmt.Errorf("%w: %s is inactive", ErrPoolNotFound, p.ID.Hex())
	}
	return nil
}

// Pool returns a copy of the pool's state.
func (r *Registry) Pool(poolID common.Hash) (Pool, error) {
	acct, err := r.account(poolID)
	if err != nil {
		return Pool{}, err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.state, nil
}

// PoolFor resolves a pair, in either order, to its pool.
func (r *Registry) PoolFor(tokenA, tokenB common.Address) (Pool, error) {
	id, err := PoolID(tokenA, tokenB)
	if err != nil {
		return Pool{}, err
	}
	return r.Pool(id)
}

// ListPools returns pool ids in creation order.
func (r *Registry) ListPools() []common.Hash {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Hash, len(r.poolOrder))
	copy(out, r.poolOrder)
	return out
}

// PoolInfo returns reserves, fee statistics, daily volume and an APY estimate.
func (r *Registry) PoolInfo(poolID common.Hash) (PoolInfo, error) {
	acct, err := r.account(poolID)
	if err != nil {
		return PoolInfo{}, err
	}
	now := r.clock.Now()
	acct.mu.Lock()
	p := acct.state
	acct.mu.Unlock()

	if err := accrue(&p, now); err != nil {
		return PoolInfo{}, err
	}
	// Stale daily stats read as zero without mutating the pool.
	if now/secondsPerDay != p.VolumeDay {
		p.DailyVolume.Clear()
		p.DailyFeesA.Clear()
	}
	return PoolInfo{
		PoolID:          p.ID,
		TokenA:          p.TokenA,
		TokenB:          p.TokenB,
		ReserveA:        p.ReserveA,
		ReserveB:        p.ReserveB,
		TotalShares:     p.TotalShares,
		FeeBps:          p.FeeBps,
		CumulativeFeesA: p.CumulativeFeesA,
		CumulativeFeesB: p.CumulativeFeesB,
		DailyVolume:     p.DailyVolume,
		RewardRate:      p.RewardRate,
		RewardBudget:    p.RewardBudget,
		Active:          p.Active,
		APY:             computeAPY(&p.DailyFeesA, &p.ReserveA),
	}, nil
}

// SetPoolActive pauses or resumes a pool. Inactive pools reject swaps,
// deposits and new orders; withdrawals, cancellations and claims still work.
func (r *Registry) SetPoolActive(ctx context.Context, poolID common.Hash, active bool) error {
	acct, err := r.account(poolID)
	if err != nil {
		return err
	}
	return r.mutate(ctx, acct, func(tx *poolTxn) error {
		p := tx.pool()
		if p.Active == active {
			return nil
		}
		p.Active = active
		tx.emit(model.EventPoolStatusChanged, func(ev *model.Event) {
			ev.Active = &active
		})
		return nil
	})
}

// Now exposes the engine clock.
func (r *Registry) Now() uint64 {
	return r.clock.Now()
}
