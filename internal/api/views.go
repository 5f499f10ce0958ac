package api

import (
	"ammEngine/internal/dex"
	"ammEngine/internal/model"
)

type poolView struct {
	PoolID          string           `json:"pool_id"`
	TokenA          string           `json:"token_a"`
	TokenB          string           `json:"token_b"`
	ReserveA        string           `json:"reserve_a"`
	ReserveB        string           `json:"reserve_b"`
	TotalShares     string           `json:"total_shares"`
	FeeBps          uint32           `json:"fee_bps"`
	CumulativeFeesA string           `json:"cumulative_fees_a"`
	CumulativeFeesB string           `json:"cumulative_fees_b"`
	DailyVolume     string           `json:"daily_volume"`
	RewardRate      string           `json:"reward_rate"`
	RewardBudget    string           `json:"reward_budget"`
	Active          bool             `json:"active"`
	APY             string           `json:"apy"`
	TokenAMeta      *model.TokenMeta `json:"token_a_meta,omitempty"`
	TokenBMeta      *model.TokenMeta `json:"token_b_meta,omitempty"`
}

func newPoolView(info dex.PoolInfo) poolView {
	return poolView{
		PoolID:          info.PoolID.Hex(),
		TokenA:          info.TokenA.Hex(),
		TokenB:          info.TokenB.Hex(),
		ReserveA:        dex.FormatAmount(&info.ReserveA),
		ReserveB:        dex.FormatAmount(&info.ReserveB),
		TotalShares:     dex.FormatAmount(&info.TotalShares),
		FeeBps:          info.FeeBps,
		CumulativeFeesA: dex.FormatAmount(&info.CumulativeFeesA),
		CumulativeFeesB: dex.FormatAmount(&info.CumulativeFeesB),
		DailyVolume:     dex.FormatAmount(&info.DailyVolume),
		RewardRate:      dex.FormatAmount(&info.RewardRate),
		RewardBudget:    dex.FormatAmount(&info.RewardBudget),
		Active:          info.Active,
		APY:             info.APY,
	}
}

type orderView struct {
	ID           uint64 `json:"id"`
	PoolID       string `json:"pool_id"`
	Trader       string `json:"trader"`
	Side         string `json:"side"`
	TokenIn      string `json:"token_in"`
	TokenOut     string `json:"token_out"`
	AmountIn     string `json:"amount_in"`
	LimitPrice   string `json:"limit_price"`
	MinAmountOut string `json:"min_amount_out"`
	CreatedAt    uint64 `json:"created_at"`
	Expiry       uint64 `json:"expiry,omitempty"`
	Status       string `json:"status"`
	AmountOut    string `json:"amount_out"`
	ClosedAt     uint64 `json:"closed_at,omitempty"`
}

func newOrderView(o dex.LimitOrder) orderView {
	return orderView{
		ID:           o.ID,
		PoolID:       o.PoolID.Hex(),
		Trader:       o.Trader.Hex(),
		Side:         string(o.Side),
		TokenIn:      o.TokenIn.Hex(),
		TokenOut:     o.TokenOut.Hex(),
		AmountIn:     dex.FormatAmount(&o.AmountIn),
		LimitPrice:   dex.FormatAmount(&o.LimitPrice),
		MinAmountOut: dex.FormatAmount(&o.MinAmountOut),
		CreatedAt:    o.CreatedAt,
		Expiry:       o.Expiry,
		Status:       string(o.Status),
		AmountOut:    dex.FormatAmount(&o.AmountOut),
		ClosedAt:     o.ClosedAt,
	}
}

func newOrderViews(orders []dex.LimitOrder) []orderView {
	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, newOrderView(o))
	}
	return out
}

type liquidityView struct {
	PoolID         string `json:"pool_id"`
	Account        string `json:"account"`
	Shares         string `json:"shares"`
	PendingRewards string `json:"pending_rewards"`
	ContributedA   string `json:"contributed_a"`
	ContributedB   string `json:"contributed_b"`
}

type swapView struct {
	TokenIn   string `json:"token_in"`
	TokenOut  string `json:"token_out"`
	AmountIn  string `json:"amount_in"`
	AmountOut string `json:"amount_out"`
	Fee       string `json:"fee"`
}

type errorView struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
