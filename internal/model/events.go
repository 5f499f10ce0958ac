package model

// Event types emitted by the engine.
const (
	EventPoolCreated       = "PoolCreated"
	EventPoolStatusChanged = "PoolStatusChanged"
	EventLiquidityAdded    = "LiquidityAdded"
	EventLiquidityRemoved  = "LiquidityRemoved"
	EventSwap              = "Swap"
	EventOrderCreated      = "OrderCreated"
	EventOrderFilled       = "OrderFilled"
	EventOrderCancelled    = "OrderCancelled"
	EventOrderExpired      = "OrderExpired"
	EventRewardsClaimed    = "RewardsClaimed"
	EventRewardsFunded     = "RewardsFunded"
	EventRewardRateUpdated = "RewardRateUpdated"
)

// PoolState is a reserve/share snapshot taken before or after a mutation.
type PoolState struct {
	ReserveA    string `json:"reserve_a"`
	ReserveB    string `json:"reserve_b"`
	TotalShares string `json:"total_shares"`
}

// Event is the structured record of one committed engine mutation.
// Amounts are base-10 strings.
type Event struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	Type      string    `json:"type"`
	PoolID    string    `json:"pool_id"`
	TokenA    string    `json:"token_a"`
	TokenB    string    `json:"token_b"`
	Account   string    `json:"account,omitempty"`
	Timestamp uint64    `json:"timestamp"`
	Before    PoolState `json:"before"`
	After     PoolState `json:"after"`

	TokenIn   string `json:"token_in,omitempty"`
	TokenOut  string `json:"token_out,omitempty"`
	AmountIn  string `json:"amount_in,omitempty"`
	AmountOut string `json:"amount_out,omitempty"`
	Fee       string `json:"fee,omitempty"`

	AmountA string `json:"amount_a,omitempty"`
	AmountB string `json:"amount_b,omitempty"`
	Shares  string `json:"shares,omitempty"`

	OrderID uint64 `json:"order_id,omitempty"`
	Side    string `json:"side,omitempty"`

	Rewards    string `json:"rewards,omitempty"`
	RewardRate string `json:"reward_rate,omitempty"`
	FeeBps     uint32 `json:"fee_bps,omitempty"`
	Active     *bool  `json:"active,omitempty"`
}
