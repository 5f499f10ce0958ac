package model

// Snapshot is the persisted engine state: one record per pool, per
// (pool, provider) position and per limit order.
type Snapshot struct {
	Clock       uint64           `json:"clock"`
	NextOrderID uint64           `json:"next_order_id"`
	EventSeq    uint64           `json:"event_seq"`
	Pools       []PoolRecord     `json:"pools"`
	Positions   []PositionRecord `json:"positions"`
	Orders      []OrderRecord    `json:"orders"`
}

// PoolRecord is the storage form of a pool.
type PoolRecord struct {
	ID                string `json:"id"`
	TokenA            string `json:"token_a"`
	TokenB            string `json:"token_b"`
	ReserveA          string `json:"reserve_a"`
	ReserveB          string `json:"reserve_b"`
	TotalShares       string `json:"total_shares"`
	FeeBps            uint32 `json:"fee_bps"`
	CumulativeFeesA   string `json:"cumulative_fees_a"`
	CumulativeFeesB   string `json:"cumulative_fees_b"`
	DailyVolume       string `json:"daily_volume"`
	DailyFeesA        string `json:"daily_fees_a"`
	VolumeDay         uint64 `json:"volume_day"`
	LastUpdateTime    uint64 `json:"last_update_time"`
	CreatedAt         uint64 `json:"created_at"`
	Active            bool   `json:"active"`
	RewardRate        string `json:"reward_rate"`
	AccRewardPerShare string `json:"acc_reward_per_share"`
	LastRewardTime    uint64 `json:"last_reward_time"`
	RewardBudget      string `json:"reward_budget"`
	RewardsAccrued    string `json:"rewards_accrued"`
}

// PositionRecord is the storage form of a liquidity position.
type PositionRecord struct {
	PoolID         string `json:"pool_id"`
	Provider       string `json:"provider"`
	Shares         string `json:"shares"`
	RewardDebt     string `json:"reward_debt"`
	PendingRewards string `json:"pending_rewards"`
	ContributedA   string `json:"contributed_a"`
	ContributedB   string `json:"contributed_b"`
}

// OrderRecord is the storage form of a limit order.
type OrderRecord struct {
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
	Expiry       uint64 `json:"expiry"`
	Status       string `json:"status"`
	AmountOut    string `json:"amount_out"`
	ClosedAt     uint64 `json:"closed_at"`
}
