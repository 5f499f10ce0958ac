package model

// Operation is one line of a replay input file. Fields not used by an
// operation kind are left empty.
type Operation struct {
	Seq       uint64 `json:"seq"`
	Timestamp uint64 `json:"timestamp"`
	Op        string `json:"op"`
	Account   string `json:"account,omitempty"`
	PoolID    string `json:"pool_id,omitempty"`

	TokenA  string  `json:"token_a,omitempty"`
	TokenB  string  `json:"token_b,omitempty"`
	Token   string  `json:"token,omitempty"`
	TokenIn string  `json:"token_in,omitempty"`
	FeeBps  *uint32 `json:"fee_bps,omitempty"`

	Amount         string `json:"amount,omitempty"`
	AmountIn       string `json:"amount_in,omitempty"`
	MinAmountOut   string `json:"min_amount_out,omitempty"`
	AmountADesired string `json:"amount_a_desired,omitempty"`
	AmountBDesired string `json:"amount_b_desired,omitempty"`
	AmountAMin     string `json:"amount_a_min,omitempty"`
	AmountBMin     string `json:"amount_b_min,omitempty"`
	Shares         string `json:"shares,omitempty"`

	Side       string `json:"side,omitempty"`
	LimitPrice string `json:"limit_price,omitempty"`
	ExpiresIn  uint64 `json:"expires_in,omitempty"`
	OrderID    uint64 `json:"order_id,omitempty"`

	RewardRate string `json:"reward_rate,omitempty"`
	Active     *bool  `json:"active,omitempty"`
}

// OperationError records a rejected operation.
type OperationError struct {
	Seq       uint64 `json:"seq"`
	Timestamp uint64 `json:"timestamp"`
	Op        string `json:"op"`
	Account   string `json:"account,omitempty"`
	PoolID    string `json:"pool_id,omitempty"`
	OrderID   uint64 `json:"order_id,omitempty"`
	Error     string `json:"error"`
}
