package model

// PoolMeta is the immutable description of a pool kept alongside metrics.
type PoolMeta struct {
	PoolID      string `json:"pool_id"`
	TokenA      string `json:"token_a"`
	TokenB      string `json:"token_b"`
	FeeBps      uint32 `json:"fee_bps"`
	FirstSeenTS uint64 `json:"first_seen_ts"`
}

// TokenMeta is ERC20 metadata read from chain. Symbol and Name are empty when
// the contract exposes neither the string nor the bytes32 form.
type TokenMeta struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol,omitempty"`
	Name     string `json:"name,omitempty"`
	Decimals uint8  `json:"decimals"`
}
