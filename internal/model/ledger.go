package model

// BalanceRecord is one (token, owner) balance held by the in-memory ledger.
type BalanceRecord struct {
	Token  string `json:"token"`
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}
