package dex

import "errors"

// Engine errors. Callers match them with errors.Is; returned errors wrap them
// with operation context.
var (
	ErrPoolNotFound          = errors.New("pool not found")
	ErrPoolAlreadyExists     = errors.New("pool already exists")
	ErrZeroAmount            = errors.New("amount must be greater than zero")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInsufficientReserves  = errors.New("insufficient reserves")
	ErrInsufficientOutput    = errors.New("insufficient output amount")
	ErrSlippageExceeded      = errors.New("slippage exceeded")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrOrderNotFound         = errors.New("order not found")
	ErrOrderNotOpen          = errors.New("order not open")
	ErrOrderExpired          = errors.New("order expired")
	ErrInvalidOrder          = errors.New("invalid order")
	ErrIdenticalTokens       = errors.New("identical tokens")
	ErrInvalidToken          = errors.New("invalid token")
	ErrInvalidFee            = errors.New("invalid fee")
	ErrInvariantViolation    = errors.New("constant product invariant violated")
	ErrArithmeticOverflow    = errors.New("arithmetic overflow")
	ErrArithmeticUnderflow   = errors.New("arithmetic underflow")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrPoolNotFound, "pool_not_found"},
	{ErrPoolAlreadyExists, "pool_already_exists"},
	{ErrZeroAmount, "zero_amount"},
	{ErrInsufficientLiquidity, "insufficient_liquidity"},
	{ErrInsufficientReserves, "insufficient_reserves"},
	{ErrInsufficientOutput, "insufficient_output"},
	{ErrSlippageExceeded, "slippage_exceeded"},
	{ErrUnauthorized, "unauthorized"},
	{ErrInsufficientBalance, "insufficient_balance"},
	{ErrOrderNotFound, "order_not_found"},
	{ErrOrderNotOpen, "order_not_open"},
	{ErrOrderExpired, "order_expired"},
	{ErrInvalidOrder, "invalid_order"},
	{ErrIdenticalTokens, "identical_tokens"},
	{ErrInvalidToken, "invalid_token"},
	{ErrInvalidFee, "invalid_fee"},
	{ErrInvariantViolation, "invariant_violation"},
	{ErrArithmeticOverflow, "arithmetic_overflow"},
	{ErrArithmeticUnderflow, "arithmetic_underflow"},
}

// ErrorCode returns a stable snake_case code for an engine error, or
// "internal" when err wraps none of them.
func ErrorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
