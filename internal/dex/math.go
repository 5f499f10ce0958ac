package dex

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

const (
	// BpsDenominator is the fee denominator: 30 bps = 30/10000 = 0.30%.
	BpsDenominator = 10_000
	// DefaultFeeBps is used by CreatePool when no fee is given.
	DefaultFeeBps uint32 = 30

	secondsPerDay = 86_400
	daysPerYear   = 365
	ratioScale    = 18
)

var (
	// RewardScale is the fixed-point scale of accRewardPerShare.
	RewardScale = uint256.NewInt(1_000_000_000_000)
	// PriceScale is the fixed-point scale of limit prices (tokenOut per tokenIn).
	PriceScale = uint256.NewInt(1_000_000_000_000_000_000)

	bpsDenominator = uint256.NewInt(BpsDenominator)
)

// FormatAmount renders an amount as a base-10 string.
func FormatAmount(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return x.ToBig().String()
}

// ParseAmount parses a base-10 amount. An empty string is zero.
func ParseAmount(value string) (*uint256.Int, error) {
	if value == "" {
		return new(uint256.Int), nil
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", value)
	}
	if parsed.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount %s", ErrArithmeticUnderflow, value)
	}
	out, overflow := uint256.FromBig(parsed)
	if overflow {
		return nil, fmt.Errorf("%w: amount %s exceeds 256 bits", ErrArithmeticOverflow, value)
	}
	return out, nil
}

func addAmount(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, fmt.Errorf("%w: %s + %s", ErrArithmeticOverflow, FormatAmount(a), FormatAmount(b))
	}
	return z, nil
}

func subAmount(a, b *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, fmt.Errorf("%w: %s - %s", ErrArithmeticUnderflow, FormatAmount(a), FormatAmount(b))
	}
	return z, nil
}

func mulAmount(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s", ErrArithmeticOverflow, FormatAmount(a), FormatAmount(b))
	}
	return z, nil
}

// mulDiv returns floor(a*b/d) using a 512-bit intermediate product.
func mulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, fmt.Errorf("%w: division by zero", ErrArithmeticOverflow)
	}
	p := new(big.Int).Mul(a.ToBig(), b.ToBig())
	p.Quo(p, d.ToBig())
	z, overflow := uint256.FromBig(p)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s / %s", ErrArithmeticOverflow, FormatAmount(a), FormatAmount(b), FormatAmount(d))
	}
	return z, nil
}

// incr adds delta to the value stored at target.
func incr(target *uint256.Int, delta *uint256.Int) error {
	sum, err := addAmount(target, delta)
	if err != nil {
		return err
	}
	target.Set(sum)
	return nil
}

// decr subtracts delta from the value stored at target.
func decr(target *uint256.Int, delta *uint256.Int) error {
	diff, err := subAmount(target, delta)
	if err != nil {
		return err
	}
	target.Set(diff)
	return nil
}

func minAmount(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a
	}
	return b
}

// getAmountOut applies the constant-product formula with the fee taken from
// the input side and rounds down:
//
//	out = in*(10000-fee)*reserveOut / (reserveIn*10000 + in*(10000-fee))
func getAmountOut(amountIn, reserveIn, reserveOut *uint256.Int, feeBps uint32) (*uint256.Int, error) {
	if amountIn.IsZero() {
		return nil, ErrZeroAmount
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, ErrInsufficientReserves
	}
	inWithFee, err := mulAmount(amountIn, uint256.NewInt(uint64(BpsDenominator-feeBps)))
	if err != nil {
		return nil, err
	}
	scaledReserve, err := mulAmount(reserveIn, bpsDenominator)
	if err != nil {
		return nil, err
	}
	denominator, err := addAmount(scaledReserve, inWithFee)
	if err != nil {
		return nil, err
	}
	return mulDiv(inWithFee, reserveOut, denominator)
}

// feeAmount is the fee portion of amountIn, rounded down.
func feeAmount(amountIn *uint256.Int, feeBps uint32) (*uint256.Int, error) {
	return mulDiv(amountIn, uint256.NewInt(uint64(feeBps)), bpsDenominator)
}

// productNotDecreased reports whether newA*newB >= oldA*oldB.
func productNotDecreased(oldA, oldB, newA, newB *uint256.Int) bool {
	before := new(big.Int).Mul(oldA.ToBig(), oldB.ToBig())
	after := new(big.Int).Mul(newA.ToBig(), newB.ToBig())
	return after.Cmp(before) >= 0
}

// meetsLimitPrice reports whether amountOut/amountIn >= limitPrice/PriceScale.
func meetsLimitPrice(amountIn, amountOut, limitPrice *uint256.Int) bool {
	lhs := new(big.Int).Mul(amountOut.ToBig(), PriceScale.ToBig())
	rhs := new(big.Int).Mul(limitPrice.ToBig(), amountIn.ToBig())
	return lhs.Cmp(rhs) >= 0
}

// computeAPY annualizes the trailing daily fee yield: fees / (2*reserveA) * 365.
// TVL is valued in token A, both sides of a balanced pool being worth the same.
func computeAPY(dailyFeesA, reserveA *uint256.Int) string {
	if reserveA.IsZero() || dailyFeesA.IsZero() {
		return new(big.Rat).FloatString(ratioScale)
	}
	tvl := new(big.Int).Mul(reserveA.ToBig(), big.NewInt(2))
	rate := new(big.Rat).SetFrac(dailyFeesA.ToBig(), tvl)
	rate.Mul(rate, big.NewRat(daysPerYear, 1))
	return rate.FloatString(ratioScale)
}

// SpotPrice returns reserveOut/reserveIn scaled by PriceScale.
func SpotPrice(reserveIn, reserveOut *uint256.Int) (*uint256.Int, error) {
	if reserveIn.IsZero() {
		return nil, ErrInsufficientReserves
	}
	return mulDiv(reserveOut, PriceScale, reserveIn)
}

// sqrtProduct returns floor(sqrt(a*b)).
func sqrtProduct(a, b *uint256.Int) (*uint256.Int, error) {
	p := new(big.Int).Mul(a.ToBig(), b.ToBig())
	z, overflow := uint256.FromBig(p.Sqrt(p))
	if overflow {
		return nil, fmt.Errorf("%w: sqrt(%s * %s)", ErrArithmeticOverflow, FormatAmount(a), FormatAmount(b))
	}
	return z, nil
}
