package aggregate

import (
	"math/big"
	"time"
)

const ratioScale = 18

func formatTokenAmount(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	if decimals == 0 {
		return value.String()
	}
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Rat).SetFrac(value, denom).FloatString(int(decimals))
}

func computeRate(fee, tvl *big.Int) *string {
	if fee == nil || fee.Sign() == 0 || tvl == nil || tvl.Sign() == 0 {
		return nil
	}
	rate := new(big.Rat).SetFrac(fee, tvl).FloatString(ratioScale)
	return &rate
}

// feesInA values both fee sides in token A at the window's closing price.
func feesInA(feeA, feeB, reserveA, reserveB *big.Int) *big.Rat {
	total := new(big.Rat).SetInt(feeA)
	if feeB.Sign() > 0 && reserveB.Sign() > 0 {
		total.Add(total, new(big.Rat).SetFrac(new(big.Int).Mul(feeB, reserveA), reserveB))
	}
	return total
}

// computeAPR annualizes the window's fees over the pool value 2*reserveA,
// both measured in token A.
func computeAPR(feeA, feeB, reserveA, reserveB *big.Int, windowSeconds uint64) *string {
	if windowSeconds == 0 || reserveA == nil || reserveB == nil || reserveA.Sign() == 0 {
		return nil
	}
	fees := feesInA(feeA, feeB, reserveA, reserveB)
	if fees.Sign() == 0 {
		zero := new(big.Rat).FloatString(ratioScale)
		return &zero
	}
	tvl := new(big.Rat).SetInt(new(big.Int).Lsh(reserveA, 1))
	yearSeconds := big.NewRat(int64(365*24*time.Hour/time.Second), 1)
	apr := new(big.Rat).Quo(fees, tvl)
	apr.Mul(apr, yearSeconds)
	apr.Quo(apr, big.NewRat(int64(windowSeconds), 1))
	val := apr.FloatString(ratioScale)
	return &val
}
