package dex

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func TestGetAmountOut(t *testing.T) {
	tests := []struct {
		in, reserveIn, reserveOut uint64
		fee                       uint32
		want                      uint64
	}{
		{in: 1, reserveIn: 10, reserveOut: 30000, fee: 30, want: 2719},
		{in: 1, reserveIn: 10, reserveOut: 30000, fee: 0, want: 2727},
		{in: 1_000, reserveIn: 1_000_000, reserveOut: 1_000_000, fee: 30, want: 996},
		{in: 1, reserveIn: 1_000_000, reserveOut: 1_000, fee: 30, want: 0},
	}
	for _, tt := range tests {
		got, err := getAmountOut(uint256.NewInt(tt.in), uint256.NewInt(tt.reserveIn), uint256.NewInt(tt.reserveOut), tt.fee)
		if err != nil {
			t.Fatalf("getAmountOut(%d, %d, %d): %v", tt.in, tt.reserveIn, tt.reserveOut, err)
		}
		if got.Uint64() != tt.want {
			t.Fatalf("getAmountOut(%d, %d, %d) = %d, want %d", tt.in, tt.reserveIn, tt.reserveOut, got.Uint64(), tt.want)
		}
	}

	if _, err := getAmountOut(uint256.NewInt(0), uint256.NewInt(1), uint256.NewInt(1), 30); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
	if _, err := getAmountOut(uint256.NewInt(1), uint256.NewInt(0), uint256.NewInt(1), 30); !errors.Is(err, ErrInsufficientReserves) {
		t.Fatalf("expected ErrInsufficientReserves, got %v", err)
	}
}

func TestArithmeticErrors(t *testing.T) {
	maxU := new(uint256.Int).SetAllOne()
	if _, err := addAmount(maxU, uint256.NewInt(1)); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := subAmount(uint256.NewInt(1), uint256.NewInt(2)); !errors.Is(err, ErrArithmeticUnderflow) {
		t.Fatalf("expected underflow, got %v", err)
	}
	if _, err := mulAmount(maxU, uint256.NewInt(2)); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	// The intermediate product exceeds 256 bits but the quotient fits.
	got, err := mulDiv(maxU, uint256.NewInt(4), uint256.NewInt(8))
	if err != nil {
		t.Fatalf("mulDiv: %v", err)
	}
	want := new(uint256.Int).Rsh(maxU, 1)
	if !got.Eq(want) {
		t.Fatalf("mulDiv = %s, want %s", got.ToBig(), want.ToBig())
	}
	if _, err := mulDiv(uint256.NewInt(1), uint256.NewInt(1), uint256.NewInt(0)); err == nil {
		t.Fatalf("expected error for zero divisor")
	}
}

func TestParseAmount(t *testing.T) {
	got, err := ParseAmount("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Eq(new(uint256.Int).SetAllOne()) {
		t.Fatalf("max uint256 mismatch: %s", got.ToBig())
	}
	if _, err := ParseAmount("115792089237316195423570985008687907853269984665640564039457584007913129639936"); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := ParseAmount("-1"); !errors.Is(err, ErrArithmeticUnderflow) {
		t.Fatalf("expected underflow, got %v", err)
	}
	if _, err := ParseAmount("1e18"); err == nil {
		t.Fatalf("expected error for non-decimal amount")
	}
	if zero, err := ParseAmount(""); err != nil || !zero.IsZero() {
		t.Fatalf("empty amount should parse as zero")
	}
}

func TestComputeAPY(t *testing.T) {
	// 10 units of fees a day on a 1000/1000 pool: 10/2000*365 = 1.825.
	got := computeAPY(uint256.NewInt(10), uint256.NewInt(1000))
	if got != "1.825000000000000000" {
		t.Fatalf("apy = %s", got)
	}
	if got := computeAPY(uint256.NewInt(10), uint256.NewInt(0)); got != "0.000000000000000000" {
		t.Fatalf("apy on empty pool = %s", got)
	}
}

func TestPoolIDIsOrderIndependent(t *testing.T) {
	a := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	b := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	ab, err := PoolID(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ba, err := PoolID(b, a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ab != ba {
		t.Fatalf("pool id depends on order: %s != %s", ab.Hex(), ba.Hex())
	}
	parsed, err := ParsePoolID(ab.Hex())
	if err != nil || parsed != ab {
		t.Fatalf("ParsePoolID(%s) = %s, %v", ab.Hex(), parsed.Hex(), err)
	}
	if _, err := ParsePoolID(a.Hex()); err == nil {
		t.Fatalf("expected error for 20-byte id")
	}
}

func TestManualClock(t *testing.T) {
	c := NewManualClock(100)
	if c.Set(99) {
		t.Fatalf("clock moved backwards")
	}
	if !c.Set(150) || c.Now() != 150 {
		t.Fatalf("clock not set: %d", c.Now())
	}
	if got := c.Advance(50); got != 200 {
		t.Fatalf("advance = %d", got)
	}
}

func TestErrorCode(t *testing.T) {
	wrapped := fmt.Errorf("swap: %w", ErrSlippageExceeded)
	if got := ErrorCode(wrapped); got != "slippage_exceeded" {
		t.Fatalf("ErrorCode = %s", got)
	}
	if got := ErrorCode(errors.New("boom")); got != "internal" {
		t.Fatalf("ErrorCode = %s", got)
	}
}
