package aggregate

import (
	"fmt"
	"math/big"
	"strings"

	"ammEngine/internal/model"
)

// Accumulator holds aggregate values for one pool window.
type Accumulator struct {
	PoolID      string
	TokenA      string
	TokenB      string
	WindowStart uint64
	WindowEnd   uint64
	SwapCount   uint64
	VolumeA     *big.Int
	VolumeB     *big.Int
	FeeA        *big.Int
	FeeB        *big.Int
	// Reserves after the latest event in the window.
	ReserveA *big.Int
	ReserveB *big.Int
	FirstTS  uint64
	LastTS   uint64
}

func NewAccumulator(ev model.Event, windowStart, windowEnd uint64) *Accumulator {
	return &Accumulator{
		PoolID:      ev.PoolID,
		TokenA:      ev.TokenA,
		TokenB:      ev.TokenB,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		VolumeA:     big.NewInt(0),
		VolumeB:     big.NewInt(0),
		FeeA:        big.NewInt(0),
		FeeB:        big.NewInt(0),
		FirstTS:     ev.Timestamp,
		LastTS:      ev.Timestamp,
	}
}

func (a *Accumulator) AddEvent(ev model.Event) error {
	if ev.Timestamp >= a.LastTS || a.ReserveA == nil {
		reserveA, err := parseBigInt(ev.After.ReserveA)
		if err != nil {
			return fmt.Errorf("reserve a: %w", err)
		}
		reserveB, err := parseBigInt(ev.After.ReserveB)
		if err != nil {
			return fmt.Errorf("reserve b: %w", err)
		}
		a.ReserveA, a.ReserveB = reserveA, reserveB
		a.LastTS = max(a.LastTS, ev.Timestamp)
	}
	if ev.Timestamp < a.FirstTS {
		a.FirstTS = ev.Timestamp
	}

	if ev.Type != model.EventSwap {
		return nil
	}
	return a.applySwap(ev)
}

func (a *Accumulator) applySwap(ev model.Event) error {
	amountIn, err := parseBigInt(ev.AmountIn)
	if err != nil {
		return err
	}
	amountOut, err := parseBigInt(ev.AmountOut)
	if err != nil {
		return err
	}
	fee, err := parseBigInt(ev.Fee)
	if err != nil {
		return err
	}

	switch {
	case strings.EqualFold(ev.TokenIn, a.TokenA):
		a.VolumeA.Add(a.VolumeA, amountIn)
		a.VolumeB.Add(a.VolumeB, amountOut)
		a.FeeA.Add(a.FeeA, fee)
	case strings.EqualFold(ev.TokenIn, a.TokenB):
		a.VolumeB.Add(a.VolumeB, amountIn)
		a.VolumeA.Add(a.VolumeA, amountOut)
		a.FeeB.Add(a.FeeB, fee)
	default:
		return fmt.Errorf("swap token %s not in pool %s", ev.TokenIn, a.PoolID)
	}

	a.SwapCount++
	return nil
}

func parseBigInt(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok || parsed.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount: %s", value)
	}
	return parsed, nil
}
