package dex

import (
	"sync"
	"time"
)

// Clock is the engine's source of logical time in seconds. It must never go
// backwards; order expiry and reward accrual are evaluated against it.
type Clock interface {
	Now() uint64
}

// SystemClock reads wall-clock unix seconds, clamped to be monotonic.
type SystemClock struct {
	mu   sync.Mutex
	last uint64
}

func (c *SystemClock) Now() uint64 {
	now := uint64(time.Now().Unix())
	c.mu.Lock()
	defer c.mu.Unlock()
	if now < c.last {
		return c.last
	}
	c.last = now
	return now
}

// ManualClock is advanced explicitly, e.g. to block time during replay.
type ManualClock struct {
	mu  sync.Mutex
	now uint64
}

func NewManualClock(start uint64) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to ts. Earlier timestamps are ignored and reported false.
func (c *ManualClock) Set(ts uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts < c.now {
		return false
	}
	c.now = ts
	return true
}

func (c *ManualClock) Advance(seconds uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += seconds
	return c.now
}
