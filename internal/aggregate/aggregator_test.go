package aggregate

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ammEngine/internal/dex"
	"ammEngine/internal/ledger"
	"ammEngine/internal/model"
	"ammEngine/internal/storage"
)

var (
	weth    = common.HexToAddress("0x1000000000000000000000000000000000000001")
	usdc    = common.HexToAddress("0x2000000000000000000000000000000000000002")
	custody = common.HexToAddress("0xc0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0")
	alice   = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob     = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
)

const startTime = 1_700_000_000

type memStore struct {
	pools   []model.PoolMeta
	metrics []model.PoolWindowMetrics
}

func (m *memStore) UpsertPools(_ context.Context, pools []model.PoolMeta) error {
	m.pools = append(m.pools, pools...)
	return nil
}

func (m *memStore) UpsertWindowMetrics(_ context.Context, metrics []model.PoolWindowMetrics) error {
	m.metrics = append(m.metrics, metrics...)
	return nil
}

// writeEvents runs a small trading session and logs its events as JSONL.
func writeEvents(t *testing.T, path string) common.Hash {
	t.Helper()
	ctx := context.Background()
	led := ledger.NewMemory(custody)
	clock := dex.NewManualClock(startTime)
	reg := dex.NewRegistry(dex.Config{}, led, clock, storage.NewJsonlStorage(path), nil)

	id, err := reg.CreatePool(ctx, weth, usdc)
	require.NoError(t, err)
	require.NoError(t, led.Mint(weth, alice, uint256.NewInt(1_000_000)))
	require.NoError(t, led.Mint(usdc, alice, uint256.NewInt(1_000_000)))
	_, err = reg.AddLiquidity(ctx, alice, id, uint256.NewInt(1_000_000), uint256.NewInt(1_000_000), new(uint256.Int), new(uint256.Int))
	require.NoError(t, err)

	require.NoError(t, led.Mint(weth, bob, uint256.NewInt(1_500)))
	require.NoError(t, led.Mint(usdc, bob, uint256.NewInt(2_000)))
	swap := func(at uint64, token common.Address, amount uint64) {
		clock.Set(at)
		_, err := reg.Swap(ctx, bob, id, token, uint256.NewInt(amount), new(uint256.Int))
		require.NoError(t, err)
	}
	swap(startTime+10, weth, 1_000)
	swap(startTime+20, usdc, 2_000)
	swap(startTime+3_600, weth, 500)
	return id
}

func TestAggregatorBuildsWindows(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	input := filepath.Join(dir, "events.jsonl")
	id := writeEvents(t, input)

	store := &memStore{}
	state := &FileStateStore{Path: filepath.Join(dir, "state.json")}
	agg := NewAggregator(Config{WindowSeconds: 3_600, StateStore: state}, store, nil, nil)
	require.NoError(t, agg.Run(ctx, input))

	require.Len(t, store.pools, 1)
	assert.Equal(t, id.Hex(), store.pools[0].PoolID)
	assert.Equal(t, dex.DefaultFeeBps, store.pools[0].FeeBps)
	assert.Equal(t, uint64(startTime), store.pools[0].FirstSeenTS)

	require.Len(t, store.metrics, 2)
	first := store.metrics[0]
	assert.Equal(t, time.Unix(1_699_999_200, 0).UTC(), first.WindowStart)
	assert.Equal(t, time.Unix(1_700_002_800, 0).UTC(), first.WindowEnd)
	assert.Equal(t, uint64(2), first.SwapCount)
	assert.Equal(t, "2994", first.VolumeA)
	assert.Equal(t, "2996", first.VolumeB)
	assert.Equal(t, "3", first.FeeA)
	assert.Equal(t, "6", first.FeeB)
	require.NotNil(t, first.TVLA)
	assert.Equal(t, "999006", *first.TVLA)
	assert.Equal(t, "1001004", *first.TVLB)
	require.NotNil(t, first.FeeRateA)
	assert.Equal(t, "0.000003002984967057", *first.FeeRateA)
	require.NotNil(t, first.APR)
	assert.Equal(t, "0.039406715499801310", *first.APR)
	assert.Equal(t, tvlMethodReserves, first.TVLMethod)

	second := store.metrics[1]
	assert.Equal(t, uint64(1), second.SwapCount)
	assert.Equal(t, "500", second.VolumeA)
	assert.Equal(t, "499", second.VolumeB)
	assert.Equal(t, "999506", *second.TVLA)

	last, ok, err := state.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(startTime+3_600), last)

	// A second run resumes after the saved timestamp and produces nothing new.
	rerun := &memStore{}
	require.NoError(t, NewAggregator(Config{WindowSeconds: 3_600, StateStore: state}, rerun, nil, nil).Run(ctx, input))
	assert.Empty(t, rerun.metrics)
}

type fixedDecimals map[common.Address]uint8

func (f fixedDecimals) Decimals(_ context.Context, token common.Address) (uint8, error) {
	return f[token], nil
}

func TestAggregatorScalesByDecimals(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "events.jsonl")
	writeEvents(t, input)

	store := &memStore{}
	decimals := fixedDecimals{weth: 3, usdc: 2}
	require.NoError(t, NewAggregator(Config{WindowSeconds: 3_600}, store, decimals, nil).Run(context.Background(), input))

	require.NotEmpty(t, store.metrics)
	assert.Equal(t, "2.994", store.metrics[0].VolumeA)
	assert.Equal(t, "29.96", store.metrics[0].VolumeB)
}

func TestComputeAPRWithoutFees(t *testing.T) {
	got := computeAPR(big.NewInt(0), big.NewInt(0), big.NewInt(10), big.NewInt(10), 3_600)
	require.NotNil(t, got)
	assert.Equal(t, "0.000000000000000000", *got)
	assert.Nil(t, computeAPR(big.NewInt(1), big.NewInt(0), big.NewInt(0), big.NewInt(10), 3_600))
	assert.Nil(t, computeRate(big.NewInt(0), big.NewInt(10)))
}
