package tokenmeta

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	t         *testing.T
	responses map[string][]byte
	calls     int
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	parsed, err := erc20String.get()
	require.NoError(f.t, err)
	for name, method := range parsed.Methods {
		if bytes.Equal(msg.Data[:4], method.ID) {
			if resp, ok := f.responses[name]; ok {
				return resp, nil
			}
			return nil, errors.New("execution reverted")
		}
	}
	return nil, errors.New("unknown selector")
}

func newFakeCaller(t *testing.T) *fakeCaller {
	stringABI, err := erc20String.get()
	require.NoError(t, err)
	bytes32ABI, err := erc20Bytes32.get()
	require.NoError(t, err)

	decimals, err := stringABI.Methods["decimals"].Outputs.Pack(uint8(6))
	require.NoError(t, err)
	name, err := stringABI.Methods["name"].Outputs.Pack("USD Coin")
	require.NoError(t, err)
	var raw [32]byte
	copy(raw[:], "USDC")
	symbol, err := bytes32ABI.Methods["symbol"].Outputs.Pack(raw)
	require.NoError(t, err)

	return &fakeCaller{t: t, responses: map[string][]byte{
		"decimals": decimals,
		"name":     name,
		"symbol":   symbol,
	}}
}

func TestResolverFetchesAndCaches(t *testing.T) {
	ctx := context.Background()
	caller := newFakeCaller(t)
	r := NewResolver(caller, nil)
	token := common.HexToAddress("0x2000000000000000000000000000000000000002")

	meta, err := r.Token(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), meta.Decimals)
	assert.Equal(t, "USD Coin", meta.Name)
	assert.Equal(t, "USDC", meta.Symbol)
	assert.Equal(t, token.Hex(), meta.Address)

	calls := caller.calls
	decimals, err := r.Decimals(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), decimals)
	assert.Equal(t, calls, caller.calls, "second lookup should hit the cache")
}

func TestResolverRequiresDecimals(t *testing.T) {
	caller := newFakeCaller(t)
	delete(caller.responses, "decimals")
	r := NewResolver(caller, nil)

	_, err := r.Token(context.Background(), common.HexToAddress("0x1000000000000000000000000000000000000001"))
	require.Error(t, err)

	_, err = Fetch(context.Background(), nil, common.Address{}, nil)
	require.Error(t, err)
}
