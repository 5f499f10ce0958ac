package tokenmeta

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"ammEngine/internal/model"
)

// Caller performs read-only contract calls. *chain.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Resolver fetches ERC20 metadata and caches successful lookups by address.
type Resolver struct {
	caller Caller
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[common.Address]model.TokenMeta
}

func NewResolver(caller Caller, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		caller: caller,
		logger: logger,
		cache:  make(map[common.Address]model.TokenMeta),
	}
}

// Token returns metadata for token, calling the chain on a cache miss.
func (r *Resolver) Token(ctx context.Context, token common.Address) (model.TokenMeta, error) {
	r.mu.RLock()
	meta, ok := r.cache[token]
	r.mu.RUnlock()
	if ok {
		return meta, nil
	}

	meta, err := Fetch(ctx, r.caller, token, r.logger)
	if err != nil {
		return meta, err
	}

	r.mu.Lock()
	r.cache[token] = meta
	r.mu.Unlock()
	return meta, nil
}

// Decimals returns the token's decimals.
func (r *Resolver) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	meta, err := r.Token(ctx, token)
	if err != nil {
		return 0, err
	}
	return meta.Decimals, nil
}

// Fetch loads token metadata via ERC20 calls. decimals is required; symbol
// and name are best effort.
func Fetch(ctx context.Context, caller Caller, token common.Address, logger *zap.Logger) (model.TokenMeta, error) {
	meta := model.TokenMeta{Address: token.Hex()}
	if caller == nil {
		return meta, fmt.Errorf("chain client is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	stringABI, err := erc20String.get()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 string abi: %w", err)
	}
	bytes32ABI, err := erc20Bytes32.get()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}

	values, err := call(ctx, caller, token, stringABI, "decimals")
	if err != nil {
		return meta, err
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return meta, fmt.Errorf("decimals unexpected type %T", values[0])
	}
	meta.Decimals = decimals

	meta.Symbol = textField(ctx, caller, token, stringABI, bytes32ABI, "symbol", logger)
	meta.Name = textField(ctx, caller, token, stringABI, bytes32ABI, "name", logger)
	return meta, nil
}

func textField(ctx context.Context, caller Caller, token common.Address, stringABI, bytes32ABI abi.ABI, method string, logger *zap.Logger) string {
	values, err := call(ctx, caller, token, stringABI, method)
	if err == nil {
		if text, ok := values[0].(string); ok {
			return text
		}
	}
	values, err = call(ctx, caller, token, bytes32ABI, method)
	if err == nil {
		if raw, ok := values[0].([32]byte); ok {
			return string(bytes.TrimRight(raw[:], "\x00"))
		}
	}
	logger.Debug("token field unavailable", zap.String("token", token.Hex()), zap.String("method", method), zap.Error(err))
	return ""
}

func call(ctx context.Context, caller Caller, token common.Address, parsed abi.ABI, method string) ([]interface{}, error) {
	data, err := parsed.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &token, Data: data}
	resp, err := caller.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%s return size %d", method, len(values))
	}
	return values, nil
}
