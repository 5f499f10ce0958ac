package dex

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SortTokens returns the pair in canonical order (tokenA < tokenB by bytes).
func SortTokens(a, b common.Address) (common.Address, common.Address, error) {
	if a == b {
		return common.Address{}, common.Address{}, fmt.Errorf("%w: %s", ErrIdenticalTokens, a.Hex())
	}
	if a == (common.Address{}) || b == (common.Address{}) {
		return common.Address{}, common.Address{}, fmt.Errorf("%w: zero address", ErrInvalidToken)
	}
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		a, b = b, a
	}
	return a, b, nil
}

// PoolID derives the canonical pool id for a pair: keccak256(tokenA ‖ tokenB)
// over the sorted tokens, so (A,B) and (B,A) share one id.
func PoolID(a, b common.Address) (common.Hash, error) {
	tokenA, tokenB, err := SortTokens(a, b)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(tokenA.Bytes(), tokenB.Bytes()), nil
}

// ParsePoolID parses a 0x-prefixed 32-byte pool id.
func ParsePoolID(input string) (common.Hash, error) {
	input = strings.TrimSpace(input)
	data, err := hexutil.Decode(input)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid pool id: %s", input)
	}
	if len(data) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid pool id length: %s", input)
	}
	return common.BytesToHash(data), nil
}

// ParseAddress parses a hex account or token address.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %s", input)
	}
	return common.HexToAddress(input), nil
}
