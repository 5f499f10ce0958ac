package dex

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TokenLedger is the fungible-balance ledger the engine settles against.
// TransferIn pulls funds from an owner into the engine's custody and fails
// with ErrUnauthorized or ErrInsufficientBalance on shortfall; TransferOut
// pays from custody.
//
// The engine calls the ledger while holding the pool's exclusive section, so
// implementations must not call back into the engine.
type TokenLedger interface {
	TransferIn(ctx context.Context, token, from common.Address, amount *uint256.Int) error
	TransferOut(ctx context.Context, token, to common.Address, amount *uint256.Int) error
	BalanceOf(ctx context.Context, token, owner common.Address) (*uint256.Int, error)
}
