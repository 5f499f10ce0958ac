package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

const defaultCallTimeout = 10 * time.Second

// Client is a read-only RPC client for ERC20 metadata lookups. Every call is
// bounded by the client's call timeout.
type Client struct {
	rpcClient   *rpc.Client
	ethClient   *ethclient.Client
	callTimeout time.Duration

	chainOnce sync.Once
	chainID   *big.Int
	chainErr  error
}

// NewClient dials rpcURL. A zero callTimeout uses 10s.
func NewClient(ctx context.Context, rpcURL string, callTimeout time.Duration) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}

	return &Client{
		rpcClient:   rpcClient,
		ethClient:   ethclient.NewClient(rpcClient),
		callTimeout: callTimeout,
	}, nil
}

func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// ChainID asks the node once and remembers the answer, including a failure.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	c.chainOnce.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
		c.chainID, c.chainErr = c.ethClient.ChainID(ctx)
	})
	if c.chainErr != nil {
		return nil, c.chainErr
	}
	return new(big.Int).Set(c.chainID), nil
}

// CallContract performs an eth_call. A nil blockNumber reads latest state.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return c.ethClient.CallContract(ctx, msg, blockNumber)
}
