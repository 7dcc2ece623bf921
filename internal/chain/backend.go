package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the subset of an Ethereum JSON-RPC client used by this package.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Conn dials the RPC endpoint on first use and shares the client afterwards.
type Conn struct {
	url string

	mu     sync.Mutex
	client *ethclient.Client
}

// NewConn prepares a lazily dialled connection.
func NewConn(rpcURL string) *Conn {
	return &Conn{url: rpcURL}
}

// Backend returns the shared client, dialling it if needed.
func (c *Conn) Backend(ctx context.Context) (Backend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	if c.url == "" {
		return nil, errors.New("chain rpc url not configured")
	}
	client, err := ethclient.DialContext(ctx, c.url)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

// Close releases the underlying client.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

// BackendSource yields a Backend on demand.
type BackendSource interface {
	Backend(ctx context.Context) (Backend, error)
}

// Static wraps an existing Backend as a BackendSource.
type Static struct{ B Backend }

// Backend returns the wrapped backend.
func (s Static) Backend(context.Context) (Backend, error) { return s.B, nil }
