package chain

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// BatchResult holds the outcome of one element of a batched eth_call.
// A failed element carries its own error and never aborts the batch.
type BatchResult struct {
	Output []byte
	Err    error
}

// Caller is the read-only chain capability the pricing core depends on.
// *Client implements it against a live node; tests implement it with stubs.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error)
	BatchCallContract(ctx context.Context, msgs []ethereum.CallMsg, block *big.Int) ([]BatchResult, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Client wraps go-ethereum RPC and provides helper methods. Transient
// transport failures are retried with exponential backoff; contract reverts
// are never retried, probes depend on seeing them.
type Client struct {
	rpcClient  *rpc.Client
	ethClient  *ethclient.Client
	maxRetries int
	baseDelay  time.Duration

	mu      sync.RWMutex
	idCache *big.Int
}

// NewClient creates a new chain client from the RPC URL.
func NewClient(ctx context.Context, rpcURL string, maxRetries int, retryBackoff time.Duration) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	return &Client{
		rpcClient:  rpcClient,
		ethClient:  ethclient.NewClient(rpcClient),
		maxRetries: maxRetries,
		baseDelay:  retryBackoff,
	}, nil
}

// retry wraps fn in WithRetry. A revert ends the attempts immediately but
// still reaches the caller.
func (c *Client) retry(ctx context.Context, fn func(context.Context) error) error {
	var last error
	err := WithRetry(ctx, c.maxRetries, c.baseDelay, func(ctx context.Context) error {
		last = fn(ctx)
		if last != nil && IsRevert(last) {
			return nil
		}
		return last
	})
	if err != nil {
		return err
	}
	return last
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// ChainID returns the chain ID, cached after the first call.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.RLock()
	id := c.idCache
	c.mu.RUnlock()
	if id != nil {
		return new(big.Int).Set(id), nil
	}

	id, err := c.ethClient.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.idCache = id
	c.mu.Unlock()

	return new(big.Int).Set(id), nil
}

// BlockNumber returns the latest block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.ethClient.BlockNumber(ctx)
}

// CallContract performs an eth_call for a contract method.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	var out []byte
	err := c.retry(ctx, func(ctx context.Context) error {
		var callErr error
		out, callErr = c.ethClient.CallContract(ctx, msg, block)
		return callErr
	})
	return out, err
}

// BatchCallContract performs many eth_calls in a single RPC round trip.
// Results are positional and each element fails independently.
func (c *Client) BatchCallContract(ctx context.Context, msgs []ethereum.CallMsg, block *big.Int) ([]BatchResult, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	blockArg := "latest"
	if block != nil {
		blockArg = hexutil.EncodeBig(block)
	}

	elems := make([]rpc.BatchElem, len(msgs))
	outputs := make([]hexutil.Bytes, len(msgs))
	for i, msg := range msgs {
		arg := map[string]interface{}{
			"to":   msg.To,
			"data": hexutil.Bytes(msg.Data),
		}
		if msg.From != (common.Address{}) {
			arg["from"] = msg.From
		}
		elems[i] = rpc.BatchElem{
			Method: "eth_call",
			Args:   []interface{}{arg, blockArg},
			Result: &outputs[i],
		}
	}

	if err := c.retry(ctx, func(ctx context.Context) error {
		return c.rpcClient.BatchCallContext(ctx, elems)
	}); err != nil {
		return nil, err
	}

	results := make([]BatchResult, len(msgs))
	for i := range elems {
		results[i] = BatchResult{Output: outputs[i], Err: elems[i].Error}
	}
	return results, nil
}

// FilterLogs returns logs matching the query.
func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return c.ethClient.FilterLogs(ctx, query)
}
