// Package chaintest provides a canned-response Caller for tests.
package chaintest

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"pricescope/internal/chain"
)

// ErrRevert mimics a node-side execution revert.
var ErrRevert = errors.New("execution reverted")

// Caller answers eth_calls from a canned table. Lookup tries the full
// calldata first, then just the 4-byte selector; anything not in the table
// reverts, which is how probes read absent methods.
type Caller struct {
	Responses map[string][]byte
	Errors    map[string]error
	Logs      []types.Log
	Head      uint64
	ID        uint64

	calls atomic.Int64
}

func New() *Caller {
	return &Caller{
		Responses: make(map[string][]byte),
		Errors:    make(map[string]error),
		ID:        1,
	}
}

// Set registers a response for calldata on target.
func (c *Caller) Set(target common.Address, calldata []byte, output []byte) {
	c.Responses[key(target, calldata)] = output
}

// SetErr registers an error for calldata on target, standing in for a
// node-side revert that carries a reason string.
func (c *Caller) SetErr(target common.Address, calldata []byte, err error) {
	c.Errors[key(target, calldata)] = err
}

// CallCount reports how many eth_calls were answered, batch elements
// included.
func (c *Caller) CallCount() int64 { return c.calls.Load() }

func key(target common.Address, calldata []byte) string {
	return target.Hex() + "/" + hexutil.Encode(calldata)
}

func (c *Caller) answer(msg ethereum.CallMsg) ([]byte, error) {
	c.calls.Add(1)
	if msg.To == nil {
		return nil, ErrRevert
	}
	if err, ok := c.Errors[key(*msg.To, msg.Data)]; ok {
		return nil, err
	}
	if out, ok := c.Responses[key(*msg.To, msg.Data)]; ok {
		return out, nil
	}
	if len(msg.Data) >= 4 {
		if err, ok := c.Errors[key(*msg.To, msg.Data[:4])]; ok {
			return nil, err
		}
		if out, ok := c.Responses[key(*msg.To, msg.Data[:4])]; ok {
			return out, nil
		}
	}
	return nil, ErrRevert
}

func (c *Caller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return c.answer(msg)
}

func (c *Caller) BatchCallContract(_ context.Context, msgs []ethereum.CallMsg, _ *big.Int) ([]chain.BatchResult, error) {
	results := make([]chain.BatchResult, len(msgs))
	for i, msg := range msgs {
		out, err := c.answer(msg)
		results[i] = chain.BatchResult{Output: out, Err: err}
	}
	return results, nil
}

func (c *Caller) FilterLogs(_ context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var out []types.Log
	for _, lg := range c.Logs {
		if query.FromBlock != nil && lg.BlockNumber < query.FromBlock.Uint64() {
			continue
		}
		if query.ToBlock != nil && lg.BlockNumber > query.ToBlock.Uint64() {
			continue
		}
		if len(query.Addresses) > 0 && !containsAddress(query.Addresses, lg.Address) {
			continue
		}
		if len(query.Topics) > 0 && len(query.Topics[0]) > 0 {
			if len(lg.Topics) == 0 || !containsHash(query.Topics[0], lg.Topics[0]) {
				continue
			}
		}
		out = append(out, lg)
	}
	return out, nil
}

func (c *Caller) BlockNumber(context.Context) (uint64, error) {
	return c.Head, nil
}

func (c *Caller) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).SetUint64(c.ID), nil
}

func containsAddress(list []common.Address, a common.Address) bool {
	for _, item := range list {
		if item == a {
			return true
		}
	}
	return false
}

func containsHash(list []common.Hash, h common.Hash) bool {
	for _, item := range list {
		if item == h {
			return true
		}
	}
	return false
}
