package token

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"pricescope/internal/chain"
	"pricescope/internal/probe"
)

// BatchDecimals resolves decimals for many tokens at one block. The primary
// selector for every uncached token goes out as a single batched round trip;
// tokens that fail the primary selector fall back to the per-token ladder.
// Output length and order always match the input; unresolved entries are nil.
func (r *Registry) BatchDecimals(ctx context.Context, caller chain.Caller, tokens []common.Address, block *big.Int) ([]*uint8, error) {
	out := make([]*uint8, len(tokens))

	pending := make([]int, 0, len(tokens))
	for i, tok := range tokens {
		if cached, ok := r.decimals.Load(tok); ok {
			v := cached
			out[i] = &v
			continue
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return out, nil
	}

	selector, err := probe.Selector(decimalsSelectors[0])
	if err != nil {
		return nil, err
	}

	msgs := make([]ethereum.CallMsg, len(pending))
	for j, i := range pending {
		addr := tokens[i]
		msgs[j] = ethereum.CallMsg{To: &addr, Data: selector}
	}

	batch, err := caller.BatchCallContract(ctx, msgs, block)
	if err != nil {
		// The batched capability is unavailable; fall back to N
		// independent lookups so no token drops out of the result.
		batch = nil
	}

	for j, i := range pending {
		if batch != nil {
			res := batch[j]
			if res.Err == nil && len(res.Output) >= 32 {
				value := new(big.Int).SetBytes(res.Output[:32])
				if value.IsUint64() && value.Uint64() <= 255 {
					v := uint8(value.Uint64())
					r.decimals.Store(tokens[i], v)
					out[i] = &v
					continue
				}
			}
		}

		decimals, err := r.Decimals(ctx, tokens[i], block)
		if err != nil {
			if errors.Is(err, ErrNonStandardToken) {
				continue
			}
			return nil, err
		}
		v := decimals
		out[i] = &v
	}

	return out, nil
}

// BatchTotalSupply resolves total supply for many tokens at one block in a
// single round trip, order-preserving, nil for failed entries.
func (r *Registry) BatchTotalSupply(ctx context.Context, tokens []common.Address, block *big.Int) ([]*big.Int, error) {
	return r.prober.BatchCallUint(ctx, tokens, "totalSupply()(uint)", block)
}
