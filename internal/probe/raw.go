package probe

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"pricescope/internal/chain"
)

// Word left-pads b into a 32-byte ABI word.
func Word(b []byte) []byte {
	return common.LeftPadBytes(b, 32)
}

// PackArgs appends each argument as a 32-byte word after the selector.
// Sufficient for the static-argument getters the valuators use.
func PackArgs(selector []byte, args ...[]byte) []byte {
	data := make([]byte, 0, 4+32*len(args))
	data = append(data, selector...)
	for _, arg := range args {
		data = append(data, Word(arg)...)
	}
	return data
}

// Call issues a read-only call for sig with optional static arguments and
// returns the raw output. A revert yields (nil, nil) so callers can treat
// "contract said no" as "not applicable" without string matching.
func (p *Prober) Call(ctx context.Context, address common.Address, sig string, block *big.Int, args ...[]byte) ([]byte, error) {
	selector, err := Selector(sig)
	if err != nil {
		return nil, err
	}

	msg := ethereum.CallMsg{To: &address, Data: PackArgs(selector, args...)}
	out, err := p.caller.CallContract(ctx, msg, block)
	if err != nil {
		if chain.IsRevert(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("call %s on %s: %w", sig, address.Hex(), err)
	}
	return out, nil
}

// CallChecked is Call without the revert swallowing: the revert comes back
// as the node reported it, reason included, for callers that distinguish
// between revert causes.
func (p *Prober) CallChecked(ctx context.Context, address common.Address, sig string, block *big.Int, args ...[]byte) ([]byte, error) {
	selector, err := Selector(sig)
	if err != nil {
		return nil, err
	}
	msg := ethereum.CallMsg{To: &address, Data: PackArgs(selector, args...)}
	return p.caller.CallContract(ctx, msg, block)
}

// CallUint reads a single uint-shaped return value. Revert or empty output
// yields (nil, nil).
func (p *Prober) CallUint(ctx context.Context, address common.Address, sig string, block *big.Int, args ...[]byte) (*big.Int, error) {
	out, err := p.Call(ctx, address, sig, block, args...)
	if err != nil || len(out) < 32 {
		return nil, err
	}
	return new(big.Int).SetBytes(out[:32]), nil
}

// CallAddress reads a single address-shaped return value. Revert or empty
// output yields the zero address.
func (p *Prober) CallAddress(ctx context.Context, address common.Address, sig string, block *big.Int, args ...[]byte) (common.Address, error) {
	out, err := p.Call(ctx, address, sig, block, args...)
	if err != nil || len(out) < 32 {
		return common.Address{}, err
	}
	return common.BytesToAddress(out[12:32]), nil
}

// CallAddressSlice reads a dynamic address[] return value.
func (p *Prober) CallAddressSlice(ctx context.Context, address common.Address, sig string, block *big.Int, args ...[]byte) ([]common.Address, error) {
	out, err := p.Call(ctx, address, sig, block, args...)
	if err != nil || len(out) < 64 {
		return nil, err
	}

	offset := new(big.Int).SetBytes(out[:32])
	if !offset.IsInt64() || offset.Int64()+32 > int64(len(out)) {
		return nil, fmt.Errorf("malformed address[] response from %s", address.Hex())
	}
	start := offset.Int64()
	count := new(big.Int).SetBytes(out[start : start+32])
	if !count.IsInt64() {
		return nil, fmt.Errorf("malformed address[] length from %s", address.Hex())
	}
	n := count.Int64()
	if start+32+n*32 > int64(len(out)) {
		return nil, fmt.Errorf("truncated address[] response from %s", address.Hex())
	}

	addrs := make([]common.Address, 0, n)
	for i := int64(0); i < n; i++ {
		word := out[start+32+i*32 : start+64+i*32]
		addrs = append(addrs, common.BytesToAddress(word[12:32]))
	}
	return addrs, nil
}

// BatchCallUint issues one uint-shaped call per target in a single round
// trip. Output order matches input order; failed elements are nil.
func (p *Prober) BatchCallUint(ctx context.Context, targets []common.Address, sig string, block *big.Int, args ...[]byte) ([]*big.Int, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	selector, err := Selector(sig)
	if err != nil {
		return nil, err
	}

	msgs := make([]ethereum.CallMsg, len(targets))
	for i := range targets {
		addr := targets[i]
		msgs[i] = ethereum.CallMsg{To: &addr, Data: PackArgs(selector, args...)}
	}

	batch, err := p.caller.BatchCallContract(ctx, msgs, block)
	if err != nil {
		return nil, err
	}

	out := make([]*big.Int, len(targets))
	for i, res := range batch {
		if res.Err != nil || len(res.Output) < 32 {
			continue
		}
		out[i] = new(big.Int).SetBytes(res.Output[:32])
	}
	return out, nil
}
