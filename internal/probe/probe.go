// Package probe answers "does this contract implement that method" questions
// by issuing real read-only calls. There is no interface registry on most EVM
// chains, so capability probing is the only reliable way to tell protocol
// families apart.
package probe

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"pricescope/internal/chain"
)

// Prober issues capability checks and raw single-word reads.
type Prober struct {
	caller chain.Caller
	logger *zap.Logger
}

// NewProber builds a Prober over the given call capability.
func NewProber(caller chain.Caller, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{caller: caller, logger: logger}
}

// HasMethod reports whether the contract at address responds to the method
// signature. A revert or empty return means false; only transport failures
// propagate as errors.
func (p *Prober) HasMethod(ctx context.Context, address common.Address, sig string, block *big.Int) (bool, error) {
	data, err := Selector(sig)
	if err != nil {
		return false, err
	}

	msg := ethereum.CallMsg{To: &address, Data: data}
	out, err := p.caller.CallContract(ctx, msg, block)
	if err != nil {
		if chain.IsRevert(err) {
			return false, nil
		}
		return false, err
	}
	return len(out) > 0, nil
}

// HasMethods reports whether the contract responds to every signature.
// The checks go out as a single batched round trip.
func (p *Prober) HasMethods(ctx context.Context, address common.Address, sigs []string, block *big.Int) (bool, error) {
	results, err := p.probeAll(ctx, address, sigs, block)
	if err != nil {
		return false, err
	}
	for _, ok := range results {
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// HasAnyMethod returns the first signature the contract responds to, or ""
// when none match.
func (p *Prober) HasAnyMethod(ctx context.Context, address common.Address, sigs []string, block *big.Int) (string, error) {
	results, err := p.probeAll(ctx, address, sigs, block)
	if err != nil {
		return "", err
	}
	for i, ok := range results {
		if ok {
			return sigs[i], nil
		}
	}
	return "", nil
}

func (p *Prober) probeAll(ctx context.Context, address common.Address, sigs []string, block *big.Int) ([]bool, error) {
	if len(sigs) == 1 {
		ok, err := p.HasMethod(ctx, address, sigs[0], block)
		if err != nil {
			return nil, err
		}
		return []bool{ok}, nil
	}

	msgs := make([]ethereum.CallMsg, len(sigs))
	for i, sig := range sigs {
		data, err := Selector(sig)
		if err != nil {
			return nil, err
		}
		addr := address
		msgs[i] = ethereum.CallMsg{To: &addr, Data: data}
	}

	batch, err := p.caller.BatchCallContract(ctx, msgs, block)
	if err != nil {
		return nil, err
	}

	results := make([]bool, len(sigs))
	for i, res := range batch {
		if res.Err != nil {
			if !chain.IsRevert(res.Err) {
				p.logger.Debug("probe element failed",
					zap.String("address", address.Hex()),
					zap.String("sig", sigs[i]),
					zap.Error(res.Err),
				)
			}
			continue
		}
		results[i] = len(res.Output) > 0
	}
	return results, nil
}
