package pricer

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"pricescope/internal/probe"
	"pricescope/internal/token"
)

// Share-price and underlying accessors probed on yearn-style vaults, in
// preference order. Different vault generations expose different subsets.
var (
	sharePriceSigs = []string{
		"pricePerShare()(uint256)",
		"getPricePerShare()(uint256)",
		"getPricePerFullShare()(uint256)",
		"getSharesToUnderlying(uint256)(uint256)",
		"exchangeRate()(uint256)",
	}
	underlyingSigs = []string{
		"token()(address)",
		"underlying()(address)",
		"native()(address)",
		"want()(address)",
	}
)

// priceYearnVault prices a vault share as the underlying price times the
// vault's share price. Old vaults scale the share price by their own
// decimals; getPricePerFullShare is always 1e18.
func (p *Pricer) priceYearnVault(ctx context.Context, vault common.Address, block *big.Int) (float64, bool, error) {
	shareSig, err := p.prober.HasAnyMethod(ctx, vault, sharePriceSigs, block)
	if err != nil {
		return 0, false, err
	}
	if shareSig == "" {
		return 0, false, nil
	}

	underlying, err := p.vaultUnderlying(ctx, vault, block)
	if err != nil {
		return 0, false, err
	}
	if underlying == (common.Address{}) {
		return 0, false, nil
	}

	var args [][]byte
	shareScale := uint8(18)
	switch shareSig {
	case "getPricePerFullShare()(uint256)":
		// 1e18 fixed.
	case "getSharesToUnderlying(uint256)(uint256)":
		decimals, err := p.tokens.Decimals(ctx, vault, block)
		if err != nil {
			return 0, false, err
		}
		shareScale = decimals
		args = append(args, probe.Word(scalePow10(decimals).Bytes()))
	default:
		decimals, err := p.tokens.Decimals(ctx, vault, block)
		if err != nil {
			return 0, false, err
		}
		shareScale = decimals
	}

	share, err := p.prober.CallUint(ctx, vault, shareSig, block, args...)
	if err != nil {
		return 0, false, err
	}
	if share == nil {
		return 0, false, nil
	}

	underlyingPrice, ok, err := p.TokenPrice(ctx, underlying, block)
	if err != nil || !ok {
		return 0, false, err
	}
	return underlyingPrice * token.Readable(share, shareScale), true, nil
}

func (p *Pricer) vaultUnderlying(ctx context.Context, vault common.Address, block *big.Int) (common.Address, error) {
	sig, err := p.prober.HasAnyMethod(ctx, vault, underlyingSigs, block)
	if err != nil || sig == "" {
		return common.Address{}, err
	}
	return p.prober.CallAddress(ctx, vault, sig, block)
}
