package pricer

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"pricescope/internal/token"
)

// priceVirtualPricePool prices an allowlisted stableswap LP from its pool's
// virtual price. All allowlisted pools are USD pools, so the virtual price
// is the dollar price directly.
func (p *Pricer) priceVirtualPricePool(ctx context.Context, pool common.Address, sig string, block *big.Int) (float64, bool, error) {
	if pool == (common.Address{}) {
		return 0, false, nil
	}
	vp, err := p.prober.CallUint(ctx, pool, sig, block)
	if err != nil || vp == nil {
		return 0, false, err
	}
	return token.Readable(vp, 18), true, nil
}

// priceMStableFeeder prices a feeder pool LP from the pool's own getPrice,
// anchored to the mAsset it feeds.
func (p *Pricer) priceMStableFeeder(ctx context.Context, pool common.Address, block *big.Int) (float64, bool, error) {
	out, err := p.prober.Call(ctx, pool, "getPrice()(uint256,uint256)", block)
	if err != nil || len(out) < 32 {
		return 0, false, err
	}
	ratio := token.Readable(new(big.Int).SetBytes(out[:32]), 18)

	mAsset, err := p.prober.CallAddress(ctx, pool, "mAsset()(address)", block)
	if err != nil || mAsset == (common.Address{}) {
		return 0, false, err
	}
	anchor, ok, err := p.TokenPrice(ctx, mAsset, block)
	if err != nil || !ok {
		return 0, false, err
	}
	return anchor * ratio, true, nil
}

// priceStargateLP prices a stargate pool share as the underlying price times
// pooled liquidity over share supply. Liquidity is denominated in the
// underlying's local decimals, shares in the LP's own.
func (p *Pricer) priceStargateLP(ctx context.Context, lp common.Address, block *big.Int) (float64, bool, error) {
	underlying, err := p.prober.CallAddress(ctx, lp, "token()(address)", block)
	if err != nil || underlying == (common.Address{}) {
		return 0, false, err
	}
	liquidity, err := p.prober.CallUint(ctx, lp, "totalLiquidity()(uint256)", block)
	if err != nil || liquidity == nil {
		return 0, false, err
	}
	supply, err := p.tokens.TotalSupply(ctx, lp, block)
	if err != nil || supply == nil || supply.Sign() == 0 {
		return 0, false, err
	}

	underlyingPrice, ok, err := p.TokenPrice(ctx, underlying, block)
	if err != nil || !ok {
		return 0, false, err
	}
	ratio, _ := new(big.Float).Quo(new(big.Float).SetInt(liquidity), new(big.Float).SetInt(supply)).Float64()
	return underlyingPrice * ratio, true, nil
}
