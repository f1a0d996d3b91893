package pricer

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"pricescope/internal/token"
)

// priceSynth prices a synthetix synth from the protocol's ExchangeRates
// oracle. Rates quote against sUSD, so the rate is the dollar price.
func (p *Pricer) priceSynth(ctx context.Context, synth common.Address, block *big.Int) (float64, bool, error) {
	key, err := p.prober.Call(ctx, synth, "currencyKey()(bytes32)", block)
	if err != nil || len(key) < 32 {
		return 0, false, err
	}
	rate, err := p.prober.CallUint(ctx, p.book.SynthetixExchangeRates, "rateForCurrency(bytes32)(uint256)", block, key[:32])
	if err != nil || rate == nil || rate.Sign() == 0 {
		return 0, false, err
	}
	return token.Readable(rate, 18), true, nil
}

// priceWstETH prices wrapped stETH from the wrapper's own conversion rate.
func (p *Pricer) priceWstETH(ctx context.Context, tok common.Address, block *big.Int) (float64, bool, error) {
	perToken, err := p.prober.CallUint(ctx, tok, "stEthPerToken()(uint256)", block)
	if err != nil || perToken == nil {
		return 0, false, err
	}
	stETHPrice, ok, err := p.TokenPrice(ctx, p.book.StETH, block)
	if err != nil || !ok {
		return 0, false, err
	}
	return stETHPrice * token.Readable(perToken, 18), true, nil
}

// priceSolidexDeposit prices a solidex deposit at the LP it wraps; deposits
// are minted one to one against the underlying pool token.
func (p *Pricer) priceSolidexDeposit(ctx context.Context, tok common.Address, block *big.Int) (float64, bool, error) {
	pool, err := p.prober.CallAddress(ctx, tok, "pool()(address)", block)
	if err != nil || pool == (common.Address{}) {
		return 0, false, err
	}
	return p.TokenPrice(ctx, pool, block)
}

// priceConvexDeposit prices a convex deposit at its curve LP; the booster
// mints deposits one to one for staked LP tokens.
func (p *Pricer) priceConvexDeposit(ctx context.Context, tok common.Address, block *big.Int) (float64, bool, error) {
	lp, ok, err := p.lending.ConvexCurveLP(ctx, tok)
	if err != nil || !ok {
		return 0, false, err
	}
	return p.TokenPrice(ctx, lp, block)
}
