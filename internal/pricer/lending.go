package pricer

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"pricescope/internal/chain"
	"pricescope/internal/probe"
	"pricescope/internal/token"
)

// priceAToken prices an aave receipt token at its underlying: aTokens
// rebase, so one aToken is always redeemable for one underlying unit.
func (p *Pricer) priceAToken(ctx context.Context, tok common.Address, block *big.Int) (float64, bool, error) {
	sig, err := p.prober.HasAnyMethod(ctx, tok, []string{
		"underlyingAssetAddress()(address)",
		"UNDERLYING_ASSET_ADDRESS()(address)",
	}, block)
	if err != nil || sig == "" {
		return 0, false, err
	}
	underlying, err := p.prober.CallAddress(ctx, tok, sig, block)
	if err != nil || underlying == (common.Address{}) {
		return 0, false, err
	}
	return p.TokenPrice(ctx, underlying, block)
}

// priceCompoundMarket prices a compound-style market via exchangeRateStored.
// The stored rate is scaled by 10^(18 - 8 + underlying decimals). Bricked
// markets revert rate accrual complaining about an absurd borrow rate and
// really are worth nothing; every other revert just means no answer here.
func (p *Pricer) priceCompoundMarket(ctx context.Context, tok common.Address, block *big.Int) (float64, bool, error) {
	out, err := p.prober.CallChecked(ctx, tok, "exchangeRateStored()(uint256)", block)
	if err != nil {
		if !chain.IsRevert(err) {
			return 0, false, err
		}
		if strings.Contains(err.Error(), "borrow rate") {
			return 0, true, nil
		}
		return 0, false, nil
	}
	if len(out) < 32 {
		return 0, false, nil
	}
	rate := new(big.Int).SetBytes(out[:32])

	underlying, err := p.prober.CallAddress(ctx, tok, "underlying()(address)", block)
	if err != nil {
		return 0, false, err
	}
	var underlyingDecimals uint8 = 18
	underlyingPrice := 0.0
	if underlying == (common.Address{}) {
		// Gas-coin markets (cETH and friends) have no underlying accessor.
		var ok bool
		underlyingPrice, ok, err = p.TokenPrice(ctx, p.book.WrappedGasCoin, block)
		if err != nil || !ok {
			return 0, false, err
		}
	} else {
		underlyingDecimals, err = p.tokens.Decimals(ctx, underlying, block)
		if err != nil {
			return 0, false, err
		}
		var ok bool
		underlyingPrice, ok, err = p.TokenPrice(ctx, underlying, block)
		if err != nil || !ok {
			return 0, false, err
		}
	}

	exchangeRate := token.Readable(rate, 10+underlyingDecimals)
	return underlyingPrice * exchangeRate, true, nil
}

// priceIBToken prices an interest-bearing wrapper (alpha homora style) as the
// underlying price scaled by totalToken / totalSupply.
func (p *Pricer) priceIBToken(ctx context.Context, tok common.Address, block *big.Int) (float64, bool, error) {
	underlying, err := p.prober.CallAddress(ctx, tok, "token()(address)", block)
	if err != nil || underlying == (common.Address{}) {
		return 0, false, err
	}
	totalToken, err := p.prober.CallUint(ctx, tok, "totalToken()(uint256)", block)
	if err != nil || totalToken == nil {
		return 0, false, err
	}
	supply, err := p.tokens.TotalSupply(ctx, tok, block)
	if err != nil || supply == nil || supply.Sign() == 0 {
		return 0, false, err
	}

	underlyingPrice, ok, err := p.TokenPrice(ctx, underlying, block)
	if err != nil || !ok {
		return 0, false, err
	}
	ratio, _ := new(big.Float).Quo(new(big.Float).SetInt(totalToken), new(big.Float).SetInt(supply)).Float64()
	return underlyingPrice * ratio, true, nil
}

// priceWrappedATokenV2 prices a static aToken wrapper by asking the wrapper
// itself how much underlying one full share unwraps to.
func (p *Pricer) priceWrappedATokenV2(ctx context.Context, tok common.Address, block *big.Int) (float64, bool, error) {
	aToken, err := p.prober.CallAddress(ctx, tok, "ATOKEN()(address)", block)
	if err != nil || aToken == (common.Address{}) {
		return 0, false, err
	}
	decimals, err := p.tokens.Decimals(ctx, tok, block)
	if err != nil {
		return 0, false, err
	}
	dynamic, err := p.prober.CallUint(ctx, tok, "staticToDynamicAmount(uint256)(uint256)", block,
		probe.Word(scalePow10(decimals).Bytes()))
	if err != nil || dynamic == nil {
		return 0, false, err
	}

	aTokenPrice, ok, err := p.TokenPrice(ctx, aToken, block)
	if err != nil || !ok {
		return 0, false, err
	}
	return aTokenPrice * token.Readable(dynamic, decimals), true, nil
}

// priceWrappedATokenV3 prices an aave v3 static wrapper from its ray-scaled
// share rate.
func (p *Pricer) priceWrappedATokenV3(ctx context.Context, tok common.Address, block *big.Int) (float64, bool, error) {
	aToken, err := p.prober.CallAddress(ctx, tok, "aToken()(address)", block)
	if err != nil || aToken == (common.Address{}) {
		return 0, false, err
	}
	rate, err := p.prober.CallUint(ctx, tok, "rate()(uint256)", block)
	if err != nil || rate == nil {
		return 0, false, err
	}

	aTokenPrice, ok, err := p.TokenPrice(ctx, aToken, block)
	if err != nil || !ok {
		return 0, false, err
	}
	return aTokenPrice * token.Readable(rate, 27), true, nil
}

// priceGearboxDiesel prices a diesel token by converting one full share to
// the pool's underlying.
func (p *Pricer) priceGearboxDiesel(ctx context.Context, tok common.Address, block *big.Int) (float64, bool, error) {
	pool, ok, err := p.lending.DieselPool(ctx, tok)
	if err != nil || !ok {
		return 0, false, err
	}
	underlying, err := p.prober.CallAddress(ctx, pool, "underlyingToken()(address)", block)
	if err != nil || underlying == (common.Address{}) {
		return 0, false, err
	}
	decimals, err := p.tokens.Decimals(ctx, tok, block)
	if err != nil {
		return 0, false, err
	}
	amount, err := p.prober.CallUint(ctx, pool, "fromDiesel(uint256)(uint256)", block,
		probe.Word(scalePow10(decimals).Bytes()))
	if err != nil || amount == nil {
		return 0, false, err
	}

	underlyingDecimals, err := p.tokens.Decimals(ctx, underlying, block)
	if err != nil {
		return 0, false, err
	}
	underlyingPrice, priced, err := p.TokenPrice(ctx, underlying, block)
	if err != nil || !priced {
		return 0, false, err
	}
	return underlyingPrice * token.Readable(amount, underlyingDecimals), true, nil
}
