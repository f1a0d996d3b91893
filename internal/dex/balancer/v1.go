// Package balancer prices weighted-pool shares and tokens across Balancer v1
// and v2 deployments.
package balancer

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"pricescope/internal/dex"
	"pricescope/internal/netconf"
	"pricescope/internal/probe"
	"pricescope/internal/token"
)

// tradeScales are tried largest first: a full-size test trade can revert on a
// shallow pool where a smaller one still quotes.
var tradeScales = []float64{1, 0.5, 0.1}

// V1 answers queries against the v1 exchange proxy.
type V1 struct {
	book   *netconf.Book
	prober *probe.Prober
	tokens *token.Registry
	logger *zap.Logger
}

// NewV1 builds the v1 surface; inert when the chain has no exchange proxy.
func NewV1(book *netconf.Book, prober *probe.Prober, tokens *token.Registry, logger *zap.Logger) *V1 {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &V1{book: book, prober: prober, tokens: tokens, logger: logger}
}

// IsPool reports whether token exposes the v1 pool surface.
func (v *V1) IsPool(ctx context.Context, tok common.Address, block *big.Int) (bool, error) {
	return v.prober.HasMethods(ctx, tok, []string{
		"getCurrentTokens()(address[])",
		"getTotalDenormalizedWeight()(uint)",
		"totalSupply()(uint)",
	}, block)
}

// PoolPrice values a v1 pool share as TVL over LP supply. Constituents whose
// price cannot be determined are extrapolated by scaling the known-value sum
// by total/known token count; this is a known-imprecise fallback carried over
// from the original behavior, not an exact TVL.
func (v *V1) PoolPrice(ctx context.Context, pool common.Address, block *big.Int, oracle dex.Oracle) (float64, bool, error) {
	tokens, err := v.prober.CallAddressSlice(ctx, pool, "getCurrentTokens()(address[])", block)
	if err != nil || len(tokens) == 0 {
		return 0, false, err
	}

	knownValue := 0.0
	known := 0
	for _, tok := range tokens {
		balance, err := v.prober.CallUint(ctx, pool, "getBalance(address)(uint)", block, tok.Bytes())
		if err != nil {
			return 0, false, err
		}
		if balance == nil {
			continue
		}
		decimals, err := v.tokens.Decimals(ctx, tok, block)
		if err != nil {
			if errors.Is(err, token.ErrNonStandardToken) {
				continue
			}
			return 0, false, err
		}
		price, ok, err := oracle.TokenPrice(ctx, tok, block)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			continue
		}
		knownValue += token.Readable(balance, decimals) * price
		known++
	}
	if known == 0 {
		return 0, false, nil
	}

	tvl := knownValue * float64(len(tokens)) / float64(known)

	supply, err := v.tokens.TotalSupplyReadable(ctx, pool, block)
	if err != nil {
		if errors.Is(err, token.ErrNonStandardToken) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if supply == 0 {
		return 0, false, nil
	}
	return tvl / supply, true, nil
}

// TokenPrice prices a non-pool token by quoting a sell through the exchange
// proxy, walking a fixed counter-asset preference order and shrinking the
// trade when a full-size quote fails.
func (v *V1) TokenPrice(ctx context.Context, tok common.Address, block *big.Int, oracle dex.Oracle) (float64, bool, error) {
	if v.book.BalancerV1ExchangeProxy == (common.Address{}) {
		return 0, false, nil
	}

	scale, err := v.tokens.Scale(ctx, tok, block)
	if err != nil {
		if errors.Is(err, token.ErrNonStandardToken) {
			return 0, false, nil
		}
		return 0, false, err
	}

	counters := []common.Address{v.book.WETH, v.book.DAI, v.book.USDC, v.book.WBTC}
	for _, tradeScale := range tradeScales {
		amountIn := scaleAmount(scale, tradeScale)
		for _, counter := range counters {
			if counter == (common.Address{}) || counter == tok {
				continue
			}
			output, err := v.viewSplitExactIn(ctx, tok, counter, amountIn, block)
			if err != nil {
				return 0, false, err
			}
			if output == nil || output.Sign() == 0 {
				continue
			}

			counterDecimals, err := v.tokens.Decimals(ctx, counter, block)
			if err != nil {
				if errors.Is(err, token.ErrNonStandardToken) {
					continue
				}
				return 0, false, err
			}
			counterPrice, ok, err := oracle.TokenPrice(ctx, counter, block)
			if err != nil {
				return 0, false, err
			}
			if !ok {
				continue
			}
			return token.Readable(output, counterDecimals) * counterPrice / tradeScale, true, nil
		}
	}
	return 0, false, nil
}

// viewSplitExactIn returns the quoted totalOutput, nil on revert.
func (v *V1) viewSplitExactIn(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, block *big.Int) (*big.Int, error) {
	out, err := v.prober.Call(ctx, v.book.BalancerV1ExchangeProxy,
		"viewSplitExactIn(address,address,uint,uint)((address,uint,uint,uint)[],uint)", block,
		tokenIn.Bytes(), tokenOut.Bytes(), amountIn.Bytes(), big.NewInt(32).Bytes())
	if err != nil || len(out) < 64 {
		return nil, err
	}
	// return layout: word0 = offset of swaps array, word1 = totalOutput
	return new(big.Int).SetBytes(out[32:64]), nil
}

func scaleAmount(scale *big.Int, factor float64) *big.Int {
	if factor == 1 {
		return scale
	}
	scaled, _ := new(big.Float).Mul(new(big.Float).SetInt(scale), big.NewFloat(factor)).Int(nil)
	return scaled
}
