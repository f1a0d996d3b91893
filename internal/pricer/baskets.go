package pricer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"pricescope/internal/probe"
	"pricescope/internal/token"
)

// priceTokenSet prices a set token as the sum of its component units. The
// set contract reports units per one whole set token.
func (p *Pricer) priceTokenSet(ctx context.Context, set common.Address, block *big.Int) (float64, bool, error) {
	components, err := p.prober.CallAddressSlice(ctx, set, "getComponents()(address[])", block)
	if err != nil || len(components) == 0 {
		return 0, false, err
	}

	total := 0.0
	for _, component := range components {
		units, err := p.prober.CallUint(ctx, set, "getTotalComponentRealUnits(address)(int256)", block,
			probe.Word(component.Bytes()))
		if err != nil {
			return 0, false, err
		}
		if units == nil || units.Sign() <= 0 {
			continue
		}
		decimals, err := p.tokens.Decimals(ctx, component, block)
		if err != nil {
			return 0, false, err
		}
		price, ok, err := p.TokenPrice(ctx, component, block)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			return 0, false, nil
		}
		total += price * token.Readable(units, decimals)
	}
	if total == 0 {
		return 0, false, nil
	}
	return total, true, nil
}

// pricePieDAO prices a pie by asking the pool what one whole pie redeems to.
func (p *Pricer) pricePieDAO(ctx context.Context, pie common.Address, block *big.Int) (float64, bool, error) {
	decimals, err := p.tokens.Decimals(ctx, pie, block)
	if err != nil {
		return 0, false, err
	}
	out, err := p.prober.Call(ctx, pie, "calcTokensForAmount(uint256)(address[],uint256[])", block,
		probe.Word(scalePow10(decimals).Bytes()))
	if err != nil || out == nil {
		return 0, false, err
	}
	assets, amounts, err := decodeAddressAmountArrays(out)
	if err != nil {
		return 0, false, err
	}
	return p.sumAssetValues(ctx, assets, amounts, block)
}

// priceBasketDAO prices a basket as basket NAV over supply.
func (p *Pricer) priceBasketDAO(ctx context.Context, basket common.Address, block *big.Int) (float64, bool, error) {
	out, err := p.prober.Call(ctx, basket, "getAssetsAndBalances()(address[],uint256[])", block)
	if err != nil || out == nil {
		return 0, false, err
	}
	assets, balances, err := decodeAddressAmountArrays(out)
	if err != nil {
		return 0, false, err
	}
	nav, ok, err := p.sumAssetValues(ctx, assets, balances, block)
	if err != nil || !ok {
		return 0, false, err
	}
	supply, err := p.tokens.TotalSupplyReadable(ctx, basket, block)
	if err != nil {
		return 0, false, err
	}
	if supply == 0 {
		return 0, false, nil
	}
	return nav / supply, true, nil
}

// priceGelatoPool prices a G-UNI style pool from its managed balances.
func (p *Pricer) priceGelatoPool(ctx context.Context, pool common.Address, block *big.Int) (float64, bool, error) {
	token0, err := p.prober.CallAddress(ctx, pool, "token0()(address)", block)
	if err != nil {
		return 0, false, err
	}
	token1, err := p.prober.CallAddress(ctx, pool, "token1()(address)", block)
	if err != nil {
		return 0, false, err
	}
	balance0, err := p.prober.CallUint(ctx, pool, "gelatoBalance0()(uint256)", block)
	if err != nil {
		return 0, false, err
	}
	balance1, err := p.prober.CallUint(ctx, pool, "gelatoBalance1()(uint256)", block)
	if err != nil {
		return 0, false, err
	}
	return p.pairShareValue(ctx, pool, token0, token1, balance0, balance1, block)
}

// pricePopsicleLP prices a popsicle optimizer share from the position's
// user-owned amounts.
func (p *Pricer) pricePopsicleLP(ctx context.Context, pool common.Address, block *big.Int) (float64, bool, error) {
	token0, err := p.prober.CallAddress(ctx, pool, "token0()(address)", block)
	if err != nil {
		return 0, false, err
	}
	token1, err := p.prober.CallAddress(ctx, pool, "token1()(address)", block)
	if err != nil {
		return 0, false, err
	}
	out, err := p.prober.Call(ctx, pool, "usersAmounts()(uint256,uint256)", block)
	if err != nil || len(out) < 64 {
		return 0, false, err
	}
	amount0 := new(big.Int).SetBytes(out[:32])
	amount1 := new(big.Int).SetBytes(out[32:64])
	return p.pairShareValue(ctx, pool, token0, token1, amount0, amount1, block)
}

// priceMooniswapLP prices a mooniswap LP from its two token balances. Pools
// holding raw gas coin are skipped; their balance is not visible to eth_call.
func (p *Pricer) priceMooniswapLP(ctx context.Context, pool common.Address, block *big.Int) (float64, bool, error) {
	tokens, err := p.prober.CallAddressSlice(ctx, pool, "getTokens()(address[])", block)
	if err != nil || len(tokens) != 2 {
		return 0, false, err
	}
	if tokens[0] == (common.Address{}) || tokens[1] == (common.Address{}) {
		return 0, false, nil
	}
	balance0, err := p.tokens.BalanceOf(ctx, tokens[0], pool, block)
	if err != nil {
		return 0, false, err
	}
	balance1, err := p.tokens.BalanceOf(ctx, tokens[1], pool, block)
	if err != nil {
		return 0, false, err
	}
	return p.pairShareValue(ctx, pool, tokens[0], tokens[1], balance0, balance1, block)
}

// pendleTwapDuration is the observation window, in seconds, passed to the
// pendle oracle's rate queries.
const pendleTwapDuration = 1

// pricePendleLP prices a pendle market through the protocol oracle's
// LP-to-asset rate, denominated in the SY token's accounting asset.
func (p *Pricer) pricePendleLP(ctx context.Context, market common.Address, block *big.Int) (float64, bool, error) {
	out, err := p.prober.Call(ctx, market, "readTokens()(address,address,address)", block)
	if err != nil || len(out) < 96 {
		return 0, false, err
	}
	sy := common.BytesToAddress(out[12:32])

	info, err := p.prober.Call(ctx, sy, "assetInfo()(uint8,address,uint8)", block)
	if err != nil || len(info) < 96 {
		return 0, false, err
	}
	asset := common.BytesToAddress(info[44:64])
	assetDecimals := new(big.Int).SetBytes(info[64:96])
	if asset == (common.Address{}) || !assetDecimals.IsUint64() || assetDecimals.Uint64() > 255 {
		return 0, false, nil
	}

	rate, err := p.prober.CallUint(ctx, p.book.PendleOracle, "getLpToAssetRate(address,uint32)(uint256)", block,
		probe.Word(market.Bytes()), probe.Word(big.NewInt(pendleTwapDuration).Bytes()))
	if err != nil || rate == nil {
		return 0, false, err
	}

	assetPrice, ok, err := p.TokenPrice(ctx, asset, block)
	if err != nil || !ok {
		return 0, false, err
	}
	return assetPrice * token.Readable(rate, uint8(assetDecimals.Uint64())), true, nil
}

// priceReserveRToken prices an rToken at its basket handler's unit quote,
// taking the midpoint of the handler's low/high band.
func (p *Pricer) priceReserveRToken(ctx context.Context, tok common.Address, block *big.Int) (float64, bool, error) {
	main, err := p.prober.CallAddress(ctx, tok, "main()(address)", block)
	if err != nil || main == (common.Address{}) {
		return 0, false, err
	}
	handler, err := p.prober.CallAddress(ctx, main, "basketHandler()(address)", block)
	if err != nil || handler == (common.Address{}) {
		return 0, false, err
	}
	out, err := p.prober.Call(ctx, handler, "price()((uint192,uint192))", block)
	if err != nil || len(out) < 64 {
		return 0, false, err
	}
	low := new(big.Int).SetBytes(out[:32])
	high := new(big.Int).SetBytes(out[32:64])
	mid := new(big.Int).Rsh(new(big.Int).Add(low, high), 1)
	if mid.Sign() == 0 {
		return 0, false, nil
	}
	return token.Readable(mid, 18), true, nil
}

// pairShareValue divides the USD value of a two-sided position by the share
// token's supply.
func (p *Pricer) pairShareValue(ctx context.Context, share, token0, token1 common.Address, amount0, amount1 *big.Int, block *big.Int) (float64, bool, error) {
	value, ok, err := p.sumAssetValues(ctx,
		[]common.Address{token0, token1},
		[]*big.Int{amount0, amount1}, block)
	if err != nil || !ok {
		return 0, false, err
	}
	supply, err := p.tokens.TotalSupplyReadable(ctx, share, block)
	if err != nil {
		return 0, false, err
	}
	if supply == 0 {
		return 0, false, nil
	}
	return value / supply, true, nil
}

// sumAssetValues totals price * readable(amount) over parallel slices. A
// single unpriceable asset invalidates the total.
func (p *Pricer) sumAssetValues(ctx context.Context, assets []common.Address, amounts []*big.Int, block *big.Int) (float64, bool, error) {
	if len(assets) != len(amounts) {
		return 0, false, fmt.Errorf("mismatched asset and amount counts: %d vs %d", len(assets), len(amounts))
	}
	total := 0.0
	for i, asset := range assets {
		if amounts[i] == nil || amounts[i].Sign() == 0 {
			continue
		}
		decimals, err := p.tokens.Decimals(ctx, asset, block)
		if err != nil {
			return 0, false, err
		}
		price, ok, err := p.TokenPrice(ctx, asset, block)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			return 0, false, nil
		}
		total += price * token.Readable(amounts[i], decimals)
	}
	if total == 0 {
		return 0, false, nil
	}
	return total, true, nil
}

// decodeAddressAmountArrays unpacks an ABI (address[], uint256[]) return.
func decodeAddressAmountArrays(out []byte) ([]common.Address, []*big.Int, error) {
	if len(out) < 64 {
		return nil, nil, fmt.Errorf("short array pair return: %d bytes", len(out))
	}
	addrOff := new(big.Int).SetBytes(out[:32]).Uint64()
	amtOff := new(big.Int).SetBytes(out[32:64]).Uint64()
	if addrOff+32 > uint64(len(out)) || amtOff+32 > uint64(len(out)) {
		return nil, nil, fmt.Errorf("array pair offsets out of range")
	}

	addrLen := new(big.Int).SetBytes(out[addrOff : addrOff+32]).Uint64()
	amtLen := new(big.Int).SetBytes(out[amtOff : amtOff+32]).Uint64()
	if addrLen != amtLen {
		return nil, nil, fmt.Errorf("mismatched array lengths: %d vs %d", addrLen, amtLen)
	}
	if addrOff+32+addrLen*32 > uint64(len(out)) || amtOff+32+amtLen*32 > uint64(len(out)) {
		return nil, nil, fmt.Errorf("array pair data out of range")
	}

	addrs := make([]common.Address, addrLen)
	amounts := make([]*big.Int, amtLen)
	for i := uint64(0); i < addrLen; i++ {
		addrs[i] = common.BytesToAddress(out[addrOff+32+i*32+12 : addrOff+32+(i+1)*32])
		amounts[i] = new(big.Int).SetBytes(out[amtOff+32+i*32 : amtOff+32+(i+1)*32])
	}
	return addrs, amounts, nil
}
