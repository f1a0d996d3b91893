package curve

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"pricescope/internal/dex"
	"pricescope/internal/token"
)

// HasLP reports whether token is a known pool's LP token. The check reads
// only the in-memory index once it is built.
func (r *Registry) HasLP(ctx context.Context, tok common.Address) (bool, error) {
	if err := r.ensureIndex(ctx); err != nil {
		return false, err
	}
	r.mu.RLock()
	_, ok := r.byLP[tok]
	r.mu.RUnlock()
	return ok, nil
}

// PoolForLP resolves the swap pool behind an LP token.
func (r *Registry) PoolForLP(ctx context.Context, lp common.Address) (common.Address, bool, error) {
	if err := r.ensureIndex(ctx); err != nil {
		return common.Address{}, false, err
	}
	r.mu.RLock()
	entry, ok := r.byLP[lp]
	r.mu.RUnlock()
	if !ok {
		return common.Address{}, false, nil
	}
	return entry.pool, true, nil
}

// LPPrice values an LP token as pool TVL over LP supply.
func (r *Registry) LPPrice(ctx context.Context, lp common.Address, block *big.Int, oracle dex.Oracle) (float64, bool, error) {
	if err := r.ensureIndex(ctx); err != nil {
		return 0, false, err
	}
	r.mu.RLock()
	entry, ok := r.byLP[lp]
	r.mu.RUnlock()
	if !ok {
		return 0, false, nil
	}

	tvl := 0.0
	priced := false
	for _, coin := range entry.coins {
		balance, err := r.tokens.BalanceOf(ctx, coin, entry.pool, block)
		if err != nil {
			return 0, false, err
		}
		if balance == nil || balance.Sign() == 0 {
			continue
		}
		decimals, err := r.tokens.Decimals(ctx, coin, block)
		if err != nil {
			if errors.Is(err, token.ErrNonStandardToken) {
				continue
			}
			return 0, false, err
		}
		price, ok, err := oracle.TokenPrice(ctx, coin, block)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			continue
		}
		tvl += token.Readable(balance, decimals) * price
		priced = true
	}
	if !priced {
		return 0, false, nil
	}

	supply, err := r.tokens.TotalSupplyReadable(ctx, lp, block)
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

// VirtualPrice reads the pool's virtual price for an LP token, scaled from
// its fixed 18 decimals. ok=false when the pool reverts.
func (r *Registry) VirtualPrice(ctx context.Context, lp common.Address, block *big.Int) (float64, bool, error) {
	pool, ok, err := r.PoolForLP(ctx, lp)
	if err != nil || !ok {
		return 0, false, err
	}
	raw, err := r.prober.CallUint(ctx, pool, "get_virtual_price()(uint)", block)
	if err != nil || raw == nil {
		return 0, false, err
	}
	return token.Readable(raw, 18), true, nil
}

// PriceForUnderlying prices a pool constituent (not the LP share) by quoting
// a swap against the pool's other coin. Only simple two-coin pools held by
// exactly one pool are supported; anything more complex answers "no result"
// rather than risking a wrong one.
func (r *Registry) PriceForUnderlying(ctx context.Context, tok common.Address, block *big.Int, oracle dex.Oracle) (float64, bool, error) {
	if err := r.ensureIndex(ctx); err != nil {
		return 0, false, err
	}
	r.mu.RLock()
	entries := r.byCoin[tok]
	r.mu.RUnlock()

	if len(entries) != 1 {
		return 0, false, nil
	}
	entry := entries[0]
	if len(entry.coins) != 2 {
		return 0, false, nil
	}

	inIdx := int64(0)
	if entry.coins[1] == tok {
		inIdx = 1
	}
	outIdx := 1 - inIdx
	outCoin := entry.coins[outIdx]

	dx, err := r.tokens.Scale(ctx, tok, block)
	if err != nil {
		if errors.Is(err, token.ErrNonStandardToken) {
			return 0, false, nil
		}
		return 0, false, err
	}

	dy, err := r.prober.CallUint(ctx, entry.pool, "get_dy(int128,int128,uint256)(uint256)", block,
		big.NewInt(inIdx).Bytes(), big.NewInt(outIdx).Bytes(), dx.Bytes())
	if err != nil || dy == nil {
		return 0, false, err
	}

	outDecimals, err := r.tokens.Decimals(ctx, outCoin, block)
	if err != nil {
		if errors.Is(err, token.ErrNonStandardToken) {
			return 0, false, nil
		}
		return 0, false, err
	}
	outPrice, ok, err := oracle.TokenPrice(ctx, outCoin, block)
	if err != nil || !ok {
		return 0, false, err
	}
	return token.Readable(dy, outDecimals) * outPrice, true, nil
}
