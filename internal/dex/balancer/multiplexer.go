package balancer

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"pricescope/internal/chain"
	"pricescope/internal/dex"
	"pricescope/internal/netconf"
	"pricescope/internal/probe"
	"pricescope/internal/token"
)

// Multiplexer fronts every Balancer deployment on the chain.
type Multiplexer struct {
	v1     *V1
	vaults []*Vault
}

// NewMultiplexer builds the v1 surface and one Vault per configured v2
// deployment.
func NewMultiplexer(book *netconf.Book, caller chain.Caller, prober *probe.Prober, tokens *token.Registry, logger *zap.Logger) *Multiplexer {
	m := &Multiplexer{v1: NewV1(book, prober, tokens, logger)}
	for _, cfg := range book.BalancerV2Vaults {
		m.vaults = append(m.vaults, NewVault(cfg, book, caller, prober, tokens, logger))
	}
	return m
}

// IsPool reports whether token is a v1 or v2 pool share.
func (m *Multiplexer) IsPool(ctx context.Context, tok common.Address, block *big.Int) (bool, error) {
	ok, err := m.v1.IsPool(ctx, tok, block)
	if err != nil || ok {
		return ok, err
	}
	for _, vault := range m.vaults {
		ok, err := vault.IsPool(ctx, tok, block)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// PoolPrice values a pool-share token, v1 then v2.
func (m *Multiplexer) PoolPrice(ctx context.Context, pool common.Address, block *big.Int, oracle dex.Oracle) (float64, bool, error) {
	ok, err := m.v1.IsPool(ctx, pool, block)
	if err != nil {
		return 0, false, err
	}
	if ok {
		return m.v1.PoolPrice(ctx, pool, block, oracle)
	}
	for _, vault := range m.vaults {
		ok, err := vault.IsPool(ctx, pool, block)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return vault.PoolPrice(ctx, pool, block, oracle)
		}
	}
	return 0, false, nil
}

// TokenPrice prices a plain token against Balancer liquidity, preferring the
// v2 vaults.
func (m *Multiplexer) TokenPrice(ctx context.Context, tok common.Address, block *big.Int, oracle dex.Oracle) (float64, bool, error) {
	for _, vault := range m.vaults {
		price, ok, err := vault.TokenPrice(ctx, tok, block, oracle)
		if err != nil {
			return 0, false, err
		}
		if ok && price > 0 {
			return price, true, nil
		}
	}
	return m.v1.TokenPrice(ctx, tok, block, oracle)
}
