// Package dex declares the callback surface liquidity routers use to price
// counter-assets. Routers composing a price for token A frequently need the
// price of its paired token B; the orchestrator passes itself in as Oracle so
// the recursion flows through one entry point with one cycle guard.
package dex

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Oracle resolves a token's USD price. ok=false means "no answer" and is not
// an error; err is reserved for transport failures.
type Oracle interface {
	TokenPrice(ctx context.Context, token common.Address, block *big.Int) (price float64, ok bool, err error)
}
