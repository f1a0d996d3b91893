// Package token fetches fungible-token facts (decimals, symbol, supply) with
// the layered fallbacks non-standard contracts require.
package token

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"pricescope/internal/probe"
)

// ErrNonStandardToken means the contract lacks any recognized decimals or
// supply accessor after every known selector was tried.
var ErrNonStandardToken = errors.New("non-standard token")

// decimalsSelectors is the fallback ladder for the decimals accessor, in the
// order the selectors are tried.
var decimalsSelectors = []string{
	"decimals()(uint8)",
	"DECIMALS()(uint8)",
	"getDecimals()(uint8)",
}

// Registry resolves and caches token metadata. Decimals never change for a
// deployed contract, so they are cached for process lifetime; supply is
// block-scoped and always fetched fresh.
type Registry struct {
	prober   *probe.Prober
	logger   *zap.Logger
	decimals *xsync.Map[common.Address, uint8]
}

// NewRegistry builds a token metadata registry.
func NewRegistry(prober *probe.Prober, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		prober:   prober,
		logger:   logger,
		decimals: xsync.NewMap[common.Address, uint8](),
	}
}

// Decimals resolves the token's decimals, walking the selector fallback
// ladder. Returns ErrNonStandardToken when every selector reverts or returns
// nothing usable; decimals are never defaulted.
func (r *Registry) Decimals(ctx context.Context, token common.Address, block *big.Int) (uint8, error) {
	if cached, ok := r.decimals.Load(token); ok {
		return cached, nil
	}

	for _, sig := range decimalsSelectors {
		value, err := r.prober.CallUint(ctx, token, sig, block)
		if err != nil {
			return 0, err
		}
		if value == nil {
			continue
		}
		if !value.IsUint64() || value.Uint64() > 255 {
			// A response came back but it is not a decimals value;
			// keep walking the ladder.
			r.logger.Debug("implausible decimals response",
				zap.String("token", token.Hex()),
				zap.String("sig", sig),
				zap.String("value", value.String()),
			)
			continue
		}
		decimals := uint8(value.Uint64())
		r.decimals.Store(token, decimals)
		return decimals, nil
	}

	return 0, fmt.Errorf("%w: no decimals accessor on %s", ErrNonStandardToken, token.Hex())
}

// DecimalsOrNone is the lenient variant: resolution failure yields (nil, nil)
// instead of ErrNonStandardToken. Transport failures still propagate.
func (r *Registry) DecimalsOrNone(ctx context.Context, token common.Address, block *big.Int) (*uint8, error) {
	decimals, err := r.Decimals(ctx, token, block)
	if err != nil {
		if errors.Is(err, ErrNonStandardToken) {
			return nil, nil
		}
		return nil, err
	}
	return &decimals, nil
}

// Scale returns 10^decimals for the token.
func (r *Registry) Scale(ctx context.Context, token common.Address, block *big.Int) (*big.Int, error) {
	decimals, err := r.Decimals(ctx, token, block)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil), nil
}

// TotalSupply reads the token's total supply at block.
func (r *Registry) TotalSupply(ctx context.Context, token common.Address, block *big.Int) (*big.Int, error) {
	supply, err := r.prober.CallUint(ctx, token, "totalSupply()(uint)", block)
	if err != nil {
		return nil, err
	}
	if supply == nil {
		return nil, fmt.Errorf("%w: no totalSupply accessor on %s", ErrNonStandardToken, token.Hex())
	}
	return supply, nil
}

// TotalSupplyReadable returns total supply scaled down by the token's
// decimals.
func (r *Registry) TotalSupplyReadable(ctx context.Context, token common.Address, block *big.Int) (float64, error) {
	supply, err := r.TotalSupply(ctx, token, block)
	if err != nil {
		return 0, err
	}
	decimals, err := r.Decimals(ctx, token, block)
	if err != nil {
		return 0, err
	}
	return Readable(supply, decimals), nil
}

// BalanceOf reads the token balance of owner at block.
func (r *Registry) BalanceOf(ctx context.Context, token, owner common.Address, block *big.Int) (*big.Int, error) {
	return r.prober.CallUint(ctx, token, "balanceOf(address)(uint)", block, owner.Bytes())
}

// Symbol best-effort resolves the token symbol, falling back from the string
// ABI shape to the legacy bytes32 shape. Returns "" when neither works.
func (r *Registry) Symbol(ctx context.Context, token common.Address, block *big.Int) string {
	out, err := r.prober.Call(ctx, token, "symbol()(string)", block)
	if err != nil || len(out) == 0 {
		return ""
	}
	if s, ok := decodeString(out); ok {
		return s
	}
	return decodeBytes32(out)
}

// Name best-effort resolves the token name with the same fallback as Symbol.
func (r *Registry) Name(ctx context.Context, token common.Address, block *big.Int) string {
	out, err := r.prober.Call(ctx, token, "name()(string)", block)
	if err != nil || len(out) == 0 {
		return ""
	}
	if s, ok := decodeString(out); ok {
		return s
	}
	return decodeBytes32(out)
}

// Readable converts a raw integer amount to a float scaled by decimals.
func Readable(value *big.Int, decimals uint8) float64 {
	if value == nil {
		return 0
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Quo(new(big.Float).SetInt(value), scale).Float64()
	return out
}

func decodeString(out []byte) (string, bool) {
	if len(out) < 64 {
		return "", false
	}
	offset := new(big.Int).SetBytes(out[:32])
	if !offset.IsInt64() {
		return "", false
	}
	start := offset.Int64()
	if start+32 > int64(len(out)) {
		return "", false
	}
	length := new(big.Int).SetBytes(out[start : start+32])
	if !length.IsInt64() || start+32+length.Int64() > int64(len(out)) {
		return "", false
	}
	return string(out[start+32 : start+32+length.Int64()]), true
}

func decodeBytes32(out []byte) string {
	if len(out) < 32 {
		return ""
	}
	return string(bytes.TrimRight(out[:32], "\x00"))
}
