// Package lending tracks compound-style markets and gearbox diesel tokens.
// Both registries load once per process from on-chain lists so the bucket
// predicates that depend on them stay cheap.
package lending

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"pricescope/internal/chain"
	"pricescope/internal/netconf"
	"pricescope/internal/probe"
)

// Registry indexes comptroller market lists and gearbox pools.
type Registry struct {
	book   *netconf.Book
	caller chain.Caller
	prober *probe.Prober
	logger *zap.Logger

	buildGroup singleflight.Group
	mu         sync.RWMutex
	built      bool
	markets    map[common.Address]common.Address // market -> comptroller
	diesels    map[common.Address]common.Address // diesel token -> pool
	convex     map[common.Address]common.Address // deposit token -> curve LP
}

// NewRegistry builds an (unloaded) lending registry.
func NewRegistry(book *netconf.Book, caller chain.Caller, prober *probe.Prober, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		book:    book,
		caller:  caller,
		prober:  prober,
		logger:  logger,
		markets: make(map[common.Address]common.Address),
		diesels: make(map[common.Address]common.Address),
		convex:  make(map[common.Address]common.Address),
	}
}

func (r *Registry) ensureLoaded(ctx context.Context) error {
	r.mu.RLock()
	built := r.built
	r.mu.RUnlock()
	if built {
		return nil
	}

	_, err, _ := r.buildGroup.Do("load", func() (any, error) {
		r.mu.RLock()
		built := r.built
		r.mu.RUnlock()
		if built {
			return nil, nil
		}

		markets := make(map[common.Address]common.Address)
		for _, troller := range r.book.Comptrollers {
			list, err := r.prober.CallAddressSlice(ctx, troller, "getAllMarkets()(address[])", nil)
			if err != nil {
				return nil, fmt.Errorf("load comptroller %s: %w", troller.Hex(), err)
			}
			for _, market := range list {
				markets[market] = troller
			}
		}

		diesels, err := r.loadDiesels(ctx)
		if err != nil {
			return nil, err
		}
		convex, err := r.loadConvexPools(ctx)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.markets = markets
		r.diesels = diesels
		r.convex = convex
		r.built = true
		r.mu.Unlock()

		r.logger.Info("lending registry loaded",
			zap.Int("markets", len(markets)),
			zap.Int("diesel_tokens", len(diesels)),
			zap.Int("convex_tokens", len(convex)),
		)
		return nil, nil
	})
	return err
}

func (r *Registry) loadDiesels(ctx context.Context) (map[common.Address]common.Address, error) {
	out := make(map[common.Address]common.Address)
	if r.book.GearboxRegister == (common.Address{}) {
		return out, nil
	}

	pools, err := r.prober.CallAddressSlice(ctx, r.book.GearboxRegister, "getPools()(address[])", nil)
	if err != nil {
		return nil, fmt.Errorf("load gearbox pools: %w", err)
	}
	if len(pools) == 0 {
		return out, nil
	}

	selector, err := probe.Selector("dieselToken()(address)")
	if err != nil {
		return nil, err
	}
	msgs := make([]ethereum.CallMsg, len(pools))
	for i := range pools {
		pool := pools[i]
		msgs[i] = ethereum.CallMsg{To: &pool, Data: selector}
	}
	batch, err := r.caller.BatchCallContract(ctx, msgs, nil)
	if err != nil {
		return nil, err
	}
	for i, res := range batch {
		if res.Err != nil || len(res.Output) < 32 {
			continue
		}
		out[common.BytesToAddress(res.Output[12:32])] = pools[i]
	}
	return out, nil
}

// loadConvexPools walks the booster's pool list. poolInfo returns the curve
// LP first and the deposit token second; the rest of the tuple is ignored.
func (r *Registry) loadConvexPools(ctx context.Context) (map[common.Address]common.Address, error) {
	out := make(map[common.Address]common.Address)
	if r.book.ConvexBooster == (common.Address{}) {
		return out, nil
	}

	length, err := r.prober.CallUint(ctx, r.book.ConvexBooster, "poolLength()(uint256)", nil)
	if err != nil {
		return nil, fmt.Errorf("load convex pool count: %w", err)
	}
	if length == nil || length.Sign() == 0 {
		return out, nil
	}

	selector, err := probe.Selector("poolInfo(uint256)((address,address,address,address,address,bool))")
	if err != nil {
		return nil, err
	}
	n := length.Uint64()
	msgs := make([]ethereum.CallMsg, 0, n)
	booster := r.book.ConvexBooster
	for i := uint64(0); i < n; i++ {
		data := probe.PackArgs(selector, probe.Word(new(big.Int).SetUint64(i).Bytes()))
		msgs = append(msgs, ethereum.CallMsg{To: &booster, Data: data})
	}
	batch, err := r.caller.BatchCallContract(ctx, msgs, nil)
	if err != nil {
		return nil, err
	}
	for _, res := range batch {
		if res.Err != nil || len(res.Output) < 64 {
			continue
		}
		lpToken := common.BytesToAddress(res.Output[12:32])
		deposit := common.BytesToAddress(res.Output[44:64])
		if deposit != (common.Address{}) {
			out[deposit] = lpToken
		}
	}
	return out, nil
}

// IsMarket reports whether token is a market of any known comptroller.
func (r *Registry) IsMarket(ctx context.Context, token common.Address) (bool, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return false, err
	}
	r.mu.RLock()
	_, ok := r.markets[token]
	r.mu.RUnlock()
	return ok, nil
}

// DieselPool resolves the gearbox pool behind a diesel token.
func (r *Registry) DieselPool(ctx context.Context, token common.Address) (common.Address, bool, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return common.Address{}, false, err
	}
	r.mu.RLock()
	pool, ok := r.diesels[token]
	r.mu.RUnlock()
	return pool, ok, nil
}

// ConvexCurveLP resolves the curve LP a convex deposit token wraps.
func (r *Registry) ConvexCurveLP(ctx context.Context, token common.Address) (common.Address, bool, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return common.Address{}, false, err
	}
	r.mu.RLock()
	lp, ok := r.convex[token]
	r.mu.RUnlock()
	return lp, ok, nil
}
