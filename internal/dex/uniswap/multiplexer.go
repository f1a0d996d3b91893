package uniswap

import (
	"context"
	"errors"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"pricescope/internal/chain"
	"pricescope/internal/dex"
	"pricescope/internal/model"
	"pricescope/internal/netconf"
	"pricescope/internal/probe"
	"pricescope/internal/token"
)

// Multiplexer aggregates every known fork behind one query interface.
type Multiplexer struct {
	book    *netconf.Book
	prober  *probe.Prober
	tokens  *token.Registry
	routers []*Router
	logger  *zap.Logger

	factories map[common.Address]bool
}

// NewMultiplexer builds routers for every fork in the book.
func NewMultiplexer(book *netconf.Book, caller chain.Caller, prober *probe.Prober, tokens *token.Registry, logger *zap.Logger) *Multiplexer {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Multiplexer{
		book:      book,
		prober:    prober,
		tokens:    tokens,
		logger:    logger,
		factories: make(map[common.Address]bool, len(book.UniswapForks)),
	}
	for _, fork := range book.UniswapForks {
		m.routers = append(m.routers, NewRouter(fork, book, caller, prober, tokens, logger))
		m.factories[fork.Factory] = true
	}
	return m
}

// SeedPools distributes snapshot pools to the fork they belong to.
func (m *Multiplexer) SeedPools(pools []model.Pool) {
	byFork := make(map[string][]model.Pool)
	for _, p := range pools {
		byFork[p.Fork] = append(byFork[p.Fork], p)
	}
	for _, r := range m.routers {
		if seed, ok := byFork[r.fork.Name]; ok {
			r.SeedPools(seed)
		}
	}
}

// Pools returns every discovered pool across all forks, building each fork's
// index first if needed.
func (m *Multiplexer) Pools(ctx context.Context) ([]model.Pool, error) {
	var out []model.Pool
	for _, r := range m.routers {
		pools, err := r.Pools(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, pools...)
	}
	return out, nil
}

// IsPool reports whether token is an LP token of a known fork: it must expose
// the pair surface and its factory must be one of ours.
func (m *Multiplexer) IsPool(ctx context.Context, tok common.Address, block *big.Int) (bool, error) {
	ok, err := m.prober.HasMethods(ctx, tok, []string{
		"token0()(address)",
		"token1()(address)",
		"getReserves()((uint112,uint112,uint32))",
		"factory()(address)",
	}, block)
	if err != nil || !ok {
		return false, err
	}

	factory, err := m.prober.CallAddress(ctx, tok, "factory()(address)", block)
	if err != nil {
		return false, err
	}
	if m.factories[factory] {
		return true, nil
	}
	// An unknown factory still walks and quacks like a v2 pair; price it
	// like one rather than refusing.
	m.logger.Debug("v2-style pair from unknown factory", zap.String("pool", tok.Hex()), zap.String("factory", factory.Hex()))
	return factory != (common.Address{}), nil
}

// routersByDepth orders routers by their deepest reserve for the token, so
// the most liquid fork answers first.
func (m *Multiplexer) routersByDepth(ctx context.Context, tok common.Address, block *big.Int) ([]*Router, error) {
	type depth struct {
		router  *Router
		reserve *big.Int
	}

	depths := make([]depth, 0, len(m.routers))
	for _, r := range m.routers {
		_, _, reserve, ok, err := r.DeepestPool(ctx, tok, block, nil)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		depths = append(depths, depth{router: r, reserve: reserve})
	}

	sort.Slice(depths, func(i, j int) bool {
		return depths[i].reserve.Cmp(depths[j].reserve) > 0
	})

	out := make([]*Router, len(depths))
	for i, d := range depths {
		out[i] = d.router
	}
	return out, nil
}

// Price tries each fork from most to least liquid and returns the first
// usable answer.
func (m *Multiplexer) Price(ctx context.Context, tok common.Address, block *big.Int, oracle dex.Oracle) (float64, bool, error) {
	routers, err := m.routersByDepth(ctx, tok, block)
	if err != nil {
		return 0, false, err
	}
	for _, r := range routers {
		price, ok, err := r.Price(ctx, tok, block, oracle)
		if err != nil {
			return 0, false, err
		}
		if ok && price > 0 {
			return price, true, nil
		}
	}
	return 0, false, nil
}

// LPTokenPrice values a pool-share token as pool TVL over LP supply. When
// exactly one constituent price resolves, the missing side is assumed equal
// in value, a fair approximation for a balanced constant-product pool.
func (m *Multiplexer) LPTokenPrice(ctx context.Context, lp common.Address, block *big.Int, oracle dex.Oracle) (float64, bool, error) {
	token0, err := m.prober.CallAddress(ctx, lp, "token0()(address)", block)
	if err != nil {
		return 0, false, err
	}
	token1, err := m.prober.CallAddress(ctx, lp, "token1()(address)", block)
	if err != nil {
		return 0, false, err
	}
	if token0 == (common.Address{}) || token1 == (common.Address{}) {
		return 0, false, nil
	}

	out, err := m.prober.Call(ctx, lp, "getReserves()((uint112,uint112,uint32))", block)
	if err != nil || len(out) < 64 {
		return 0, false, err
	}
	reserve0 := new(big.Int).SetBytes(out[:32])
	reserve1 := new(big.Int).SetBytes(out[32:64])

	decimals0, err := m.tokens.Decimals(ctx, token0, block)
	if err != nil {
		return 0, false, maskNonStandard(err)
	}
	decimals1, err := m.tokens.Decimals(ctx, token1, block)
	if err != nil {
		return 0, false, maskNonStandard(err)
	}

	price0, ok0, err := oracle.TokenPrice(ctx, token0, block)
	if err != nil {
		return 0, false, err
	}
	price1, ok1, err := oracle.TokenPrice(ctx, token1, block)
	if err != nil {
		return 0, false, err
	}
	if !ok0 && !ok1 {
		return 0, false, nil
	}

	value0 := token.Readable(reserve0, decimals0) * price0
	value1 := token.Readable(reserve1, decimals1) * price1
	tvl := value0 + value1
	if !ok0 {
		tvl = 2 * value1
	} else if !ok1 {
		tvl = 2 * value0
	}

	supply, err := m.tokens.TotalSupplyReadable(ctx, lp, block)
	if err != nil {
		return 0, false, maskNonStandard(err)
	}
	if supply == 0 {
		return 0, false, nil
	}
	return tvl / supply, true, nil
}

func maskNonStandard(err error) error {
	if errors.Is(err, token.ErrNonStandardToken) {
		return nil
	}
	return err
}
