// Package uniswap multiplexes every known constant-product fork on a chain
// behind one deepest-liquidity query interface.
package uniswap

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"pricescope/internal/chain"
	"pricescope/internal/dex"
	"pricescope/internal/model"
	"pricescope/internal/netconf"
	"pricescope/internal/probe"
	"pricescope/internal/token"
)

// ErrNoSwapPath means no route from the token to a priceable anchor exists
// within the hop bound. The orchestrator treats it as "this router has no
// answer", not as a failure.
var ErrNoSwapPath = errors.New("no swap path found")

// maxHops bounds the path walk through paired tokens.
const maxHops = 10

// perHopFee compensates the 0.3% fee a quote pays on each hop.
const perHopFee = 0.997

// logBatchSize is the block-range chunk used for pair-creation replay.
const logBatchSize = 100_000

type pair struct {
	token0    common.Address
	token1    common.Address
	firstSeen uint64
}

// Router indexes one fork's pools and answers liquidity queries against them.
type Router struct {
	fork   netconf.Fork
	book   *netconf.Book
	caller chain.Caller
	prober *probe.Prober
	tokens *token.Registry
	logger *zap.Logger

	buildGroup singleflight.Group
	mu         sync.RWMutex
	built      bool
	pools      map[common.Address]pair
	// byToken maps token -> pool -> paired token, the reverse index behind
	// every deepest-pool search.
	byToken map[common.Address]map[common.Address]common.Address
}

// NewRouter builds an (unindexed) router for one fork.
func NewRouter(fork netconf.Fork, book *netconf.Book, caller chain.Caller, prober *probe.Prober, tokens *token.Registry, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		fork:    fork,
		book:    book,
		caller:  caller,
		prober:  prober,
		tokens:  tokens,
		logger:  logger.With(zap.String("fork", fork.Name)),
		pools:   make(map[common.Address]pair),
		byToken: make(map[common.Address]map[common.Address]common.Address),
	}
}

// Fork returns the fork this router serves.
func (r *Router) Fork() netconf.Fork { return r.fork }

// SeedPools preloads discovered pools (from a snapshot store) so the first
// query does not need a full log replay.
func (r *Router) SeedPools(pools []model.Pool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range pools {
		r.addPoolLocked(common.HexToAddress(p.Address), common.HexToAddress(p.Token0), common.HexToAddress(p.Token1), p.FirstSeenBlock)
	}
	r.built = true
}

func (r *Router) addPoolLocked(pool, token0, token1 common.Address, firstSeen uint64) {
	r.pools[pool] = pair{token0: token0, token1: token1, firstSeen: firstSeen}
	if r.byToken[token0] == nil {
		r.byToken[token0] = make(map[common.Address]common.Address)
	}
	if r.byToken[token1] == nil {
		r.byToken[token1] = make(map[common.Address]common.Address)
	}
	r.byToken[token0][pool] = token1
	r.byToken[token1][pool] = token0
}

// ensureIndex builds the pool index by replaying the factory's pair-creation
// events. Construction is single-flighted so concurrent first callers do not
// replay logs redundantly.
func (r *Router) ensureIndex(ctx context.Context) error {
	r.mu.RLock()
	built := r.built
	r.mu.RUnlock()
	if built {
		return nil
	}

	_, err, _ := r.buildGroup.Do("index", func() (any, error) {
		r.mu.RLock()
		built := r.built
		r.mu.RUnlock()
		if built {
			return nil, nil
		}

		latest, err := r.caller.BlockNumber(ctx)
		if err != nil {
			return nil, fmt.Errorf("latest block: %w", err)
		}

		logs, err := chain.GetLogs(
			ctx,
			r.caller,
			[]common.Address{r.fork.Factory},
			[][]common.Hash{{PairCreatedTopic}},
			r.fork.DeployBlock,
			latest,
			logBatchSize,
			r.logger,
		)
		if err != nil {
			return nil, fmt.Errorf("replay pair creation: %w", err)
		}

		r.mu.Lock()
		for _, log := range logs {
			if token0, token1, pool, ok := pairCreated(log.Topics, log.Data); ok {
				r.addPoolLocked(pool, token0, token1, log.BlockNumber)
			}
		}
		r.built = true
		count := len(r.pools)
		r.mu.Unlock()

		r.logger.Info("pool index built", zap.Int("pools", count))
		return nil, nil
	})
	return err
}

// Pools returns a snapshot of the discovered pool set.
func (r *Router) Pools(ctx context.Context) ([]model.Pool, error) {
	if err := r.ensureIndex(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Pool, 0, len(r.pools))
	for pool, p := range r.pools {
		out = append(out, model.Pool{
			ChainID:        r.book.ChainID,
			Fork:           r.fork.Name,
			Address:        pool.Hex(),
			Token0:         p.token0.Hex(),
			Token1:         p.token1.Hex(),
			FirstSeenBlock: p.firstSeen,
		})
	}
	return out, nil
}

func (r *Router) poolsForToken(token common.Address) map[common.Address]common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[common.Address]common.Address, len(r.byToken[token]))
	for pool, paired := range r.byToken[token] {
		out[pool] = paired
	}
	return out
}

// reserveOf fetches each candidate pool's reserve of the target token in one
// batched round trip. A pool that reverts is reported as zero liquidity.
func (r *Router) reservesOf(ctx context.Context, target common.Address, pools []common.Address, block *big.Int) ([]*big.Int, error) {
	if len(pools) == 0 {
		return nil, nil
	}
	selector, err := probe.Selector("getReserves()")
	if err != nil {
		return nil, err
	}

	msgs := make([]ethereum.CallMsg, len(pools))
	for i := range pools {
		addr := pools[i]
		msgs[i] = ethereum.CallMsg{To: &addr, Data: selector}
	}
	batch, err := r.caller.BatchCallContract(ctx, msgs, block)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*big.Int, len(pools))
	for i, res := range batch {
		if res.Err != nil || len(res.Output) < 64 {
			continue
		}
		p, ok := r.pools[pools[i]]
		if !ok {
			continue
		}
		switch target {
		case p.token0:
			out[i] = new(big.Int).SetBytes(res.Output[:32])
		case p.token1:
			out[i] = new(big.Int).SetBytes(res.Output[32:64])
		}
	}
	return out, nil
}

// DeepestPool returns the pool holding the largest reserve of token, along
// with the paired token and that reserve. ok=false when the token has no
// usable pool. Ties break arbitrarily.
func (r *Router) DeepestPool(ctx context.Context, tok common.Address, block *big.Int, ignore map[common.Address]bool) (pool, paired common.Address, reserve *big.Int, ok bool, err error) {
	return r.deepest(ctx, tok, block, ignore, false)
}

// DeepestStablePool restricts the deepest-pool search to pools paired against
// a recognized stablecoin.
func (r *Router) DeepestStablePool(ctx context.Context, tok common.Address, block *big.Int) (pool, paired common.Address, reserve *big.Int, ok bool, err error) {
	return r.deepest(ctx, tok, block, nil, true)
}

func (r *Router) deepest(ctx context.Context, tok common.Address, block *big.Int, ignore map[common.Address]bool, stableOnly bool) (common.Address, common.Address, *big.Int, bool, error) {
	if err := r.ensureIndex(ctx); err != nil {
		return common.Address{}, common.Address{}, nil, false, err
	}

	candidates := make([]common.Address, 0)
	pairedBy := make(map[common.Address]common.Address)
	for pool, paired := range r.poolsForToken(tok) {
		if ignore[pool] {
			continue
		}
		if stableOnly && !r.book.HasStablecoin(paired) {
			continue
		}
		candidates = append(candidates, pool)
		pairedBy[pool] = paired
	}
	if len(candidates) == 0 {
		return common.Address{}, common.Address{}, nil, false, nil
	}

	reserves, err := r.reservesOf(ctx, tok, candidates, block)
	if err != nil {
		return common.Address{}, common.Address{}, nil, false, err
	}

	var best common.Address
	bestReserve := new(big.Int)
	for i, reserve := range reserves {
		if reserve == nil {
			continue
		}
		if reserve.Cmp(bestReserve) > 0 {
			best = candidates[i]
			bestReserve = reserve
		}
	}
	if best == (common.Address{}) {
		return common.Address{}, common.Address{}, nil, false, nil
	}
	return best, pairedBy[best], bestReserve, true, nil
}

// PathToStables walks deepest pools from token toward a stablecoin, bounded
// by maxHops. Pools already used on the path are ignored on deeper hops so a
// cycle cannot trap the walk.
func (r *Router) PathToStables(ctx context.Context, tok common.Address, block *big.Int) ([]common.Address, error) {
	return r.pathToStables(ctx, tok, block, 0, map[common.Address]bool{})
}

func (r *Router) pathToStables(ctx context.Context, tok common.Address, block *big.Int, hop int, ignore map[common.Address]bool) ([]common.Address, error) {
	if hop > maxHops {
		return nil, fmt.Errorf("%w: hop bound exceeded for %s", ErrNoSwapPath, tok.Hex())
	}

	path := []common.Address{tok}

	deepPool, paired, _, ok, err := r.DeepestPool(ctx, tok, block, ignore)
	if err != nil {
		return nil, err
	}
	if ok {
		stablePool, stablePaired, _, stableOK, err := r.DeepestStablePool(ctx, tok, block)
		if err != nil {
			return nil, err
		}
		if stableOK && deepPool == stablePool {
			return append(path, stablePaired), nil
		}

		nextIgnore := make(map[common.Address]bool, len(ignore)+1)
		for k, v := range ignore {
			nextIgnore[k] = v
		}
		nextIgnore[deepPool] = true

		rest, err := r.pathToStables(ctx, paired, block, hop+1, nextIgnore)
		if err == nil {
			return append(path, rest...), nil
		}
		if !errors.Is(err, ErrNoSwapPath) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNoSwapPath, tok.Hex())
}

// Quote asks the fork's router for the swap output along path. nil result
// with nil error means the router rejected the trade (no liquidity).
func (r *Router) Quote(ctx context.Context, amountIn *big.Int, path []common.Address, block *big.Int) ([]*big.Int, error) {
	parsed, err := routerABIInstance()
	if err != nil {
		return nil, err
	}
	data, err := parsed.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("pack getAmountsOut: %w", err)
	}

	router := r.fork.Router
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &router, Data: data}, block)
	if err != nil {
		if chain.IsRevert(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("call getAmountsOut: %w", err)
	}

	values, err := parsed.Unpack("getAmountsOut", out)
	if err != nil || len(values) != 1 {
		// Some forks tweak the return shape; treat as no quote.
		return nil, nil
	}
	amounts, ok := values[0].([]*big.Int)
	if !ok {
		return nil, nil
	}
	return amounts, nil
}

// Price resolves the token's USD price through this fork: a stable path if
// one exists, else the deepest pool's paired token priced recursively, else
// the heuristic token -> wrapped gas coin -> USDC path.
func (r *Router) Price(ctx context.Context, tok common.Address, block *big.Int, oracle dex.Oracle) (float64, bool, error) {
	if r.book.HasStablecoin(tok) {
		return 1, true, nil
	}

	amountIn, err := r.tokens.Scale(ctx, tok, block)
	if err != nil {
		if errors.Is(err, token.ErrNonStandardToken) {
			return 0, false, nil
		}
		return 0, false, err
	}

	path, err := r.PathToStables(ctx, tok, block)
	if err != nil && !errors.Is(err, ErrNoSwapPath) {
		return 0, false, err
	}

	if path == nil {
		// No stable route; the deepest pool's paired token may still be
		// priceable, which prices this token through one hop.
		_, paired, _, ok, err := r.DeepestPool(ctx, tok, block, nil)
		if err != nil {
			return 0, false, err
		}
		if ok {
			hopPath := []common.Address{tok, paired}
			out, err := r.quoteReadable(ctx, amountIn, hopPath, block)
			if err != nil {
				return 0, false, err
			}
			if out > 0 {
				pairedPrice, priced, err := oracle.TokenPrice(ctx, paired, block)
				if err != nil {
					return 0, false, err
				}
				if priced {
					return out / perHopFee * pairedPrice, true, nil
				}
			}
		}

		path = []common.Address{tok, r.book.WrappedGasCoin, r.book.USDC}
	}

	out, err := r.quoteReadable(ctx, amountIn, path, block)
	if err != nil {
		return 0, false, err
	}
	if out <= 0 {
		return 0, false, nil
	}

	fees := math.Pow(perHopFee, float64(len(path)-1))
	price := out / fees

	last := path[len(path)-1]
	if !r.book.HasStablecoin(last) {
		lastPrice, priced, err := oracle.TokenPrice(ctx, last, block)
		if err != nil || !priced {
			return 0, false, err
		}
		price *= lastPrice
	}
	return price, true, nil
}

// quoteReadable quotes the path and scales the final-hop output by the output
// token's decimals. Zero means no usable quote.
func (r *Router) quoteReadable(ctx context.Context, amountIn *big.Int, path []common.Address, block *big.Int) (float64, error) {
	amounts, err := r.Quote(ctx, amountIn, path, block)
	if err != nil {
		return 0, err
	}
	if len(amounts) == 0 {
		return 0, nil
	}

	last := path[len(path)-1]
	decimals, err := r.tokens.Decimals(ctx, last, block)
	if err != nil {
		if errors.Is(err, token.ErrNonStandardToken) {
			return 0, nil
		}
		return 0, err
	}
	return token.Readable(amounts[len(amounts)-1], decimals), nil
}
