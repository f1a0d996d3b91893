// Package pricer resolves token prices in USD. One Pricer owns the bucket
// classifier, the per-protocol valuators, and the on-chain market fallbacks,
// and exposes single and batched lookups over them.
package pricer

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"pricescope/internal/bucket"
	"pricescope/internal/chain"
	"pricescope/internal/chainlink"
	"pricescope/internal/convert"
	"pricescope/internal/dex/balancer"
	"pricescope/internal/dex/curve"
	"pricescope/internal/dex/uniswap"
	"pricescope/internal/lending"
	"pricescope/internal/netconf"
	"pricescope/internal/probe"
	"pricescope/internal/token"
)

// ErrPriceNotFound reports that every resolution path came up empty. It only
// surfaces under the Strict policy.
var ErrPriceNotFound = errors.New("price not found")

// FailPolicy selects how a missing price is reported.
type FailPolicy int

const (
	// Lenient returns a nil price for unpriceable tokens.
	Lenient FailPolicy = iota
	// Strict returns ErrPriceNotFound instead.
	Strict
)

// latestBlock keys cache entries for latest-state lookups.
const latestBlock = ^uint64(0)

type cacheKey struct {
	token common.Address
	block uint64
}

func keyFor(tok common.Address, block *big.Int) cacheKey {
	if block == nil {
		return cacheKey{token: tok, block: latestBlock}
	}
	return cacheKey{token: tok, block: block.Uint64()}
}

// visitSetKey carries the set of (token, block) pairs already being resolved
// on the current resolution chain, so recursive lookups can detect cycles.
type visitSetKey struct{}

func visitSet(ctx context.Context) map[cacheKey]bool {
	if s, ok := ctx.Value(visitSetKey{}).(map[cacheKey]bool); ok {
		return s
	}
	return nil
}

// Pricer is the price resolution engine for one chain.
type Pricer struct {
	book    *netconf.Book
	tokens  *token.Registry
	prober  *probe.Prober
	class   *bucket.Classifier
	uni     *uniswap.Multiplexer
	bal     *balancer.Multiplexer
	curve   *curve.Registry
	lending *lending.Registry
	feeds   *chainlink.Feeds
	logger  *zap.Logger

	pool   pond.Pool
	cache  *xsync.Map[cacheKey, float64]
	flight singleflight.Group
}

// New wires a Pricer for the chain described by book. concurrency bounds the
// batch fan-out; zero or negative falls back to a small default.
func New(book *netconf.Book, caller chain.Caller, concurrency int, logger *zap.Logger) *Pricer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = 8
	}

	prober := probe.NewProber(caller, logger)
	tokens := token.NewRegistry(prober, logger)
	uni := uniswap.NewMultiplexer(book, caller, prober, tokens, logger)
	bal := balancer.NewMultiplexer(book, caller, prober, tokens, logger)
	curveReg := curve.NewRegistry(book, caller, prober, tokens, logger)
	lendingReg := lending.NewRegistry(book, caller, prober, logger)
	feeds := chainlink.NewFeeds(book, caller, prober, logger)
	class := bucket.NewClassifier(book, prober, curveReg, uni, bal, lendingReg, feeds, logger)

	return &Pricer{
		book:    book,
		tokens:  tokens,
		prober:  prober,
		class:   class,
		uni:     uni,
		bal:     bal,
		curve:   curveReg,
		lending: lendingReg,
		feeds:   feeds,
		logger:  logger,
		pool:    pond.NewPool(concurrency),
		cache:   xsync.NewMap[cacheKey, float64](),
	}
}

// Classifier exposes the bucket classifier, mainly for the CLI.
func (p *Pricer) Classifier() *bucket.Classifier { return p.class }

// Uniswap exposes the constant-product multiplexer for pool snapshotting.
func (p *Pricer) Uniswap() *uniswap.Multiplexer { return p.uni }

// GetPrice resolves the USD price of tokenLike at block (nil means latest).
// Anything convert.ToAddress accepts works as tokenLike. Under Lenient a
// token with no discoverable price yields a nil price and a nil error.
func (p *Pricer) GetPrice(ctx context.Context, tokenLike any, block *big.Int, policy FailPolicy) (*float64, error) {
	tok, err := convert.ToAddress(tokenLike)
	if err != nil {
		return nil, err
	}

	price, ok, err := p.resolveDeduped(ctx, tok, block)
	if err != nil {
		return nil, err
	}
	if !ok {
		if policy == Strict {
			return nil, fmt.Errorf("token %s at block %s: %w", tok.Hex(), blockLabel(block), ErrPriceNotFound)
		}
		p.logger.Warn("no price found",
			zap.String("token", tok.Hex()),
			zap.String("symbol", p.tokens.Symbol(ctx, tok, block)),
			zap.String("block", blockLabel(block)),
		)
		return nil, nil
	}
	return &price, nil
}

// GetPrices resolves many tokens concurrently. The result slice is parallel
// to tokenLikes; a failed or missing entry is nil under Lenient, while under
// Strict the first failure aborts the whole batch.
func (p *Pricer) GetPrices(ctx context.Context, tokenLikes []any, block *big.Int, policy FailPolicy) ([]*float64, error) {
	results := make([]*float64, len(tokenLikes))
	errs := make([]error, len(tokenLikes))

	group := p.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for i, tokenLike := range tokenLikes {
		i, tokenLike := i, tokenLike
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				errs[i] = err
				return
			}
			results[i], errs[i] = p.GetPrice(groupCtx, tokenLike, block, policy)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return nil, err
	}

	for i, err := range errs {
		if err == nil {
			continue
		}
		if policy == Strict {
			return nil, err
		}
		p.logger.Warn("batch price lookup failed", zap.Int("index", i), zap.Error(err))
		results[i] = nil
	}
	return results, nil
}

// TokenPrice implements the oracle interface the valuators and DEX routers
// recurse through. Cycles on the current resolution chain report "no price"
// rather than spinning.
func (p *Pricer) TokenPrice(ctx context.Context, tok common.Address, block *big.Int) (float64, bool, error) {
	key := keyFor(tok, block)

	seen := visitSet(ctx)
	if seen != nil && seen[key] {
		return 0, false, nil
	}

	if p.book.HasStablecoin(tok) {
		return 1.0, true, nil
	}
	if price, ok := p.cache.Load(key); ok {
		return price, true, nil
	}

	if seen == nil {
		seen = make(map[cacheKey]bool)
		ctx = context.WithValue(ctx, visitSetKey{}, seen)
	}
	seen[key] = true
	defer delete(seen, key)

	price, ok, err := p.resolve(ctx, tok, block)
	if err != nil {
		return 0, false, err
	}
	if ok {
		p.cache.Store(key, price)
	}
	return price, ok, err
}

// resolveDeduped collapses concurrent top-level lookups of the same (token,
// block) into one resolution. Recursive lookups never join a flight; two
// chains waiting on each other's flights would deadlock.
func (p *Pricer) resolveDeduped(ctx context.Context, tok common.Address, block *big.Int) (float64, bool, error) {
	key := keyFor(tok, block)
	if p.book.HasStablecoin(tok) {
		return 1.0, true, nil
	}
	if price, ok := p.cache.Load(key); ok {
		return price, true, nil
	}

	type answer struct {
		price float64
		ok    bool
	}
	flightKey := fmt.Sprintf("%s@%d", tok.Hex(), key.block)
	v, err, _ := p.flight.Do(flightKey, func() (any, error) {
		price, ok, err := p.TokenPrice(ctx, tok, block)
		if err != nil {
			return nil, err
		}
		return answer{price: price, ok: ok}, nil
	})
	if err != nil {
		p.flight.Forget(flightKey)
		return 0, false, err
	}
	a := v.(answer)
	return a.price, a.ok, nil
}

// resolve runs bucket dispatch and, when that yields nothing, the on-chain
// market fallback chain.
func (p *Pricer) resolve(ctx context.Context, tok common.Address, block *big.Int) (float64, bool, error) {
	tag, err := p.class.Check(ctx, tok)
	if err != nil {
		return 0, false, err
	}
	if tag != bucket.TagNone {
		price, ok, err := p.priceByTag(ctx, tag, tok, block)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return price, true, nil
		}
		p.logger.Debug("bucket yielded no price, falling through",
			zap.String("token", tok.Hex()),
			zap.String("bucket", string(tag)),
		)
	}

	if price, ok, err := p.uni.Price(ctx, tok, block, p); err != nil || ok {
		return price, ok, err
	}
	if price, ok, err := p.bal.TokenPrice(ctx, tok, block, p); err != nil || ok {
		return price, ok, err
	}
	if p.curve.Supported() {
		if price, ok, err := p.curve.PriceForUnderlying(ctx, tok, block, p); err != nil || ok {
			return price, ok, err
		}
	}
	return 0, false, nil
}

func (p *Pricer) priceByTag(ctx context.Context, tag bucket.Tag, tok common.Address, block *big.Int) (float64, bool, error) {
	switch tag {
	case bucket.TagCurveLP:
		return p.curve.LPPrice(ctx, tok, block, p)
	case bucket.TagYearnVault:
		return p.priceYearnVault(ctx, tok, block)
	case bucket.TagStargateLP:
		return p.priceStargateLP(ctx, tok, block)
	case bucket.TagAToken:
		return p.priceAToken(ctx, tok, block)
	case bucket.TagIBToken:
		return p.priceIBToken(ctx, tok, block)
	case bucket.TagCompoundMarket:
		return p.priceCompoundMarket(ctx, tok, block)
	case bucket.TagSolidexDeposit:
		return p.priceSolidexDeposit(ctx, tok, block)
	case bucket.TagConvexDeposit:
		return p.priceConvexDeposit(ctx, tok, block)
	case bucket.TagPopsicleLP:
		return p.pricePopsicleLP(ctx, tok, block)
	case bucket.TagRKP3R:
		return p.TokenPrice(ctx, p.book.KP3R, block)
	case bucket.TagSynthetixSynth:
		return p.priceSynth(ctx, tok, block)
	case bucket.TagWstETH:
		return p.priceWstETH(ctx, tok, block)
	case bucket.TagCrETH:
		return p.TokenPrice(ctx, p.book.WETH, block)
	case bucket.TagOneToOne:
		return p.TokenPrice(ctx, p.book.OneToOne[tok], block)
	case bucket.TagBeltLP:
		return p.priceVirtualPricePool(ctx, p.book.BeltLPs[tok], "get_virtual_price()(uint256)", block)
	case bucket.TagFroyoLP:
		return p.priceVirtualPricePool(ctx, p.book.FroyoLPs[tok], "get_virtual_price()(uint256)", block)
	case bucket.TagEllipsisLP:
		return p.priceVirtualPricePool(ctx, p.book.EllipsisLPs[tok], "get_virtual_price()(uint256)", block)
	case bucket.TagSaddleLP:
		return p.priceVirtualPricePool(ctx, p.book.SaddleLPs[tok], "getVirtualPrice()(uint256)", block)
	case bucket.TagBalancerPool:
		return p.bal.PoolPrice(ctx, tok, block, p)
	case bucket.TagGelatoPool:
		return p.priceGelatoPool(ctx, tok, block)
	case bucket.TagPendleLP:
		return p.pricePendleLP(ctx, tok, block)
	case bucket.TagReserveRToken:
		return p.priceReserveRToken(ctx, tok, block)
	case bucket.TagTokenSet:
		return p.priceTokenSet(ctx, tok, block)
	case bucket.TagPieDAOLP:
		return p.pricePieDAO(ctx, tok, block)
	case bucket.TagBasketDAO:
		return p.priceBasketDAO(ctx, tok, block)
	case bucket.TagMStableFeeder:
		return p.priceMStableFeeder(ctx, tok, block)
	case bucket.TagMooniswapLP:
		return p.priceMooniswapLP(ctx, tok, block)
	case bucket.TagUniswapLP:
		return p.uni.LPTokenPrice(ctx, tok, block, p)
	case bucket.TagWrappedATokenV2:
		return p.priceWrappedATokenV2(ctx, tok, block)
	case bucket.TagWrappedATokenV3:
		return p.priceWrappedATokenV3(ctx, tok, block)
	case bucket.TagGearboxDiesel:
		return p.priceGearboxDiesel(ctx, tok, block)
	case bucket.TagChainlinkFeed:
		return p.feeds.Price(ctx, tok, block)
	default:
		return 0, false, nil
	}
}

func blockLabel(block *big.Int) string {
	if block == nil {
		return "latest"
	}
	return block.String()
}
