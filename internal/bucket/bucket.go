// Package bucket classifies tokens into pricing buckets. Classification runs
// a fixed sequence of predicates and returns the first match, so a token that
// satisfies several probes always lands in the same bucket. Results are
// latest-state probes cached per token.
package bucket

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"pricescope/internal/chainlink"
	"pricescope/internal/dex/balancer"
	"pricescope/internal/dex/curve"
	"pricescope/internal/dex/uniswap"
	"pricescope/internal/lending"
	"pricescope/internal/netconf"
	"pricescope/internal/probe"
)

// Tag names one pricing bucket. The zero value means "no bucket": the token
// falls through to the on-chain market fallback.
type Tag string

const (
	TagNone            Tag = ""
	TagCurveLP         Tag = "curve-lp"
	TagYearnVault      Tag = "yearn-vault"
	TagStargateLP      Tag = "stargate-lp"
	TagAToken          Tag = "atoken"
	TagIBToken         Tag = "ib-token"
	TagCompoundMarket  Tag = "compound-market"
	TagSolidexDeposit  Tag = "solidex-deposit"
	TagConvexDeposit   Tag = "convex-deposit"
	TagPopsicleLP      Tag = "popsicle-lp"
	TagRKP3R           Tag = "rkp3r-token"
	TagSynthetixSynth  Tag = "synthetix-synth"
	TagWstETH          Tag = "wsteth"
	TagCrETH           Tag = "creth"
	TagOneToOne        Tag = "one-to-one"
	TagBeltLP          Tag = "belt-lp"
	TagFroyoLP         Tag = "froyo-lp"
	TagEllipsisLP      Tag = "ellipsis-lp"
	TagSaddleLP        Tag = "saddle-lp"
	TagBalancerPool    Tag = "balancer-pool"
	TagGelatoPool      Tag = "gelato-pool"
	TagPendleLP        Tag = "pendle-lp"
	TagReserveRToken   Tag = "reserve-rtoken"
	TagTokenSet        Tag = "token-set"
	TagPieDAOLP        Tag = "piedao-lp"
	TagBasketDAO       Tag = "basketdao"
	TagMStableFeeder   Tag = "mstable-feeder-pool"
	TagMooniswapLP     Tag = "mooniswap-lp"
	TagUniswapLP       Tag = "uniswap-lp"
	TagWrappedATokenV2 Tag = "wrapped-atoken-v2"
	TagWrappedATokenV3 Tag = "wrapped-atoken-v3"
	TagGearboxDiesel   Tag = "gearbox-diesel"
	TagChainlinkFeed   Tag = "chainlink-feed"
)

// yearnShareSigs are the vault share-price accessors probed, in order, to
// recognize a yearn-style vault.
var yearnShareSigs = []string{
	"pricePerShare()(uint256)",
	"getPricePerShare()(uint256)",
	"getPricePerFullShare()(uint256)",
	"getSharesToUnderlying(uint256)(uint256)",
	"exchangeRate()(uint256)",
}

type predicate struct {
	tag   Tag
	match func(ctx context.Context, tok common.Address) (bool, error)
}

// Classifier assigns tokens to buckets.
type Classifier struct {
	book    *netconf.Book
	prober  *probe.Prober
	curve   *curve.Registry
	uni     *uniswap.Multiplexer
	bal     *balancer.Multiplexer
	lending *lending.Registry
	feeds   *chainlink.Feeds
	logger  *zap.Logger

	checks []predicate
	cache  *xsync.Map[common.Address, Tag]
}

// NewClassifier wires the classifier's predicate chain. The order is part of
// the engine's contract: reordering changes which bucket multi-faceted tokens
// land in, and therefore their price path.
func NewClassifier(
	book *netconf.Book,
	prober *probe.Prober,
	curveReg *curve.Registry,
	uni *uniswap.Multiplexer,
	bal *balancer.Multiplexer,
	lendingReg *lending.Registry,
	feeds *chainlink.Feeds,
	logger *zap.Logger,
) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Classifier{
		book:    book,
		prober:  prober,
		curve:   curveReg,
		uni:     uni,
		bal:     bal,
		lending: lendingReg,
		feeds:   feeds,
		logger:  logger,
		cache:   xsync.NewMap[common.Address, Tag](),
	}
	c.checks = []predicate{
		{TagCurveLP, c.isCurveLP},
		{TagYearnVault, c.isYearnVault},
		{TagStargateLP, c.isStargateLP},
		{TagAToken, c.isAToken},
		{TagIBToken, c.isIBToken},
		{TagCompoundMarket, c.isCompoundMarket},
		{TagSolidexDeposit, c.isSolidexDeposit},
		{TagConvexDeposit, c.isConvexDeposit},
		{TagPopsicleLP, c.isPopsicleLP},
		{TagRKP3R, c.addressIs(func(b *netconf.Book) common.Address { return b.RKP3R })},
		{TagSynthetixSynth, c.isSynth},
		{TagWstETH, c.addressIs(func(b *netconf.Book) common.Address { return b.WstETH })},
		{TagCrETH, c.addressIs(func(b *netconf.Book) common.Address { return b.CrETH2 })},
		{TagOneToOne, c.inMap(func(b *netconf.Book) map[common.Address]common.Address { return b.OneToOne })},
		{TagBeltLP, c.inMap(func(b *netconf.Book) map[common.Address]common.Address { return b.BeltLPs })},
		{TagFroyoLP, c.inMap(func(b *netconf.Book) map[common.Address]common.Address { return b.FroyoLPs })},
		{TagEllipsisLP, c.inMap(func(b *netconf.Book) map[common.Address]common.Address { return b.EllipsisLPs })},
		{TagSaddleLP, c.inMap(func(b *netconf.Book) map[common.Address]common.Address { return b.SaddleLPs })},
		{TagBalancerPool, c.isBalancerPool},
		{TagGelatoPool, c.isGelatoPool},
		{TagPendleLP, c.isPendleLP},
		{TagReserveRToken, c.isReserveRToken},
		{TagTokenSet, c.isTokenSet},
		{TagPieDAOLP, c.isPieDAO},
		{TagBasketDAO, c.isBasketDAO},
		{TagMStableFeeder, c.isMStableFeeder},
		{TagMooniswapLP, c.isMooniswapLP},
		{TagUniswapLP, c.isUniswapLP},
		{TagWrappedATokenV2, c.isWrappedATokenV2},
		{TagWrappedATokenV3, c.isWrappedATokenV3},
		{TagGearboxDiesel, c.isGearboxDiesel},
		{TagChainlinkFeed, c.hasChainlinkFeed},
	}
	return c
}

// Check returns the token's bucket. Stablecoins and the wrapped gas coin never
// classify: their prices come straight from the orchestrator. A TagNone result
// is cached too, so unpriceable tokens cost their probe chain only once.
func (c *Classifier) Check(ctx context.Context, tok common.Address) (Tag, error) {
	if c.book.HasStablecoin(tok) || tok == c.book.WrappedGasCoin {
		return TagNone, nil
	}
	if tag, ok := c.cache.Load(tok); ok {
		return tag, nil
	}

	tag, err := c.classify(ctx, tok)
	if err != nil {
		return TagNone, err
	}
	c.cache.Store(tok, tag)
	if tag != TagNone {
		c.logger.Debug("token classified",
			zap.String("token", tok.Hex()),
			zap.String("bucket", string(tag)),
		)
	}
	return tag, nil
}

func (c *Classifier) classify(ctx context.Context, tok common.Address) (Tag, error) {
	if tag, ok := c.book.LegacyPools[tok]; ok {
		return Tag(tag), nil
	}
	for _, check := range c.checks {
		ok, err := check.match(ctx, tok)
		if err != nil {
			return TagNone, err
		}
		if ok {
			return check.tag, nil
		}
	}
	return TagNone, nil
}

func (c *Classifier) addressIs(pick func(*netconf.Book) common.Address) func(context.Context, common.Address) (bool, error) {
	return func(_ context.Context, tok common.Address) (bool, error) {
		want := pick(c.book)
		return want != (common.Address{}) && tok == want, nil
	}
}

func (c *Classifier) inMap(pick func(*netconf.Book) map[common.Address]common.Address) func(context.Context, common.Address) (bool, error) {
	return func(_ context.Context, tok common.Address) (bool, error) {
		_, ok := pick(c.book)[tok]
		return ok, nil
	}
}

func (c *Classifier) isCurveLP(ctx context.Context, tok common.Address) (bool, error) {
	if !c.curve.Supported() {
		return false, nil
	}
	return c.curve.HasLP(ctx, tok)
}

func (c *Classifier) isYearnVault(ctx context.Context, tok common.Address) (bool, error) {
	sig, err := c.prober.HasAnyMethod(ctx, tok, yearnShareSigs, nil)
	if err != nil {
		return false, err
	}
	if sig == "" {
		return false, nil
	}
	// Compound markets expose exchangeRate-like accessors too; demand an
	// underlying accessor alongside the weaker share-price signals.
	if sig == "exchangeRate()(uint256)" || sig == "getSharesToUnderlying(uint256)(uint256)" {
		under, err := c.prober.HasAnyMethod(ctx, tok, []string{"token()(address)", "underlying()(address)", "native()(address)", "want()(address)"}, nil)
		if err != nil {
			return false, err
		}
		return under != "", nil
	}
	return true, nil
}

func (c *Classifier) isStargateLP(ctx context.Context, tok common.Address) (bool, error) {
	return c.prober.HasMethods(ctx, tok, []string{
		"poolId()(uint256)",
		"token()(address)",
		"totalLiquidity()(uint256)",
		"convertRate()(uint256)",
	}, nil)
}

func (c *Classifier) isAToken(ctx context.Context, tok common.Address) (bool, error) {
	sig, err := c.prober.HasAnyMethod(ctx, tok, []string{
		"underlyingAssetAddress()(address)",
		"UNDERLYING_ASSET_ADDRESS()(address)",
	}, nil)
	return sig != "", err
}

func (c *Classifier) isIBToken(ctx context.Context, tok common.Address) (bool, error) {
	return c.prober.HasMethods(ctx, tok, []string{
		"token()(address)",
		"totalToken()(uint256)",
	}, nil)
}

func (c *Classifier) isCompoundMarket(ctx context.Context, tok common.Address) (bool, error) {
	// Registered markets first; forks not tracked by any comptroller are
	// recognized by their rate accessors.
	known, err := c.lending.IsMarket(ctx, tok)
	if err != nil || known {
		return known, err
	}
	return c.prober.HasMethods(ctx, tok, []string{
		"exchangeRateStored()(uint256)",
		"borrowRatePerBlock()(uint256)",
		"underlying()(address)",
	}, nil)
}

func (c *Classifier) isSolidexDeposit(ctx context.Context, tok common.Address) (bool, error) {
	if !c.book.SolidexEnabled {
		return false, nil
	}
	return c.prober.HasMethods(ctx, tok, []string{
		"pool()(address)",
		"solidex()(address)",
	}, nil)
}

func (c *Classifier) isConvexDeposit(ctx context.Context, tok common.Address) (bool, error) {
	if c.book.ConvexBooster == (common.Address{}) {
		return false, nil
	}
	operator, err := c.prober.CallAddress(ctx, tok, "operator()(address)", nil)
	if err != nil {
		return false, err
	}
	return operator == c.book.ConvexBooster, nil
}

func (c *Classifier) isPopsicleLP(ctx context.Context, tok common.Address) (bool, error) {
	return c.prober.HasMethods(ctx, tok, []string{
		"usersAmounts()((uint256,uint256))",
		"token0()(address)",
		"token1()(address)",
		"pool()(address)",
	}, nil)
}

func (c *Classifier) isSynth(ctx context.Context, tok common.Address) (bool, error) {
	if c.book.SynthetixExchangeRates == (common.Address{}) {
		return false, nil
	}
	return c.prober.HasMethods(ctx, tok, []string{
		"currencyKey()(bytes32)",
		"target()(address)",
	}, nil)
}

func (c *Classifier) isBalancerPool(ctx context.Context, tok common.Address) (bool, error) {
	return c.bal.IsPool(ctx, tok, nil)
}

func (c *Classifier) isGelatoPool(ctx context.Context, tok common.Address) (bool, error) {
	return c.prober.HasMethods(ctx, tok, []string{
		"gelatoBalance0()(uint256)",
		"gelatoBalance1()(uint256)",
		"token0()(address)",
		"token1()(address)",
	}, nil)
}

func (c *Classifier) isPendleLP(ctx context.Context, tok common.Address) (bool, error) {
	if c.book.PendleOracle == (common.Address{}) {
		return false, nil
	}
	return c.prober.HasMethod(ctx, tok, "readTokens()(address,address,address)", nil)
}

func (c *Classifier) isReserveRToken(ctx context.Context, tok common.Address) (bool, error) {
	return c.prober.HasMethods(ctx, tok, []string{
		"main()(address)",
		"issuanceAvailable()(uint)",
		"redemptionAvailable()(uint)",
	}, nil)
}

func (c *Classifier) isTokenSet(ctx context.Context, tok common.Address) (bool, error) {
	return c.prober.HasMethods(ctx, tok, []string{
		"getComponents()(address[])",
		"controller()(address)",
	}, nil)
}

func (c *Classifier) isPieDAO(ctx context.Context, tok common.Address) (bool, error) {
	return c.prober.HasMethods(ctx, tok, []string{
		"getTokens()(address[])",
		"getCap()(uint256)",
	}, nil)
}

func (c *Classifier) isBasketDAO(ctx context.Context, tok common.Address) (bool, error) {
	return c.prober.HasMethod(ctx, tok, "getAssetsAndBalances()(address[],uint256[])", nil)
}

func (c *Classifier) isMStableFeeder(ctx context.Context, tok common.Address) (bool, error) {
	return c.prober.HasMethods(ctx, tok, []string{
		"getPrice()((uint256,uint256))",
		"mAsset()(address)",
	}, nil)
}

func (c *Classifier) isMooniswapLP(ctx context.Context, tok common.Address) (bool, error) {
	ok, err := c.prober.HasMethods(ctx, tok, []string{
		"getTokens()(address[])",
		"decayPeriod()(uint256)",
	}, nil)
	if err != nil || !ok {
		return false, err
	}
	if c.book.MooniswapFactory == (common.Address{}) {
		return true, nil
	}
	// confirm against the factory's own pool list
	out, err := c.prober.Call(ctx, c.book.MooniswapFactory, "isPool(address)(bool)", nil, tok.Bytes())
	if err != nil {
		return false, err
	}
	if len(out) < 32 {
		return false, nil
	}
	return out[31] != 0, nil
}

func (c *Classifier) isUniswapLP(ctx context.Context, tok common.Address) (bool, error) {
	return c.uni.IsPool(ctx, tok, nil)
}

func (c *Classifier) isWrappedATokenV2(ctx context.Context, tok common.Address) (bool, error) {
	return c.prober.HasMethods(ctx, tok, []string{
		"ATOKEN()(address)",
		"STATIC_ATOKEN_LM_REVISION()(uint256)",
		"staticToDynamicAmount(uint256)(uint256)",
	}, nil)
}

func (c *Classifier) isWrappedATokenV3(ctx context.Context, tok common.Address) (bool, error) {
	return c.prober.HasMethods(ctx, tok, []string{
		"aToken()(address)",
		"rate()(uint256)",
	}, nil)
}

func (c *Classifier) isGearboxDiesel(ctx context.Context, tok common.Address) (bool, error) {
	_, ok, err := c.lending.DieselPool(ctx, tok)
	return ok, err
}

func (c *Classifier) hasChainlinkFeed(ctx context.Context, tok common.Address) (bool, error) {
	return c.feeds.HasFeed(ctx, tok)
}
