package pricer

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"pricescope/internal/chain/chaintest"
	"pricescope/internal/netconf"
	"pricescope/internal/probe"
)

var (
	stableAddr  = common.HexToAddress("0x8000000000000000000000000000000000000001")
	gasAddr     = common.HexToAddress("0x8000000000000000000000000000000000000002")
	feedToken   = common.HexToAddress("0x8000000000000000000000000000000000000003")
	feedAddr    = common.HexToAddress("0x8000000000000000000000000000000000000004")
	mirrorToken = common.HexToAddress("0x8000000000000000000000000000000000000005")
	unknownTok  = common.HexToAddress("0x8000000000000000000000000000000000000006")
)

func pricerBook() *netconf.Book {
	return &netconf.Book{
		ChainID:        1,
		WrappedGasCoin: gasAddr,
		Stablecoins:    map[common.Address]string{stableAddr: "USDC"},
		ChainlinkFeeds: map[common.Address]common.Address{feedToken: feedAddr},
		OneToOne:       map[common.Address]common.Address{mirrorToken: stableAddr},
	}
}

func setUint(t *testing.T, caller *chaintest.Caller, target common.Address, sig string, v int64) {
	t.Helper()
	selector, err := probe.Selector(sig)
	require.NoError(t, err)
	out := make([]byte, 32)
	big.NewInt(v).FillBytes(out)
	caller.Set(target, selector, out)
}

func newTestPricer(t *testing.T) (*Pricer, *chaintest.Caller) {
	t.Helper()
	caller := chaintest.New()
	// $2000.00000000 on an 8-decimal feed.
	setUint(t, caller, feedAddr, "latestAnswer()(int256)", 2000_00000000)
	setUint(t, caller, feedAddr, "decimals()(uint8)", 8)
	return New(pricerBook(), caller, 4, nil), caller
}

func TestStablecoinPricesAtOne(t *testing.T) {
	p, caller := newTestPricer(t)

	price, err := p.GetPrice(context.Background(), stableAddr, nil, Strict)
	require.NoError(t, err)
	require.NotNil(t, price)
	require.Equal(t, 1.0, *price)
	require.EqualValues(t, 0, caller.CallCount())
}

func TestChainlinkFeedPath(t *testing.T) {
	p, _ := newTestPricer(t)

	price, err := p.GetPrice(context.Background(), feedToken, nil, Strict)
	require.NoError(t, err)
	require.NotNil(t, price)
	require.Equal(t, 2000.0, *price)
}

func TestOneToOneRecursesToAnchor(t *testing.T) {
	p, _ := newTestPricer(t)

	price, err := p.GetPrice(context.Background(), mirrorToken, nil, Strict)
	require.NoError(t, err)
	require.NotNil(t, price)
	require.Equal(t, 1.0, *price)
}

func TestFailPolicies(t *testing.T) {
	p, _ := newTestPricer(t)

	price, err := p.GetPrice(context.Background(), unknownTok, nil, Lenient)
	require.NoError(t, err)
	require.Nil(t, price)

	_, err = p.GetPrice(context.Background(), unknownTok, nil, Strict)
	require.ErrorIs(t, err, ErrPriceNotFound)
}

func TestGetPriceAcceptsAddressLikes(t *testing.T) {
	p, _ := newTestPricer(t)

	price, err := p.GetPrice(context.Background(), feedToken.Hex(), nil, Strict)
	require.NoError(t, err)
	require.NotNil(t, price)
	require.Equal(t, 2000.0, *price)

	_, err = p.GetPrice(context.Background(), "not an address", nil, Strict)
	require.Error(t, err)
}

func TestBatchMatchesSingleLookups(t *testing.T) {
	p, _ := newTestPricer(t)
	ctx := context.Background()

	batch, err := p.GetPrices(ctx, []any{stableAddr, feedToken, unknownTok}, nil, Lenient)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	for i, tok := range []any{stableAddr, feedToken, unknownTok} {
		single, err := p.GetPrice(ctx, tok, nil, Lenient)
		require.NoError(t, err)
		if single == nil {
			require.Nil(t, batch[i])
			continue
		}
		require.NotNil(t, batch[i])
		require.Equal(t, *single, *batch[i])
	}
}

func TestBatchStrictFailsOnUnpriceable(t *testing.T) {
	p, _ := newTestPricer(t)

	_, err := p.GetPrices(context.Background(), []any{stableAddr, unknownTok}, nil, Strict)
	require.ErrorIs(t, err, ErrPriceNotFound)
}

func TestResolutionCached(t *testing.T) {
	p, caller := newTestPricer(t)
	ctx := context.Background()

	first, err := p.GetPrice(ctx, feedToken, nil, Strict)
	require.NoError(t, err)

	before := caller.CallCount()
	second, err := p.GetPrice(ctx, feedToken, nil, Strict)
	require.NoError(t, err)
	require.Equal(t, *first, *second)
	require.Equal(t, before, caller.CallCount())
}

func TestYearnVaultPath(t *testing.T) {
	p, caller := newTestPricer(t)
	vault := common.HexToAddress("0x8000000000000000000000000000000000000007")

	// 1.5 underlying per share on an 18-decimal vault whose underlying is
	// the chainlink-priced token.
	selector, err := probe.Selector("pricePerShare()(uint256)")
	require.NoError(t, err)
	share := make([]byte, 32)
	new(big.Int).Mul(big.NewInt(15), new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil)).FillBytes(share)
	caller.Set(vault, selector, share)

	selector, err = probe.Selector("token()(address)")
	require.NoError(t, err)
	underlying := make([]byte, 32)
	copy(underlying[12:], feedToken.Bytes())
	caller.Set(vault, selector, underlying)

	setUint(t, caller, vault, "decimals()(uint8)", 18)

	price, err := p.GetPrice(context.Background(), vault, nil, Strict)
	require.NoError(t, err)
	require.NotNil(t, price)
	require.Equal(t, 3000.0, *price)
}

func setAddr(t *testing.T, caller *chaintest.Caller, target common.Address, sig string, addr common.Address) {
	t.Helper()
	selector, err := probe.Selector(sig)
	require.NoError(t, err)
	out := make([]byte, 32)
	copy(out[12:], addr.Bytes())
	caller.Set(target, selector, out)
}

func TestPendleLPPath(t *testing.T) {
	caller := chaintest.New()
	setUint(t, caller, feedAddr, "latestAnswer()(int256)", 2000_00000000)
	setUint(t, caller, feedAddr, "decimals()(uint8)", 8)

	book := pricerBook()
	oracle := common.HexToAddress("0x8000000000000000000000000000000000000013")
	market := common.HexToAddress("0x8000000000000000000000000000000000000014")
	sy := common.HexToAddress("0x8000000000000000000000000000000000000015")
	book.PendleOracle = oracle

	selector, err := probe.Selector("readTokens()(address,address,address)")
	require.NoError(t, err)
	tokens := make([]byte, 96)
	copy(tokens[12:32], sy.Bytes())
	caller.Set(market, selector, tokens)

	// assetInfo: type 0, the chainlink-priced token, 18 decimals.
	selector, err = probe.Selector("assetInfo()(uint8,address,uint8)")
	require.NoError(t, err)
	info := make([]byte, 96)
	copy(info[44:64], feedToken.Bytes())
	big.NewInt(18).FillBytes(info[64:96])
	caller.Set(sy, selector, info)

	// Two asset units per LP token.
	selector, err = probe.Selector("getLpToAssetRate(address,uint32)(uint256)")
	require.NoError(t, err)
	rate := make([]byte, 32)
	new(big.Int).Mul(big.NewInt(2), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)).FillBytes(rate)
	caller.Set(oracle, selector, rate)

	p := New(book, caller, 4, nil)
	price, err := p.GetPrice(context.Background(), market, nil, Strict)
	require.NoError(t, err)
	require.NotNil(t, price)
	require.Equal(t, 4000.0, *price)
}

func TestReserveRTokenPath(t *testing.T) {
	p, caller := newTestPricer(t)
	rtoken := common.HexToAddress("0x8000000000000000000000000000000000000016")
	mainAddr := common.HexToAddress("0x8000000000000000000000000000000000000017")
	handler := common.HexToAddress("0x8000000000000000000000000000000000000018")

	setAddr(t, caller, rtoken, "main()(address)", mainAddr)
	setUint(t, caller, rtoken, "issuanceAvailable()(uint)", 100)
	setUint(t, caller, rtoken, "redemptionAvailable()(uint)", 100)
	setAddr(t, caller, mainAddr, "basketHandler()(address)", handler)

	// The handler quotes a [0.99, 1.01] band; the midpoint prices the token.
	selector, err := probe.Selector("price()((uint192,uint192))")
	require.NoError(t, err)
	quote := make([]byte, 64)
	e16 := new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil)
	new(big.Int).Mul(big.NewInt(99), e16).FillBytes(quote[:32])
	new(big.Int).Mul(big.NewInt(101), e16).FillBytes(quote[32:64])
	caller.Set(handler, selector, quote)

	price, err := p.GetPrice(context.Background(), rtoken, nil, Strict)
	require.NoError(t, err)
	require.NotNil(t, price)
	require.Equal(t, 1.0, *price)
}

func TestCompoundMarketRevertHandling(t *testing.T) {
	caller := chaintest.New()
	book := pricerBook()
	comptroller := common.HexToAddress("0x8000000000000000000000000000000000000010")
	bricked := common.HexToAddress("0x8000000000000000000000000000000000000011")
	broken := common.HexToAddress("0x8000000000000000000000000000000000000012")
	book.Comptrollers = []common.Address{comptroller}

	selector, err := probe.Selector("getAllMarkets()(address[])")
	require.NoError(t, err)
	markets := make([]byte, 128)
	big.NewInt(32).FillBytes(markets[:32])
	big.NewInt(2).FillBytes(markets[32:64])
	copy(markets[76:96], bricked.Bytes())
	copy(markets[108:128], broken.Bytes())
	caller.Set(comptroller, selector, markets)

	// A bricked market reverts rate accrual with the absurd-borrow-rate
	// reason and prices at zero; a market reverting for any other reason
	// has no compound price at all.
	selector, err = probe.Selector("exchangeRateStored()(uint256)")
	require.NoError(t, err)
	caller.SetErr(bricked, selector, errors.New("execution reverted: borrow rate is absurdly high"))

	p := New(book, caller, 4, nil)

	price, err := p.GetPrice(context.Background(), bricked, nil, Strict)
	require.NoError(t, err)
	require.NotNil(t, price)
	require.Equal(t, 0.0, *price)

	price, err = p.GetPrice(context.Background(), broken, nil, Lenient)
	require.NoError(t, err)
	require.Nil(t, price)
}

func TestConcurrentBatchIsDeduplicated(t *testing.T) {
	baseline, baselineCaller := newTestPricer(t)
	_, err := baseline.GetPrice(context.Background(), feedToken, nil, Strict)
	require.NoError(t, err)

	p, caller := newTestPricer(t)

	// The same token many times over; every slot must resolve identically.
	tokens := make([]any, 16)
	for i := range tokens {
		tokens[i] = feedToken
	}
	prices, err := p.GetPrices(context.Background(), tokens, nil, Strict)
	require.NoError(t, err)
	for _, price := range prices {
		require.NotNil(t, price)
		require.Equal(t, 2000.0, *price)
	}

	// Sixteen simultaneous lookups of one token collapse into a single
	// resolution's worth of chain traffic.
	require.Equal(t, baselineCaller.CallCount(), caller.CallCount())
}
