package bucket

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"pricescope/internal/chain/chaintest"
	"pricescope/internal/chainlink"
	"pricescope/internal/dex/balancer"
	"pricescope/internal/dex/curve"
	"pricescope/internal/dex/uniswap"
	"pricescope/internal/lending"
	"pricescope/internal/netconf"
	"pricescope/internal/probe"
	"pricescope/internal/token"
)

var (
	usdcAddr    = common.HexToAddress("0x7000000000000000000000000000000000000001")
	wgasAddr    = common.HexToAddress("0x7000000000000000000000000000000000000002")
	subjectAddr = common.HexToAddress("0x7000000000000000000000000000000000000003")
	anchorAddr  = common.HexToAddress("0x7000000000000000000000000000000000000004")
)

func classifierBook() *netconf.Book {
	return &netconf.Book{
		ChainID:        1,
		WrappedGasCoin: wgasAddr,
		Stablecoins:    map[common.Address]string{usdcAddr: "USDC"},
	}
}

func newClassifier(book *netconf.Book, caller *chaintest.Caller) *Classifier {
	prober := probe.NewProber(caller, nil)
	tokens := token.NewRegistry(prober, nil)
	curveReg := curve.NewRegistry(book, caller, prober, tokens, nil)
	uni := uniswap.NewMultiplexer(book, caller, prober, tokens, nil)
	bal := balancer.NewMultiplexer(book, caller, prober, tokens, nil)
	lendingReg := lending.NewRegistry(book, caller, prober, nil)
	feeds := chainlink.NewFeeds(book, caller, prober, nil)
	return NewClassifier(book, prober, curveReg, uni, bal, lendingReg, feeds, nil)
}

func setWord(t *testing.T, caller *chaintest.Caller, tok common.Address, sig string, v int64) {
	t.Helper()
	selector, err := probe.Selector(sig)
	if err != nil {
		t.Fatalf("selector %s: %v", sig, err)
	}
	out := make([]byte, 32)
	big.NewInt(v).FillBytes(out)
	caller.Set(tok, selector, out)
}

func TestStablecoinAndGasCoinNeverClassify(t *testing.T) {
	caller := chaintest.New()
	c := newClassifier(classifierBook(), caller)

	for _, tok := range []common.Address{usdcAddr, wgasAddr} {
		tag, err := c.Check(context.Background(), tok)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tag != TagNone {
			t.Fatalf("%s classified as %q", tok.Hex(), tag)
		}
	}
	if caller.CallCount() != 0 {
		t.Fatalf("short-circuit still hit the chain %d times", caller.CallCount())
	}
}

func TestLegacyAllowlistOverridesProbes(t *testing.T) {
	book := classifierBook()
	book.LegacyPools = map[common.Address]string{subjectAddr: string(TagUniswapLP)}
	book.BeltLPs = map[common.Address]common.Address{subjectAddr: anchorAddr}
	caller := chaintest.New()
	c := newClassifier(book, caller)

	tag, err := c.Check(context.Background(), subjectAddr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tag != TagUniswapLP {
		t.Fatalf("tag = %q, want %q", tag, TagUniswapLP)
	}
}

func TestAddressSetOrderIsFixed(t *testing.T) {
	book := classifierBook()
	// Both sets claim the token; one-to-one is checked first.
	book.OneToOne = map[common.Address]common.Address{subjectAddr: anchorAddr}
	book.BeltLPs = map[common.Address]common.Address{subjectAddr: anchorAddr}
	caller := chaintest.New()
	c := newClassifier(book, caller)

	tag, err := c.Check(context.Background(), subjectAddr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tag != TagOneToOne {
		t.Fatalf("tag = %q, want %q", tag, TagOneToOne)
	}
}

func TestStargateClassificationAndCache(t *testing.T) {
	book := classifierBook()
	caller := chaintest.New()
	setWord(t, caller, subjectAddr, "poolId()(uint256)", 3)
	setWord(t, caller, subjectAddr, "token()(address)", 1)
	setWord(t, caller, subjectAddr, "totalLiquidity()(uint256)", 1000)
	setWord(t, caller, subjectAddr, "convertRate()(uint256)", 1)
	c := newClassifier(book, caller)

	tag, err := c.Check(context.Background(), subjectAddr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tag != TagStargateLP {
		t.Fatalf("tag = %q, want %q", tag, TagStargateLP)
	}

	before := caller.CallCount()
	again, err := c.Check(context.Background(), subjectAddr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again != tag {
		t.Fatalf("classification changed: %q != %q", again, tag)
	}
	if caller.CallCount() != before {
		t.Fatalf("cached classification hit the chain")
	}
}

func TestPendleAndReserveClassification(t *testing.T) {
	book := classifierBook()
	book.PendleOracle = anchorAddr
	caller := chaintest.New()
	rtoken := common.HexToAddress("0x7000000000000000000000000000000000000005")

	selector, err := probe.Selector("readTokens()(address,address,address)")
	if err != nil {
		t.Fatalf("selector: %v", err)
	}
	tokens := make([]byte, 96)
	copy(tokens[12:32], anchorAddr.Bytes())
	caller.Set(subjectAddr, selector, tokens)

	setWord(t, caller, rtoken, "main()(address)", 1)
	setWord(t, caller, rtoken, "issuanceAvailable()(uint)", 100)
	setWord(t, caller, rtoken, "redemptionAvailable()(uint)", 100)

	c := newClassifier(book, caller)

	tag, err := c.Check(context.Background(), subjectAddr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tag != TagPendleLP {
		t.Fatalf("tag = %q, want %q", tag, TagPendleLP)
	}

	tag, err = c.Check(context.Background(), rtoken)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tag != TagReserveRToken {
		t.Fatalf("tag = %q, want %q", tag, TagReserveRToken)
	}
}

func TestPendleProbeNeedsOracle(t *testing.T) {
	caller := chaintest.New()
	selector, err := probe.Selector("readTokens()(address,address,address)")
	if err != nil {
		t.Fatalf("selector: %v", err)
	}
	caller.Set(subjectAddr, selector, make([]byte, 96))
	c := newClassifier(classifierBook(), caller)

	tag, err := c.Check(context.Background(), subjectAddr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tag != TagNone {
		t.Fatalf("tag = %q, want none without an oracle", tag)
	}
}

func TestUnmatchedTokenIsNoneAndCached(t *testing.T) {
	book := classifierBook()
	caller := chaintest.New()
	c := newClassifier(book, caller)

	tag, err := c.Check(context.Background(), subjectAddr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tag != TagNone {
		t.Fatalf("tag = %q, want none", tag)
	}

	before := caller.CallCount()
	if _, err := c.Check(context.Background(), subjectAddr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if caller.CallCount() != before {
		t.Fatalf("negative classification was not cached")
	}
}
