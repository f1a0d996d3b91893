package uniswap

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"pricescope/internal/chain/chaintest"
	"pricescope/internal/model"
	"pricescope/internal/netconf"
	"pricescope/internal/probe"
	"pricescope/internal/token"
)

var (
	testTOK  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	testAAA  = common.HexToAddress("0x1000000000000000000000000000000000000002")
	testBBB  = common.HexToAddress("0x1000000000000000000000000000000000000003")
	testUSDC = common.HexToAddress("0x1000000000000000000000000000000000000004")
	poolA    = common.HexToAddress("0x2000000000000000000000000000000000000001")
	poolB    = common.HexToAddress("0x2000000000000000000000000000000000000002")
	poolC    = common.HexToAddress("0x2000000000000000000000000000000000000003")
)

func testBook() *netconf.Book {
	return &netconf.Book{
		ChainID:        1,
		WrappedGasCoin: testAAA,
		USDC:           testUSDC,
		Stablecoins: map[common.Address]string{
			testUSDC: "USDC",
		},
	}
}

func testRouter(t *testing.T, caller *chaintest.Caller) *Router {
	t.Helper()
	book := testBook()
	prober := probe.NewProber(caller, nil)
	tokens := token.NewRegistry(prober, nil)
	fork := netconf.Fork{
		Name:    "uniswap-v2",
		Factory: common.HexToAddress("0x3000000000000000000000000000000000000001"),
		Router:  common.HexToAddress("0x3000000000000000000000000000000000000002"),
	}
	return NewRouter(fork, book, caller, prober, tokens, nil)
}

func seed(r *Router, pools ...model.Pool) {
	r.SeedPools(pools)
}

func setReserves(t *testing.T, caller *chaintest.Caller, pool common.Address, reserve0, reserve1 int64) {
	t.Helper()
	selector, err := probe.Selector("getReserves()")
	if err != nil {
		t.Fatalf("selector: %v", err)
	}
	out := make([]byte, 96)
	big.NewInt(reserve0).FillBytes(out[:32])
	big.NewInt(reserve1).FillBytes(out[32:64])
	caller.Set(pool, selector, out)
}

func poolOf(fork string, pool, token0, token1 common.Address) model.Pool {
	return model.Pool{
		ChainID: 1,
		Fork:    fork,
		Address: pool.Hex(),
		Token0:  token0.Hex(),
		Token1:  token1.Hex(),
	}
}

func TestDeepestPoolPicksLargestReserve(t *testing.T) {
	caller := chaintest.New()
	r := testRouter(t, caller)
	seed(r,
		poolOf("uniswap-v2", poolA, testTOK, testAAA),
		poolOf("uniswap-v2", poolB, testTOK, testUSDC),
	)
	setReserves(t, caller, poolA, 100, 7)
	setReserves(t, caller, poolB, 500, 9)

	pool, paired, reserve, ok, err := r.DeepestPool(context.Background(), testTOK, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected a pool")
	}
	if pool != poolB {
		t.Fatalf("wrong pool: %s", pool.Hex())
	}
	if paired != testUSDC {
		t.Fatalf("wrong paired token: %s", paired.Hex())
	}
	if reserve.Int64() != 500 {
		t.Fatalf("wrong reserve: %s", reserve)
	}
}

func TestDeepestPoolReadsCorrectSide(t *testing.T) {
	caller := chaintest.New()
	r := testRouter(t, caller)
	// TOK is token1 here, so its reserve is the second slot.
	seed(r, poolOf("uniswap-v2", poolA, testAAA, testTOK))
	setReserves(t, caller, poolA, 7, 300)

	_, _, reserve, ok, err := r.DeepestPool(context.Background(), testTOK, nil, nil)
	if err != nil || !ok {
		t.Fatalf("unexpected result: ok=%v err=%v", ok, err)
	}
	if reserve.Int64() != 300 {
		t.Fatalf("wrong reserve: %s", reserve)
	}
}

func TestPathToStablesDirect(t *testing.T) {
	caller := chaintest.New()
	r := testRouter(t, caller)
	seed(r,
		poolOf("uniswap-v2", poolA, testTOK, testAAA),
		poolOf("uniswap-v2", poolB, testTOK, testUSDC),
	)
	setReserves(t, caller, poolA, 100, 7)
	setReserves(t, caller, poolB, 500, 9)

	path, err := r.PathToStables(context.Background(), testTOK, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []common.Address{testTOK, testUSDC}
	if len(path) != len(want) || path[0] != want[0] || path[1] != want[1] {
		t.Fatalf("wrong path: %v", path)
	}
}

func TestPathToStablesThroughHop(t *testing.T) {
	caller := chaintest.New()
	r := testRouter(t, caller)
	// TOK only pairs with AAA; AAA pairs with USDC.
	seed(r,
		poolOf("uniswap-v2", poolA, testTOK, testAAA),
		poolOf("uniswap-v2", poolB, testAAA, testUSDC),
	)
	setReserves(t, caller, poolA, 100, 7)
	setReserves(t, caller, poolB, 900, 9)

	path, err := r.PathToStables(context.Background(), testTOK, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(path) != 3 || path[0] != testTOK || path[1] != testAAA || path[2] != testUSDC {
		t.Fatalf("wrong path: %v", path)
	}
}

func TestPathToStablesCycleFails(t *testing.T) {
	caller := chaintest.New()
	r := testRouter(t, caller)
	// AAA and BBB only pair with each other; there is no way out.
	seed(r, poolOf("uniswap-v2", poolC, testAAA, testBBB))
	setReserves(t, caller, poolC, 50, 60)

	_, err := r.PathToStables(context.Background(), testAAA, nil)
	if !errors.Is(err, ErrNoSwapPath) {
		t.Fatalf("expected ErrNoSwapPath, got %v", err)
	}
}

func TestDiscoveryRecordsFirstSeenBlock(t *testing.T) {
	caller := chaintest.New()
	caller.Head = 50
	data := make([]byte, 64)
	copy(data[12:32], poolA.Bytes())
	caller.Logs = []types.Log{{
		Address:     common.HexToAddress("0x3000000000000000000000000000000000000001"),
		BlockNumber: 42,
		Topics: []common.Hash{
			PairCreatedTopic,
			common.BytesToHash(testTOK.Bytes()),
			common.BytesToHash(testAAA.Bytes()),
		},
		Data: data,
	}}
	r := testRouter(t, caller)

	pools, err := r.Pools(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pools) != 1 {
		t.Fatalf("discovered %d pools, want 1", len(pools))
	}
	if pools[0].FirstSeenBlock != 42 {
		t.Fatalf("first_seen_block = %d, want 42", pools[0].FirstSeenBlock)
	}
}

func TestPathToStablesHopBound(t *testing.T) {
	caller := chaintest.New()
	r := testRouter(t, caller)

	// A linked chain whose only stable pair sits past the hop bound, so the
	// walk must give up on depth rather than pool exhaustion.
	links := make([]common.Address, 13)
	for i := range links {
		links[i] = common.BigToAddress(big.NewInt(int64(0x6100 + i)))
	}
	for i := 0; i < len(links)-1; i++ {
		pool := common.BigToAddress(big.NewInt(int64(0x6200 + i)))
		seed(r, poolOf("uniswap-v2", pool, links[i], links[i+1]))
		setReserves(t, caller, pool, 1000, 1000)
	}
	tail := common.BigToAddress(big.NewInt(0x6300))
	seed(r, poolOf("uniswap-v2", tail, links[len(links)-1], testUSDC))
	setReserves(t, caller, tail, 1000, 1000)

	_, err := r.PathToStables(context.Background(), links[0], nil)
	if !errors.Is(err, ErrNoSwapPath) {
		t.Fatalf("expected ErrNoSwapPath, got %v", err)
	}
}

func TestPriceStablecoinIsOne(t *testing.T) {
	caller := chaintest.New()
	r := testRouter(t, caller)
	seed(r)

	price, ok, err := r.Price(context.Background(), testUSDC, nil, nil)
	if err != nil || !ok {
		t.Fatalf("unexpected result: ok=%v err=%v", ok, err)
	}
	if price != 1 {
		t.Fatalf("stablecoin price = %v", price)
	}
}
