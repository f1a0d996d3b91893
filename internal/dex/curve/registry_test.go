package curve

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"pricescope/internal/chain/chaintest"
	"pricescope/internal/netconf"
	"pricescope/internal/probe"
	"pricescope/internal/token"
)

var (
	provider   = common.HexToAddress("0x7000000000000000000000000000000000000001")
	onchainReg = common.HexToAddress("0x7000000000000000000000000000000000000002")
	swapPool   = common.HexToAddress("0x7000000000000000000000000000000000000003")
	lpToken    = common.HexToAddress("0x7000000000000000000000000000000000000004")
	coinDAI    = common.HexToAddress("0x7000000000000000000000000000000000000011")
	coinUSDC   = common.HexToAddress("0x7000000000000000000000000000000000000012")
)

type fixedOracle map[common.Address]float64

func (o fixedOracle) TokenPrice(_ context.Context, tok common.Address, _ *big.Int) (float64, bool, error) {
	price, ok := o[tok]
	return price, ok, nil
}

func uintWord(v *big.Int) []byte {
	out := make([]byte, 32)
	v.FillBytes(out)
	return out
}

func addressWord(a common.Address) []byte {
	out := make([]byte, 32)
	copy(out[12:], a.Bytes())
	return out
}

func mustSelector(t *testing.T, sig string) []byte {
	t.Helper()
	selector, err := probe.Selector(sig)
	if err != nil {
		t.Fatalf("selector %s: %v", sig, err)
	}
	return selector
}

func e18(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func testBook() *netconf.Book {
	return &netconf.Book{
		ChainID: 1,
		Stablecoins: map[common.Address]string{
			coinDAI:  "DAI",
			coinUSDC: "USDC",
		},
		CurveAddressProvider: provider,
	}
}

// testRegistry wires a registry over a stub chain holding one two-coin pool
// discovered through the address provider.
func testRegistry(t *testing.T) (*Registry, *chaintest.Caller) {
	t.Helper()
	caller := chaintest.New()
	caller.Head = addressProviderDeployBlock + 1000

	caller.Logs = append(caller.Logs,
		types.Log{
			Address:     provider,
			BlockNumber: addressProviderDeployBlock + 1,
			Topics:      []common.Hash{newAddressIdentifierTopic, common.BigToHash(big.NewInt(0))},
			Data:        addressWord(onchainReg),
		},
		types.Log{
			Address:     onchainReg,
			BlockNumber: addressProviderDeployBlock + 2,
			Topics:      []common.Hash{poolAddedTopic, common.BytesToHash(swapPool.Bytes())},
		},
	)

	caller.Set(onchainReg, mustSelector(t, "get_lp_token(address)(address)"), addressWord(lpToken))
	coins := make([]byte, 0, 8*32)
	coins = append(coins, addressWord(coinDAI)...)
	coins = append(coins, addressWord(coinUSDC)...)
	coins = append(coins, make([]byte, 6*32)...)
	caller.Set(onchainReg, mustSelector(t, "get_coins(address)(address[8])"), coins)

	caller.Set(coinDAI, mustSelector(t, "decimals()(uint8)"), uintWord(big.NewInt(18)))
	caller.Set(coinUSDC, mustSelector(t, "decimals()(uint8)"), uintWord(big.NewInt(6)))
	caller.Set(coinDAI, mustSelector(t, "balanceOf(address)(uint)"), uintWord(e18(100)))
	caller.Set(coinUSDC, mustSelector(t, "balanceOf(address)(uint)"), uintWord(big.NewInt(100_000_000)))

	caller.Set(lpToken, mustSelector(t, "totalSupply()(uint)"), uintWord(e18(100)))
	caller.Set(lpToken, mustSelector(t, "decimals()(uint8)"), uintWord(big.NewInt(18)))

	prober := probe.NewProber(caller, nil)
	tokens := token.NewRegistry(prober, nil)
	return NewRegistry(testBook(), caller, prober, tokens, nil), caller
}

func TestHasLPBuildsFromProviderReplay(t *testing.T) {
	r, _ := testRegistry(t)

	ok, err := r.HasLP(context.Background(), lpToken)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("lp token not indexed")
	}

	ok, err = r.HasLP(context.Background(), swapPool)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("swap pool misread as lp token")
	}
}

func TestLPPriceIsTVLOverSupply(t *testing.T) {
	r, _ := testRegistry(t)
	oracle := fixedOracle{coinDAI: 1.0, coinUSDC: 1.0}

	// 100 DAI + 100 USDC over 100 LP = 2.0 per share
	price, ok, err := r.LPPrice(context.Background(), lpToken, nil, oracle)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected a price")
	}
	if price != 2.0 {
		t.Fatalf("lp price = %v, want 2.0", price)
	}
}

func TestVirtualPrice(t *testing.T) {
	r, caller := testRegistry(t)
	vp := new(big.Int).Add(e18(1), big.NewInt(20_000_000_000_000_000))
	caller.Set(swapPool, mustSelector(t, "get_virtual_price()(uint)"), uintWord(vp))

	got, ok, err := r.VirtualPrice(context.Background(), lpToken, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected a virtual price")
	}
	if got != 1.02 {
		t.Fatalf("virtual price = %v, want 1.02", got)
	}
}

func TestPriceForUnderlyingQuotesOtherCoin(t *testing.T) {
	r, caller := testRegistry(t)
	// selling 1 DAI returns 0.999 USDC
	caller.Set(swapPool, mustSelector(t, "get_dy(int128,int128,uint256)(uint256)"), uintWord(big.NewInt(999_000)))
	oracle := fixedOracle{coinUSDC: 1.0}

	price, ok, err := r.PriceForUnderlying(context.Background(), coinDAI, nil, oracle)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected a price")
	}
	if price != 0.999 {
		t.Fatalf("price = %v, want 0.999", price)
	}
}
