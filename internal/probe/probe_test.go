package probe

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"pricescope/internal/chain/chaintest"
)

var probeTarget = common.HexToAddress("0x5000000000000000000000000000000000000001")

func word(v int64) []byte {
	out := make([]byte, 32)
	big.NewInt(v).FillBytes(out)
	return out
}

func set(t *testing.T, caller *chaintest.Caller, sig string, out []byte) {
	t.Helper()
	selector, err := Selector(sig)
	if err != nil {
		t.Fatalf("selector %s: %v", sig, err)
	}
	caller.Set(probeTarget, selector, out)
}

func TestHasMethod(t *testing.T) {
	caller := chaintest.New()
	set(t, caller, "decimals()(uint8)", word(18))
	p := NewProber(caller, nil)

	ok, err := p.HasMethod(context.Background(), probeTarget, "decimals()(uint8)", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected method present")
	}

	ok, err = p.HasMethod(context.Background(), probeTarget, "symbol()(string)", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("reverting method reported present")
	}
}

func TestHasMethodEmptyReturnIsAbsent(t *testing.T) {
	caller := chaintest.New()
	set(t, caller, "decimals()(uint8)", nil)
	p := NewProber(caller, nil)

	ok, err := p.HasMethod(context.Background(), probeTarget, "decimals()(uint8)", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("empty return reported present")
	}
}

func TestHasMethodsRequiresAll(t *testing.T) {
	caller := chaintest.New()
	set(t, caller, "token0()(address)", word(1))
	set(t, caller, "token1()(address)", word(2))
	p := NewProber(caller, nil)

	ok, err := p.HasMethods(context.Background(), probeTarget, []string{"token0()(address)", "token1()(address)"}, nil)
	if err != nil || !ok {
		t.Fatalf("expected all present: ok=%v err=%v", ok, err)
	}

	ok, err = p.HasMethods(context.Background(), probeTarget, []string{"token0()(address)", "factory()(address)"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("missing method not detected")
	}
}

func TestHasAnyMethodReturnsFirstMatch(t *testing.T) {
	caller := chaintest.New()
	set(t, caller, "getPricePerShare()(uint256)", word(1))
	set(t, caller, "exchangeRate()(uint256)", word(2))
	p := NewProber(caller, nil)

	sig, err := p.HasAnyMethod(context.Background(), probeTarget, []string{
		"pricePerShare()(uint256)",
		"getPricePerShare()(uint256)",
		"exchangeRate()(uint256)",
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig != "getPricePerShare()(uint256)" {
		t.Fatalf("wrong signature: %q", sig)
	}

	sig, err = p.HasAnyMethod(context.Background(), probeTarget, []string{"name()(string)"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig != "" {
		t.Fatalf("expected no match, got %q", sig)
	}
}

func TestCallUintAndAddress(t *testing.T) {
	caller := chaintest.New()
	set(t, caller, "totalSupply()(uint)", word(12345))
	want := common.HexToAddress("0x5000000000000000000000000000000000000099")
	out := make([]byte, 32)
	copy(out[12:], want.Bytes())
	set(t, caller, "factory()(address)", out)
	p := NewProber(caller, nil)

	supply, err := p.CallUint(context.Background(), probeTarget, "totalSupply()(uint)", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if supply.Int64() != 12345 {
		t.Fatalf("supply = %s", supply)
	}

	factory, err := p.CallAddress(context.Background(), probeTarget, "factory()(address)", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if factory != want {
		t.Fatalf("factory = %s", factory.Hex())
	}

	// Reverts surface as nil value, not error.
	missing, err := p.CallUint(context.Background(), probeTarget, "absent()(uint)", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for reverting call")
	}
}
