package token

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"pricescope/internal/chain/chaintest"
	"pricescope/internal/probe"
)

var (
	standardToken = common.HexToAddress("0x6000000000000000000000000000000000000001")
	shoutyToken   = common.HexToAddress("0x6000000000000000000000000000000000000002")
	getterToken   = common.HexToAddress("0x6000000000000000000000000000000000000003")
	brokenToken   = common.HexToAddress("0x6000000000000000000000000000000000000004")
)

func word(v int64) []byte {
	out := make([]byte, 32)
	big.NewInt(v).FillBytes(out)
	return out
}

func set(t *testing.T, caller *chaintest.Caller, tok common.Address, sig string, out []byte) {
	t.Helper()
	selector, err := probe.Selector(sig)
	if err != nil {
		t.Fatalf("selector %s: %v", sig, err)
	}
	caller.Set(tok, selector, out)
}

func newRegistry(caller *chaintest.Caller) *Registry {
	return NewRegistry(probe.NewProber(caller, nil), nil)
}

func TestDecimalsFallbackLadder(t *testing.T) {
	caller := chaintest.New()
	set(t, caller, standardToken, "decimals()(uint8)", word(18))
	set(t, caller, shoutyToken, "DECIMALS()(uint8)", word(8))
	set(t, caller, getterToken, "getDecimals()(uint8)", word(6))
	r := newRegistry(caller)

	cases := []struct {
		tok  common.Address
		want uint8
	}{
		{standardToken, 18},
		{shoutyToken, 8},
		{getterToken, 6},
	}
	for _, tc := range cases {
		got, err := r.Decimals(context.Background(), tc.tok, nil)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.tok.Hex(), err)
		}
		if got != tc.want {
			t.Fatalf("%s: decimals = %d, want %d", tc.tok.Hex(), got, tc.want)
		}
	}
}

func TestDecimalsNonStandard(t *testing.T) {
	caller := chaintest.New()
	r := newRegistry(caller)

	_, err := r.Decimals(context.Background(), brokenToken, nil)
	if !errors.Is(err, ErrNonStandardToken) {
		t.Fatalf("expected ErrNonStandardToken, got %v", err)
	}

	decimals, err := r.DecimalsOrNone(context.Background(), brokenToken, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decimals != nil {
		t.Fatalf("expected nil decimals, got %d", *decimals)
	}
}

func TestDecimalsImplausibleValueKeepsWalking(t *testing.T) {
	caller := chaintest.New()
	// decimals() answers, but with garbage; DECIMALS() has the real value.
	set(t, caller, standardToken, "decimals()(uint8)", word(4096))
	set(t, caller, standardToken, "DECIMALS()(uint8)", word(9))
	r := newRegistry(caller)

	got, err := r.Decimals(context.Background(), standardToken, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 9 {
		t.Fatalf("decimals = %d, want 9", got)
	}
}

func TestDecimalsCached(t *testing.T) {
	caller := chaintest.New()
	set(t, caller, standardToken, "decimals()(uint8)", word(18))
	r := newRegistry(caller)

	if _, err := r.Decimals(context.Background(), standardToken, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := caller.CallCount()
	if _, err := r.Decimals(context.Background(), standardToken, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if caller.CallCount() != before {
		t.Fatalf("second Decimals hit the chain")
	}
}

func TestBatchDecimalsOrderAndFallback(t *testing.T) {
	caller := chaintest.New()
	set(t, caller, standardToken, "decimals()(uint8)", word(18))
	set(t, caller, shoutyToken, "DECIMALS()(uint8)", word(8))
	r := newRegistry(caller)

	got, err := r.BatchDecimals(context.Background(), caller,
		[]common.Address{standardToken, brokenToken, shoutyToken}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("result length = %d", len(got))
	}
	if got[0] == nil || *got[0] != 18 {
		t.Fatalf("entry 0 = %v", got[0])
	}
	if got[1] != nil {
		t.Fatalf("broken token resolved to %d", *got[1])
	}
	if got[2] == nil || *got[2] != 8 {
		t.Fatalf("entry 2 = %v", got[2])
	}
}

func TestReadable(t *testing.T) {
	if got := Readable(big.NewInt(1_500_000), 6); got != 1.5 {
		t.Fatalf("Readable = %v, want 1.5", got)
	}
	if got := Readable(nil, 18); got != 0 {
		t.Fatalf("Readable(nil) = %v, want 0", got)
	}
	if got := Readable(big.NewInt(42), 0); got != 42 {
		t.Fatalf("Readable zero decimals = %v, want 42", got)
	}
}

func TestSymbolBytes32Fallback(t *testing.T) {
	caller := chaintest.New()
	raw := make([]byte, 32)
	copy(raw, "MKR")
	set(t, caller, standardToken, "symbol()(string)", raw)
	r := newRegistry(caller)

	if got := r.Symbol(context.Background(), standardToken, nil); got != "MKR" {
		t.Fatalf("symbol = %q", got)
	}
}

func TestNameStringShape(t *testing.T) {
	caller := chaintest.New()
	out := make([]byte, 96)
	out[31] = 0x20
	out[63] = 5
	copy(out[64:], "Maker")
	set(t, caller, standardToken, "name()(string)", out)
	r := newRegistry(caller)

	if got := r.Name(context.Background(), standardToken, nil); got != "Maker" {
		t.Fatalf("name = %q", got)
	}
}
