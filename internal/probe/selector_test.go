package probe

import (
	"encoding/hex"
	"testing"
)

func TestSelectorKnownValues(t *testing.T) {
	cases := []struct {
		sig  string
		want string
	}{
		{"decimals()(uint8)", "313ce567"},
		{"totalSupply()(uint)", "18160ddd"},
		{"balanceOf(address)(uint)", "70a08231"},
		{"transfer(address,uint)(bool)", "a9059cbb"},
	}
	for _, tc := range cases {
		got, err := Selector(tc.sig)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.sig, err)
		}
		if hex.EncodeToString(got) != tc.want {
			t.Fatalf("%s: selector %x, want %s", tc.sig, got, tc.want)
		}
	}
}

func TestSelectorNormalizesShorthand(t *testing.T) {
	short, err := Selector("balanceOf(address)(uint)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	long, err := Selector("balanceOf(address)(uint256)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(short) != string(long) {
		t.Fatalf("shorthand selector differs: %x != %x", short, long)
	}
}

func TestSelectorIgnoresReturnShape(t *testing.T) {
	bare, err := Selector("getReserves()")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tupled, err := Selector("getReserves()((uint112,uint112,uint32))")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(bare) != string(tupled) {
		t.Fatalf("return shape changed the selector: %x != %x", bare, tupled)
	}
}

func TestSelectorMalformed(t *testing.T) {
	for _, sig := range []string{"", "decimals", "(uint)"} {
		if _, err := Selector(sig); err == nil {
			t.Fatalf("expected error for %q", sig)
		}
	}
}
