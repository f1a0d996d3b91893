package probe

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Selector computes the 4-byte function selector for a signature written in
// the short form used throughout the per-protocol tables, e.g.
// "pricePerShare()(uint)" or "balanceOf(address)(uint)". The return-type
// suffix is ignored; shorthand integer types are normalized before hashing.
func Selector(sig string) ([]byte, error) {
	end := strings.IndexByte(sig, ')')
	if end < 0 {
		return nil, fmt.Errorf("malformed signature %q", sig)
	}
	canonical := sig[:end+1]

	open := strings.IndexByte(canonical, '(')
	if open <= 0 {
		return nil, fmt.Errorf("malformed signature %q", sig)
	}

	name := canonical[:open]
	args := canonical[open+1 : end]
	if args != "" {
		parts := strings.Split(args, ",")
		for i, part := range parts {
			parts[i] = normalizeType(strings.TrimSpace(part))
		}
		args = strings.Join(parts, ",")
	}

	hash := crypto.Keccak256([]byte(name + "(" + args + ")"))
	return hash[:4], nil
}

func normalizeType(t string) string {
	switch t {
	case "uint":
		return "uint256"
	case "int":
		return "int256"
	case "uint[]":
		return "uint256[]"
	case "int[]":
		return "int256[]"
	default:
		return t
	}
}
