package convert

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/puzpuzpuz/xsync/v4"
)

// ErrInvalidAddress is returned for inputs that cannot be interpreted as an
// EVM address. It always propagates to the caller.
var ErrInvalidAddress = errors.New("invalid address")

// checksum computation is the expensive part of normalization, so results are
// memoized keyed on the raw input's string form. The cache is size-bounded to
// keep long-running batch jobs from growing it without limit.
const memoLimit = 65536

var memo = xsync.NewMap[string, common.Address]()

// Addressable is anything carrying its own address, e.g. a contract handle.
type Addressable interface {
	Address() common.Address
}

// ToAddress normalizes a heterogeneous address representation to the
// canonical common.Address form. Accepted inputs: common.Address, checksummed
// or lowercase hex string (0x-prefixed or bare), *big.Int / integers, and
// Addressable contract handles.
func ToAddress(value any) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		if v == nil {
			return common.Address{}, fmt.Errorf("%w: nil address pointer", ErrInvalidAddress)
		}
		return *v, nil
	case Addressable:
		return v.Address(), nil
	case string:
		return fromString(v)
	case *big.Int:
		if v == nil {
			return common.Address{}, fmt.Errorf("%w: nil big.Int", ErrInvalidAddress)
		}
		return fromBig(v)
	case int:
		return fromBig(big.NewInt(int64(v)))
	case int64:
		return fromBig(big.NewInt(v))
	case uint64:
		return fromBig(new(big.Int).SetUint64(v))
	default:
		return common.Address{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidAddress, value)
	}
}

func fromString(raw string) (common.Address, error) {
	if addr, ok := memo.Load(raw); ok {
		return addr, nil
	}

	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	if len(s) != common.AddressLength*2 {
		return common.Address{}, fmt.Errorf("%w: wrong length %q", ErrInvalidAddress, raw)
	}
	for _, r := range s {
		if !isHexDigit(r) {
			return common.Address{}, fmt.Errorf("%w: non-hex character in %q", ErrInvalidAddress, raw)
		}
	}

	addr := common.HexToAddress(s)
	if memo.Size() < memoLimit {
		memo.Store(raw, addr)
	}
	return addr, nil
}

func fromBig(v *big.Int) (common.Address, error) {
	if v.Sign() < 0 || v.BitLen() > common.AddressLength*8 {
		return common.Address{}, fmt.Errorf("%w: integer out of address range", ErrInvalidAddress)
	}
	return common.BigToAddress(v), nil
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
