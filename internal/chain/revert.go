package chain

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// revert markers seen across providers and forked node implementations
var revertMarkers = []string{
	"execution reverted",
	"invalid opcode",
	"invalid jump destination",
	"out of gas",
	"stack limit reached",
	"gas uint64 overflow",
}

// IsRevert reports whether err represents the target contract rejecting the
// call, as opposed to a transport or node failure. Capability probes treat
// reverts as "method not implemented".
func IsRevert(err error) bool {
	if err == nil {
		return false
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range revertMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
