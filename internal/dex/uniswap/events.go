package uniswap

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// PairCreatedTopic is the topic0 of the factory's pair-creation event, shared
// by every known fork.
var PairCreatedTopic = crypto.Keccak256Hash([]byte("PairCreated(address,address,address,uint256)"))

// pairCreated decodes a PairCreated log into its parts.
func pairCreated(topics []common.Hash, data []byte) (token0, token1, pair common.Address, ok bool) {
	if len(topics) != 3 || len(data) < 32 {
		return common.Address{}, common.Address{}, common.Address{}, false
	}
	token0 = common.BytesToAddress(topics[1].Bytes()[12:])
	token1 = common.BytesToAddress(topics[2].Bytes()[12:])
	pair = common.BytesToAddress(data[12:32])
	return token0, token1, pair, true
}
