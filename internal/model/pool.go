package model

// Pool is a discovered constant-product pool, as persisted in the snapshot
// store and preloaded into DEX registries.
type Pool struct {
	ChainID        uint64 `json:"chain_id"`
	Fork           string `json:"fork"`
	Address        string `json:"address"`
	Token0         string `json:"token0"`
	Token1         string `json:"token1"`
	FirstSeenBlock uint64 `json:"first_seen_block"`
}
