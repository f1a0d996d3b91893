// Package netconf holds the per-chain table of well-known contract addresses.
// The table is configuration data injected into components at construction
// time; nothing in the pricing core reaches for package-level globals, so the
// whole system can run against synthetic books in tests.
package netconf

import "github.com/ethereum/go-ethereum/common"

// Fork identifies one constant-product DEX deployment.
type Fork struct {
	Name        string
	Factory     common.Address
	Router      common.Address
	DeployBlock uint64
}

// Vault identifies one Balancer-v2-style vault deployment.
type Vault struct {
	Address     common.Address
	DeployBlock uint64
}

// Book is the address book for one chain. Zero-value fields mean the protocol
// has no known deployment on the chain; every consumer treats an absent entry
// as "never matches", not as an error.
type Book struct {
	ChainID        uint64
	WrappedGasCoin common.Address

	// Stablecoins maps address to symbol. Members price at exactly 1.0 and
	// never enter bucket classification.
	Stablecoins map[common.Address]string

	USDC common.Address
	WETH common.Address
	DAI  common.Address
	WBTC common.Address

	UniswapForks []Fork

	BalancerV1ExchangeProxy common.Address
	BalancerV2Vaults        []Vault

	CurveAddressProvider common.Address

	// ChainlinkFeeds is the static asset -> USD feed table; the registry,
	// when deployed, supplements it via FeedConfirmed replay.
	ChainlinkFeeds               map[common.Address]common.Address
	ChainlinkRegistry            common.Address
	ChainlinkRegistryDeployBlock uint64

	SynthetixExchangeRates common.Address

	// Comptrollers lists compound-style unitrollers (Compound, Cream,
	// Iron Bank) whose market lists seed the lending registry.
	Comptrollers []common.Address

	ConvexBooster    common.Address
	GearboxRegister  common.Address
	MooniswapFactory common.Address

	// PendleOracle quotes pendle market LP tokens in their SY accounting
	// asset; the pendle probe only runs where the oracle is deployed.
	PendleOracle common.Address

	KP3R   common.Address
	RKP3R  common.Address
	WstETH common.Address
	StETH  common.Address
	CrETH2 common.Address

	// OneToOne maps tokens that always price identically to another token,
	// e.g. staked governance wrappers.
	OneToOne map[common.Address]common.Address

	// Curve-style pools tracked by static allowlist on chains where the
	// protocol has no registry (belt, froyo, ellipsis, saddle). Maps LP
	// token -> swap pool.
	BeltLPs     map[common.Address]common.Address
	FroyoLPs    map[common.Address]common.Address
	EllipsisLPs map[common.Address]common.Address
	SaddleLPs   map[common.Address]common.Address

	// SolidexEnabled gates the solidex-deposit probe; the wrapper only
	// exists on chains where the protocol deployed.
	SolidexEnabled bool

	// LegacyPools maps a small allowlist of tokens that predate reliable
	// probing to the bucket tag they belong to.
	LegacyPools map[common.Address]string
}

// HasStablecoin reports whether token is in the chain's stablecoin table.
func (b *Book) HasStablecoin(token common.Address) bool {
	_, ok := b.Stablecoins[token]
	return ok
}

// ForChain returns the address book for the chain id. Unknown chains get an
// inert book: classification still runs, but every registry-backed predicate
// sees an absent registry.
func ForChain(id uint64) *Book {
	switch id {
	case 1:
		return Mainnet()
	default:
		return &Book{ChainID: id, Stablecoins: map[common.Address]string{}}
	}
}
