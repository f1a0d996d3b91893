// Package curve tracks stable-swap pools discovered through the on-chain
// address provider and prices their LP tokens by TVL over supply.
package curve

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"pricescope/internal/chain"
	"pricescope/internal/netconf"
	"pricescope/internal/probe"
	"pricescope/internal/token"
)

// ErrUnsupportedNetwork means the chain has no known address-provider
// deployment. The registry stays usable as an inert stand-in: every query
// answers "not found".
var ErrUnsupportedNetwork = errors.New("unsupported network")

var (
	newAddressIdentifierTopic = crypto.Keccak256Hash([]byte("NewAddressIdentifier(uint256,address,string)"))
	addressModifiedTopic      = crypto.Keccak256Hash([]byte("AddressModified(uint256,address,uint256)"))
	poolAddedTopic            = crypto.Keccak256Hash([]byte("PoolAdded(address,bytes)"))
)

// metapoolFactoryID is the address-provider identifier of the pool factory.
const metapoolFactoryID = 3

const logBatchSize = 100_000

// addressProviderDeployBlock is shared by every deployment; the provider
// lives at the same vanity address on every supported chain.
const addressProviderDeployBlock = 11153725

type poolEntry struct {
	pool    common.Address
	lpToken common.Address
	factory bool
	coins   []common.Address
}

// Registry is the curve-style pool index for one chain.
type Registry struct {
	book   *netconf.Book
	caller chain.Caller
	prober *probe.Prober
	tokens *token.Registry
	logger *zap.Logger

	buildGroup singleflight.Group
	mu         sync.RWMutex
	built      bool
	byLP       map[common.Address]*poolEntry
	byCoin     map[common.Address][]*poolEntry
}

// NewRegistry builds the registry; inert when the book has no provider.
func NewRegistry(book *netconf.Book, caller chain.Caller, prober *probe.Prober, tokens *token.Registry, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		book:   book,
		caller: caller,
		prober: prober,
		tokens: tokens,
		logger: logger,
		byLP:   make(map[common.Address]*poolEntry),
		byCoin: make(map[common.Address][]*poolEntry),
	}
}

// Supported reports whether the chain has a provider deployment.
func (r *Registry) Supported() bool {
	return r.book.CurveAddressProvider != (common.Address{})
}

func (r *Registry) ensureIndex(ctx context.Context) error {
	if !r.Supported() {
		return nil
	}
	r.mu.RLock()
	built := r.built
	r.mu.RUnlock()
	if built {
		return nil
	}

	_, err, _ := r.buildGroup.Do("index", func() (any, error) {
		r.mu.RLock()
		built := r.built
		r.mu.RUnlock()
		if built {
			return nil, nil
		}
		return nil, r.build(ctx)
	})
	return err
}

func (r *Registry) build(ctx context.Context) error {
	latest, err := r.caller.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("latest block: %w", err)
	}

	registry, factory, err := r.resolveProviderAddresses(ctx, latest)
	if err != nil {
		return err
	}

	entries := make([]*poolEntry, 0)
	if registry != (common.Address{}) {
		regEntries, err := r.replayRegistryPools(ctx, registry, latest)
		if err != nil {
			return err
		}
		entries = append(entries, regEntries...)
	}
	if factory != (common.Address{}) {
		facEntries, err := r.listFactoryPools(ctx, factory)
		if err != nil {
			return err
		}
		entries = append(entries, facEntries...)
	}

	r.mu.Lock()
	for _, entry := range entries {
		r.byLP[entry.lpToken] = entry
		for _, coin := range entry.coins {
			r.byCoin[coin] = append(r.byCoin[coin], entry)
		}
	}
	r.built = true
	count := len(r.byLP)
	r.mu.Unlock()

	r.logger.Info("curve pool index built", zap.Int("pools", count))
	return nil
}

// resolveProviderAddresses replays the provider's identifier events and
// returns the active registry and metapool factory.
func (r *Registry) resolveProviderAddresses(ctx context.Context, latest uint64) (registry, factory common.Address, err error) {
	logs, err := chain.GetLogs(ctx, r.caller,
		[]common.Address{r.book.CurveAddressProvider},
		[][]common.Hash{{newAddressIdentifierTopic, addressModifiedTopic}},
		addressProviderDeployBlock, latest, logBatchSize, r.logger)
	if err != nil {
		return common.Address{}, common.Address{}, fmt.Errorf("replay address provider: %w", err)
	}

	// last write wins per identifier
	byID := make(map[uint64]common.Address)
	for _, log := range logs {
		if len(log.Topics) != 2 || len(log.Data) < 32 {
			continue
		}
		id := log.Topics[1].Big().Uint64()
		byID[id] = common.BytesToAddress(log.Data[12:32])
	}
	return byID[0], byID[metapoolFactoryID], nil
}

// replayRegistryPools replays PoolAdded and resolves each pool's LP token and
// coin list through batched registry reads.
func (r *Registry) replayRegistryPools(ctx context.Context, registry common.Address, latest uint64) ([]*poolEntry, error) {
	logs, err := chain.GetLogs(ctx, r.caller,
		[]common.Address{registry},
		[][]common.Hash{{poolAddedTopic}},
		addressProviderDeployBlock, latest, logBatchSize, r.logger)
	if err != nil {
		return nil, fmt.Errorf("replay pool added: %w", err)
	}

	seen := make(map[common.Address]bool)
	pools := make([]common.Address, 0, len(logs))
	for _, log := range logs {
		if len(log.Topics) != 2 {
			continue
		}
		pool := common.BytesToAddress(log.Topics[1].Bytes()[12:])
		if !seen[pool] {
			seen[pool] = true
			pools = append(pools, pool)
		}
	}
	if len(pools) == 0 {
		return nil, nil
	}

	lpTokens, err := r.batchAddressFor(ctx, registry, "get_lp_token(address)(address)", pools)
	if err != nil {
		return nil, err
	}
	coinLists, err := r.batchCoinsFor(ctx, registry, "get_coins(address)(address[8])", pools)
	if err != nil {
		return nil, err
	}

	entries := make([]*poolEntry, 0, len(pools))
	for i, pool := range pools {
		if lpTokens[i] == (common.Address{}) {
			continue
		}
		entries = append(entries, &poolEntry{
			pool:    pool,
			lpToken: lpTokens[i],
			coins:   coinLists[i],
		})
	}
	return entries, nil
}

// listFactoryPools walks the factory's pool list via a cached
// pool_count/pool_list multicall. Factory pools are their own LP token.
func (r *Registry) listFactoryPools(ctx context.Context, factory common.Address) ([]*poolEntry, error) {
	count, err := r.prober.CallUint(ctx, factory, "pool_count()(uint)", nil)
	if err != nil || count == nil || !count.IsInt64() {
		return nil, err
	}
	n := count.Int64()
	if n == 0 {
		return nil, nil
	}

	selector, err := probe.Selector("pool_list(uint256)(address)")
	if err != nil {
		return nil, err
	}
	msgs := make([]ethereum.CallMsg, n)
	for i := int64(0); i < n; i++ {
		target := factory
		msgs[i] = ethereum.CallMsg{To: &target, Data: probe.PackArgs(selector, big.NewInt(i).Bytes())}
	}
	batch, err := r.caller.BatchCallContract(ctx, msgs, nil)
	if err != nil {
		return nil, err
	}

	pools := make([]common.Address, 0, n)
	for _, res := range batch {
		if res.Err != nil || len(res.Output) < 32 {
			continue
		}
		pools = append(pools, common.BytesToAddress(res.Output[12:32]))
	}

	coinLists, err := r.batchCoinsFor(ctx, factory, "get_coins(address)(address[4])", pools)
	if err != nil {
		return nil, err
	}

	entries := make([]*poolEntry, 0, len(pools))
	for i, pool := range pools {
		entries = append(entries, &poolEntry{
			pool:    pool,
			lpToken: pool,
			factory: true,
			coins:   coinLists[i],
		})
	}
	return entries, nil
}

func (r *Registry) batchAddressFor(ctx context.Context, target common.Address, sig string, pools []common.Address) ([]common.Address, error) {
	selector, err := probe.Selector(sig)
	if err != nil {
		return nil, err
	}
	msgs := make([]ethereum.CallMsg, len(pools))
	for i, pool := range pools {
		t := target
		msgs[i] = ethereum.CallMsg{To: &t, Data: probe.PackArgs(selector, pool.Bytes())}
	}
	batch, err := r.caller.BatchCallContract(ctx, msgs, nil)
	if err != nil {
		return nil, err
	}

	out := make([]common.Address, len(pools))
	for i, res := range batch {
		if res.Err != nil || len(res.Output) < 32 {
			continue
		}
		out[i] = common.BytesToAddress(res.Output[12:32])
	}
	return out, nil
}

// batchCoinsFor reads fixed-size coin arrays, trimming the zero tail.
func (r *Registry) batchCoinsFor(ctx context.Context, target common.Address, sig string, pools []common.Address) ([][]common.Address, error) {
	selector, err := probe.Selector(sig)
	if err != nil {
		return nil, err
	}
	msgs := make([]ethereum.CallMsg, len(pools))
	for i, pool := range pools {
		t := target
		msgs[i] = ethereum.CallMsg{To: &t, Data: probe.PackArgs(selector, pool.Bytes())}
	}
	batch, err := r.caller.BatchCallContract(ctx, msgs, nil)
	if err != nil {
		return nil, err
	}

	out := make([][]common.Address, len(pools))
	for i, res := range batch {
		if res.Err != nil {
			continue
		}
		coins := make([]common.Address, 0, 4)
		for off := 0; off+32 <= len(res.Output); off += 32 {
			coin := common.BytesToAddress(res.Output[off+12 : off+32])
			if coin == (common.Address{}) {
				break
			}
			coins = append(coins, coin)
		}
		out[i] = coins
	}
	return out, nil
}
