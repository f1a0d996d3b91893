package balancer

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
	"pricescope/internal/dex"
	"pricescope/internal/netconf"
	"pricescope/internal/probe"
	"pricescope/internal/token"
)

// PoolRegisteredTopic is the vault's pool-registration event.
var PoolRegisteredTopic = crypto.Keccak256Hash([]byte("PoolRegistered(bytes32,address,uint8)"))

const v2LogBatchSize = 100_000

type v2Pool struct {
	id             common.Hash
	address        common.Address
	specialization uint8
}

// Vault indexes one v2 vault's pools via registration-event replay.
type Vault struct {
	address     common.Address
	deployBlock uint64
	book        *netconf.Book
	caller      chain.Caller
	prober      *probe.Prober
	tokens      *token.Registry
	logger      *zap.Logger

	buildGroup singleflight.Group
	mu         sync.RWMutex
	built      bool
	pools      []v2Pool
	byAddress  map[common.Address]v2Pool
}

// NewVault builds an (unindexed) vault surface.
func NewVault(cfg netconf.Vault, book *netconf.Book, caller chain.Caller, prober *probe.Prober, tokens *token.Registry, logger *zap.Logger) *Vault {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Vault{
		address:     cfg.Address,
		deployBlock: cfg.DeployBlock,
		book:        book,
		caller:      caller,
		prober:      prober,
		tokens:      tokens,
		logger:      logger.With(zap.String("vault", cfg.Address.Hex())),
		byAddress:   make(map[common.Address]v2Pool),
	}
}

func (v *Vault) ensureIndex(ctx context.Context) error {
	v.mu.RLock()
	built := v.built
	v.mu.RUnlock()
	if built {
		return nil
	}

	_, err, _ := v.buildGroup.Do("index", func() (any, error) {
		v.mu.RLock()
		built := v.built
		v.mu.RUnlock()
		if built {
			return nil, nil
		}

		latest, err := v.caller.BlockNumber(ctx)
		if err != nil {
			return nil, fmt.Errorf("latest block: %w", err)
		}
		logs, err := chain.GetLogs(ctx, v.caller,
			[]common.Address{v.address},
			[][]common.Hash{{PoolRegisteredTopic}},
			v.deployBlock, latest, v2LogBatchSize, v.logger)
		if err != nil {
			return nil, fmt.Errorf("replay pool registration: %w", err)
		}

		v.mu.Lock()
		for _, log := range logs {
			if len(log.Topics) != 3 {
				continue
			}
			pool := v2Pool{
				id:      log.Topics[1],
				address: common.BytesToAddress(log.Topics[2].Bytes()[12:]),
			}
			if len(log.Data) >= 32 {
				pool.specialization = uint8(new(big.Int).SetBytes(log.Data[:32]).Uint64())
			}
			v.pools = append(v.pools, pool)
			v.byAddress[pool.address] = pool
		}
		v.built = true
		count := len(v.pools)
		v.mu.Unlock()

		v.logger.Info("vault pool index built", zap.Int("pools", count))
		return nil, nil
	})
	return err
}

// IsPool reports whether token is a pool registered with this vault.
func (v *Vault) IsPool(ctx context.Context, tok common.Address, block *big.Int) (bool, error) {
	ok, err := v.prober.HasMethods(ctx, tok, []string{
		"getPoolId()(bytes32)",
		"getVault()(address)",
	}, block)
	if err != nil || !ok {
		return false, err
	}
	vault, err := v.prober.CallAddress(ctx, tok, "getVault()(address)", block)
	if err != nil {
		return false, err
	}
	return vault == v.address, nil
}

// poolTokens reads (tokens, balances) for a pool id at block.
func (v *Vault) poolTokens(ctx context.Context, id common.Hash, block *big.Int) ([]common.Address, []*big.Int, error) {
	selector, err := probe.Selector("getPoolTokens(bytes32)")
	if err != nil {
		return nil, nil, err
	}
	vault := v.address
	out, err := v.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &vault,
		Data: probe.PackArgs(selector, id.Bytes()),
	}, block)
	if err != nil {
		if chain.IsRevert(err) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	return decodePoolTokens(out)
}

// decodePoolTokens parses the (address[],uint256[],uint256) return shape.
func decodePoolTokens(out []byte) ([]common.Address, []*big.Int, error) {
	if len(out) < 96 {
		return nil, nil, nil
	}
	readSlice := func(offsetWord []byte) (start, count int64, ok bool) {
		offset := new(big.Int).SetBytes(offsetWord)
		if !offset.IsInt64() || offset.Int64()+32 > int64(len(out)) {
			return 0, 0, false
		}
		start = offset.Int64()
		length := new(big.Int).SetBytes(out[start : start+32])
		if !length.IsInt64() || start+32+length.Int64()*32 > int64(len(out)) {
			return 0, 0, false
		}
		return start + 32, length.Int64(), true
	}

	tokStart, tokCount, ok := readSlice(out[:32])
	if !ok {
		return nil, nil, fmt.Errorf("malformed getPoolTokens response")
	}
	balStart, balCount, ok := readSlice(out[32:64])
	if !ok || balCount != tokCount {
		return nil, nil, fmt.Errorf("malformed getPoolTokens response")
	}

	tokens := make([]common.Address, tokCount)
	balances := make([]*big.Int, balCount)
	for i := int64(0); i < tokCount; i++ {
		tokens[i] = common.BytesToAddress(out[tokStart+i*32+12 : tokStart+i*32+32])
		balances[i] = new(big.Int).SetBytes(out[balStart+i*32 : balStart+i*32+32])
	}
	return tokens, balances, nil
}

// deepestPoolFor returns the standard pool holding the largest balance of the
// token. Exotic specializations are skipped; their balances do not represent
// tradable depth.
func (v *Vault) deepestPoolFor(ctx context.Context, tok common.Address, block *big.Int) (v2Pool, *big.Int, bool, error) {
	if err := v.ensureIndex(ctx); err != nil {
		return v2Pool{}, nil, false, err
	}

	v.mu.RLock()
	pools := make([]v2Pool, len(v.pools))
	copy(pools, v.pools)
	v.mu.RUnlock()

	var best v2Pool
	bestBalance := new(big.Int)
	found := false
	for _, pool := range pools {
		if pool.specialization > 2 {
			continue
		}
		tokens, balances, err := v.poolTokens(ctx, pool.id, block)
		if err != nil {
			return v2Pool{}, nil, false, err
		}
		for i, t := range tokens {
			if t == tok && balances[i].Cmp(bestBalance) > 0 {
				best = pool
				bestBalance = balances[i]
				found = true
			}
		}
	}
	return best, bestBalance, found, nil
}

// PoolPrice values a v2 pool share as TVL over LP supply. Composable pools
// hold their own share token in the vault balance; that entry is excluded.
func (v *Vault) PoolPrice(ctx context.Context, pool common.Address, block *big.Int, oracle dex.Oracle) (float64, bool, error) {
	if err := v.ensureIndex(ctx); err != nil {
		return 0, false, err
	}

	v.mu.RLock()
	entry, ok := v.byAddress[pool]
	v.mu.RUnlock()
	if !ok {
		id, err := v.prober.Call(ctx, pool, "getPoolId()(bytes32)", block)
		if err != nil || len(id) < 32 {
			return 0, false, err
		}
		entry = v2Pool{id: common.BytesToHash(id[:32]), address: pool}
	}

	tokens, balances, err := v.poolTokens(ctx, entry.id, block)
	if err != nil || len(tokens) == 0 {
		return 0, false, err
	}

	tvl := 0.0
	for i, tok := range tokens {
		if tok == pool {
			continue
		}
		decimals, err := v.tokens.Decimals(ctx, tok, block)
		if err != nil {
			if errors.Is(err, token.ErrNonStandardToken) {
				continue
			}
			return 0, false, err
		}
		price, priced, err := oracle.TokenPrice(ctx, tok, block)
		if err != nil {
			return 0, false, err
		}
		if !priced {
			continue
		}
		tvl += token.Readable(balances[i], decimals) * price
	}
	if tvl == 0 {
		return 0, false, nil
	}

	supply, err := v.tokens.TotalSupplyReadable(ctx, pool, block)
	if err != nil {
		if errors.Is(err, token.ErrNonStandardToken) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if supply == 0 {
		return 0, false, nil
	}
	return tvl / supply, true, nil
}

// TokenPrice derives a weighted-pool spot price for the token from the
// deepest pool's balances and normalized weights, anchored to a reference
// token: a stablecoin if the pool has one, else the wrapped gas coin, else
// the other token of a two-token pool.
func (v *Vault) TokenPrice(ctx context.Context, tok common.Address, block *big.Int, oracle dex.Oracle) (float64, bool, error) {
	pool, _, found, err := v.deepestPoolFor(ctx, tok, block)
	if err != nil || !found {
		return 0, false, err
	}

	tokens, balances, err := v.poolTokens(ctx, pool.id, block)
	if err != nil || len(tokens) == 0 {
		return 0, false, err
	}

	weights, err := v.normalizedWeights(ctx, pool.address, len(tokens), block)
	if err != nil {
		return 0, false, err
	}

	tokenIdx := -1
	refIdx := -1
	for i, t := range tokens {
		if t == tok {
			tokenIdx = i
			continue
		}
		if v.book.HasStablecoin(t) {
			refIdx = i
		}
	}
	if refIdx < 0 {
		for i, t := range tokens {
			if t == v.book.WrappedGasCoin && i != tokenIdx {
				refIdx = i
			}
		}
	}
	if refIdx < 0 && len(tokens) == 2 {
		refIdx = 1 - tokenIdx
	}
	if tokenIdx < 0 || refIdx < 0 {
		return 0, false, nil
	}

	refPrice, ok, err := oracle.TokenPrice(ctx, tokens[refIdx], block)
	if err != nil || !ok {
		return 0, false, err
	}

	tokenDecimals, err := v.tokens.Decimals(ctx, tok, block)
	if err != nil {
		return 0, false, maskNonStandard(err)
	}
	refDecimals, err := v.tokens.Decimals(ctx, tokens[refIdx], block)
	if err != nil {
		return 0, false, maskNonStandard(err)
	}

	tokenBalance := token.Readable(balances[tokenIdx], tokenDecimals)
	refBalance := token.Readable(balances[refIdx], refDecimals)
	if tokenBalance == 0 || weights[tokenIdx] == 0 || weights[refIdx] == 0 {
		return 0, false, nil
	}

	// spot = (refBalance/refWeight) / (tokenBalance/tokenWeight)
	spot := (refBalance / weights[refIdx]) / (tokenBalance / weights[tokenIdx])
	return spot * refPrice, true, nil
}

// normalizedWeights reads the pool's weights, defaulting to uniform when the
// pool is not a weighted pool.
func (v *Vault) normalizedWeights(ctx context.Context, pool common.Address, n int, block *big.Int) ([]float64, error) {
	uniform := make([]float64, n)
	for i := range uniform {
		uniform[i] = 1 / float64(n)
	}

	out, err := v.prober.Call(ctx, pool, "getNormalizedWeights()(uint[])", block)
	if err != nil {
		return nil, err
	}
	if len(out) < 64 {
		return uniform, nil
	}

	offset := new(big.Int).SetBytes(out[:32])
	if !offset.IsInt64() || offset.Int64()+32 > int64(len(out)) {
		return uniform, nil
	}
	start := offset.Int64()
	count := new(big.Int).SetBytes(out[start : start+32]).Int64()
	if count != int64(n) || start+32+count*32 > int64(len(out)) {
		return uniform, nil
	}

	weights := make([]float64, n)
	for i := int64(0); i < count; i++ {
		raw := new(big.Int).SetBytes(out[start+32+i*32 : start+64+i*32])
		weights[i] = token.Readable(raw, 18)
	}
	return weights, nil
}

func maskNonStandard(err error) error {
	if errors.Is(err, token.ErrNonStandardToken) {
		return nil
	}
	return err
}
