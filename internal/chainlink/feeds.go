// Package chainlink resolves token prices from chainlink USD feeds. The feed
// set is the union of a static per-network table and the on-chain feed
// registry, whose FeedConfirmed events are replayed once per process.
package chainlink

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"pricescope/internal/chain"
	"pricescope/internal/netconf"
	"pricescope/internal/probe"
	"pricescope/internal/token"
)

// FeedConfirmedTopic identifies feed registrations on the feed registry.
var FeedConfirmedTopic = crypto.Keccak256Hash([]byte("FeedConfirmed(address,address,address,address,uint16,address)"))

// usdDenomination is the registry's pseudo-address for USD quotes.
var usdDenomination = common.HexToAddress("0x0000000000000000000000000000000000000348")

const feedLogBatchSize = 100_000

// Feeds maps tokens to their USD price feeds.
type Feeds struct {
	book   *netconf.Book
	caller chain.Caller
	prober *probe.Prober
	logger *zap.Logger

	buildGroup singleflight.Group
	mu         sync.RWMutex
	built      bool
	feeds      map[common.Address]common.Address
}

// NewFeeds builds an (unloaded) feed index.
func NewFeeds(book *netconf.Book, caller chain.Caller, prober *probe.Prober, logger *zap.Logger) *Feeds {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feeds{
		book:   book,
		caller: caller,
		prober: prober,
		logger: logger,
		feeds:  make(map[common.Address]common.Address),
	}
}

func (f *Feeds) ensureLoaded(ctx context.Context) error {
	f.mu.RLock()
	built := f.built
	f.mu.RUnlock()
	if built {
		return nil
	}

	_, err, _ := f.buildGroup.Do("load", func() (any, error) {
		f.mu.RLock()
		built := f.built
		f.mu.RUnlock()
		if built {
			return nil, nil
		}

		feeds := make(map[common.Address]common.Address, len(f.book.ChainlinkFeeds))
		for token, feed := range f.book.ChainlinkFeeds {
			feeds[token] = feed
		}

		if f.book.ChainlinkRegistry != (common.Address{}) {
			if err := f.replayRegistry(ctx, feeds); err != nil {
				return nil, err
			}
		}

		f.mu.Lock()
		f.feeds = feeds
		f.built = true
		f.mu.Unlock()

		f.logger.Info("chainlink feeds loaded", zap.Int("feeds", len(feeds)))
		return nil, nil
	})
	return err
}

// replayRegistry folds FeedConfirmed events into feeds. A zero aggregator
// means the feed was retired.
func (f *Feeds) replayRegistry(ctx context.Context, feeds map[common.Address]common.Address) error {
	head, err := f.caller.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("fetch head block: %w", err)
	}
	logs, err := chain.GetLogs(ctx, f.caller,
		[]common.Address{f.book.ChainlinkRegistry},
		[][]common.Hash{{FeedConfirmedTopic}},
		f.book.ChainlinkRegistryDeployBlock, head, feedLogBatchSize, f.logger)
	if err != nil {
		return fmt.Errorf("replay feed registry: %w", err)
	}
	for _, lg := range logs {
		if len(lg.Topics) < 4 {
			continue
		}
		denomination := common.BytesToAddress(lg.Topics[2].Bytes())
		if denomination != usdDenomination {
			continue
		}
		asset := common.BytesToAddress(lg.Topics[1].Bytes())
		aggregator := common.BytesToAddress(lg.Topics[3].Bytes())
		if aggregator == (common.Address{}) {
			delete(feeds, asset)
			continue
		}
		feeds[asset] = aggregator
	}
	return nil
}

// HasFeed reports whether token has a known USD feed.
func (f *Feeds) HasFeed(ctx context.Context, token common.Address) (bool, error) {
	if err := f.ensureLoaded(ctx); err != nil {
		return false, err
	}
	f.mu.RLock()
	_, ok := f.feeds[token]
	f.mu.RUnlock()
	return ok, nil
}

// Price reads the feed's latest answer at block, scaled by the feed's own
// decimals. Feeds that did not exist yet at block simply revert and yield
// no price.
func (f *Feeds) Price(ctx context.Context, tok common.Address, block *big.Int) (float64, bool, error) {
	if err := f.ensureLoaded(ctx); err != nil {
		return 0, false, err
	}
	f.mu.RLock()
	feed, ok := f.feeds[tok]
	f.mu.RUnlock()
	if !ok {
		return 0, false, nil
	}

	answer, err := f.prober.CallUint(ctx, feed, "latestAnswer()(int256)", block)
	if err != nil {
		return 0, false, err
	}
	// The int256 answer arrives as a raw word; a set top bit is a negative
	// value in two's complement. Zero and negative answers carry no quote.
	if answer == nil || answer.Sign() == 0 || answer.Bit(255) == 1 {
		return 0, false, nil
	}
	decimals, err := f.prober.CallUint(ctx, feed, "decimals()(uint8)", block)
	if err != nil {
		return 0, false, err
	}
	if decimals == nil || decimals.Uint64() > 36 {
		return 0, false, nil
	}
	return token.Readable(answer, uint8(decimals.Uint64())), true, nil
}
