package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// BlockRange represents an inclusive block range.
type BlockRange struct {
	From uint64
	To   uint64
}

// SplitRange cuts the inclusive range [from, to] into chunks of at most
// batchSize blocks.
func SplitRange(from, to, batchSize uint64) ([]BlockRange, error) {
	if batchSize == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to block must be >= from block")
	}

	ranges := make([]BlockRange, 0, (to-from)/batchSize+1)
	for start := from; ; start += batchSize {
		end := to
		if span := to - start; span >= batchSize {
			end = start + batchSize - 1
		}
		ranges = append(ranges, BlockRange{From: start, To: end})
		if end == to {
			return ranges, nil
		}
	}
}

// GetLogs fetches logs for [from, to] in batchSize chunks. When a chunk fails,
// the chunk is bisected and each half retried independently; many providers cap
// the queryable range without documenting the limit, so any failing multi-block
// chunk is assumed oversized before the error is surfaced.
func GetLogs(
	ctx context.Context,
	caller Caller,
	addresses []common.Address,
	topics [][]common.Hash,
	from, to, batchSize uint64,
	logger *zap.Logger,
) ([]types.Log, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	ranges, err := SplitRange(from, to, batchSize)
	if err != nil {
		return nil, err
	}

	var out []types.Log
	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		logs, err := getLogsBisect(ctx, caller, addresses, topics, blockRange.From, blockRange.To, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, logs...)
	}
	return out, nil
}

func getLogsBisect(
	ctx context.Context,
	caller Caller,
	addresses []common.Address,
	topics [][]common.Hash,
	from, to uint64,
	logger *zap.Logger,
) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: addresses,
		Topics:    topics,
	}

	logs, err := caller.FilterLogs(ctx, query)
	if err == nil {
		return logs, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if from >= to {
		return nil, fmt.Errorf("get logs [%d, %d]: %w", from, to, err)
	}

	mid := from + (to-from)/2
	logger.Debug("log range rejected, bisecting",
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Uint64("mid", mid),
		zap.Error(err),
	)

	left, err := getLogsBisect(ctx, caller, addresses, topics, from, mid, logger)
	if err != nil {
		return nil, err
	}
	right, err := getLogsBisect(ctx, caller, addresses, topics, mid+1, to, logger)
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}
