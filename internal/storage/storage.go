package storage

import (
	"context"

	"pricescope/internal/model"
)

// Store persists and restores discovered pool snapshots, so routers can skip
// the PairCreated replay on restart.
type Store interface {
	UpsertPools(ctx context.Context, pools []model.Pool) error
	LoadPools(ctx context.Context, chainID uint64) ([]model.Pool, error)
}
