package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pricescope/internal/model"
)

// Store provides Postgres persistence for pool snapshots.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// UpsertPools inserts or updates discovered pools.
func (s *Store) UpsertPools(ctx context.Context, pools []model.Pool) error {
	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, pool := range pools {
		batch.Queue(`
			INSERT INTO pools (
				chain_id, fork, pool_address, token0, token1, first_seen_block, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, now(), now())
			ON CONFLICT (chain_id, fork, pool_address)
			DO UPDATE SET
				token0 = EXCLUDED.token0,
				token1 = EXCLUDED.token1,
				first_seen_block = LEAST(pools.first_seen_block, EXCLUDED.first_seen_block),
				updated_at = now()
		`,
			int64(pool.ChainID),
			pool.Fork,
			pool.Address,
			pool.Token0,
			pool.Token1,
			int64(pool.FirstSeenBlock),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range pools {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadPools returns every pool known for a chain.
func (s *Store) LoadPools(ctx context.Context, chainID uint64) ([]model.Pool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chain_id, fork, pool_address, token0, token1, first_seen_block
		FROM pools WHERE chain_id = $1
	`, int64(chainID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []model.Pool
	for rows.Next() {
		var (
			pool    model.Pool
			chain   int64
			firstAt int64
		)
		if err := rows.Scan(&chain, &pool.Fork, &pool.Address, &pool.Token0, &pool.Token1, &firstAt); err != nil {
			return nil, err
		}
		pool.ChainID = uint64(chain)
		pool.FirstSeenBlock = uint64(firstAt)
		pools = append(pools, pool)
	}
	return pools, rows.Err()
}
