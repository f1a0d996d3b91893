package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"pricescope/internal/model"
)

// JsonlStore keeps pool snapshots in a JSONL file. Writes append; loads fold
// the file so the last line for a pool wins.
type JsonlStore struct {
	path string
	mu   sync.Mutex
}

func NewJsonlStore(path string) *JsonlStore {
	return &JsonlStore{path: path}
}

// UpsertPools appends pools as JSON lines.
func (s *JsonlStore) UpsertPools(_ context.Context, pools []model.Pool) error {
	if len(pools) == 0 {
		return nil
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open snapshot file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, pool := range pools {
		line, err := json.Marshal(pool)
		if err != nil {
			return fmt.Errorf("marshal pool: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write pool: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush snapshot: %w", err)
	}

	return nil
}

// LoadPools reads the snapshot back, deduplicated by (fork, address). A
// missing file is an empty snapshot, not an error.
func (s *JsonlStore) LoadPools(_ context.Context, chainID uint64) ([]model.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open snapshot file: %w", err)
	}
	defer file.Close()

	type poolKey struct {
		fork    string
		address string
	}
	seen := make(map[poolKey]int)
	var pools []model.Pool

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var pool model.Pool
		if err := json.Unmarshal(line, &pool); err != nil {
			return nil, fmt.Errorf("parse snapshot line: %w", err)
		}
		if pool.ChainID != chainID {
			continue
		}
		key := poolKey{fork: pool.Fork, address: pool.Address}
		if i, ok := seen[key]; ok {
			pools[i] = pool
			continue
		}
		seen[key] = len(pools)
		pools = append(pools, pool)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read snapshot file: %w", err)
	}
	return pools, nil
}
