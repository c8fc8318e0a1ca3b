package repository

import (
	"context"
	"sync"
)

// MemoryLocalStore はプロセス内メモリに保持するキーバリューストア。
type MemoryLocalStore struct {
	mu     sync.RWMutex
	values map[string]string
}

var _ LocalStore = (*MemoryLocalStore)(nil)

// NewMemoryLocalStore はMemoryLocalStoreを生成する。
func NewMemoryLocalStore() *MemoryLocalStore {
	return &MemoryLocalStore{values: make(map[string]string)}
}

func (s *MemoryLocalStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryLocalStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryLocalStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}
