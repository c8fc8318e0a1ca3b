package repository

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix はRedisLocalStoreのキー接頭辞の既定値。
const DefaultRedisKeyPrefix = "simplyconnect:local:"

// RedisLocalStore はRedisを使用したキーバリューストア。
// 複数プロセスで同一の端末状態を共有する構成で使用する。
type RedisLocalStore struct {
	client *redis.Client
	prefix string
}

var _ LocalStore = (*RedisLocalStore)(nil)

// NewRedisLocalStore はRedisLocalStoreを生成する。prefixが空の場合は既定値を使用する。
func NewRedisLocalStore(client *redis.Client, prefix string) *RedisLocalStore {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisLocalStore{client: client, prefix: prefix}
}

func (s *RedisLocalStore) key(k string) string {
	return s.prefix + k
}

// Get はキーの値を取得する。
func (s *RedisLocalStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get local value: %w", err)
	}
	return val, true, nil
}

// Set はキーに値を有効期限なしで保存する。
func (s *RedisLocalStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set local value: %w", err)
	}
	return nil
}

// Remove はキーを削除する。
func (s *RedisLocalStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to remove local value: %w", err)
	}
	return nil
}
