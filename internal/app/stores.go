package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/simplyconnect/internal/config"
	"github.com/hitoshi/simplyconnect/internal/database"
	"github.com/hitoshi/simplyconnect/internal/repository"
)

// stores は設定に応じて選択したドキュメントストアと端末ローカルストア。
type stores struct {
	docs   repository.DocumentStore
	local  repository.LocalStore
	health *sql.DB // ヘルスチェックで疎通を確認するDB。インメモリ構成ではnil
	close  []func() error
}

// Close は開いた接続をすべて閉じる。
func (s *stores) Close() error {
	var errs []error
	for i := len(s.close) - 1; i >= 0; i-- {
		if err := s.close[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openStores はドキュメントストアと端末ローカルストアを開く。
// DATABASE_URLが空の場合、ドキュメントストアはプロセス内のメモリに置く。
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	s := &stores{}

	if err := s.openDocumentStore(ctx, cfg); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.openLocalStore(ctx, cfg); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *stores) openDocumentStore(ctx context.Context, cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL is not set; using in-memory document store")
		s.docs = repository.NewMemoryDocumentStore()
		return nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	s.close = append(s.close, db.Close)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	s.docs = repository.NewPostgresDocumentStore(db)
	s.health = db
	return nil
}

func (s *stores) openLocalStore(ctx context.Context, cfg *config.Config) error {
	switch cfg.LocalStore {
	case config.LocalStoreMemory:
		s.local = repository.NewMemoryLocalStore()

	case config.LocalStoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		s.close = append(s.close, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.local = repository.NewRedisLocalStore(client, "")

	default:
		db, err := database.OpenSQLite(cfg.LocalStorePath)
		if err != nil {
			return err
		}
		s.close = append(s.close, db.Close)
		local, err := repository.NewSQLiteLocalStore(ctx, db)
		if err != nil {
			return err
		}
		s.local = local
		if s.health == nil {
			s.health = db
		}
	}

	slog.Info("local store ready", slog.String("kind", cfg.LocalStore))
	return nil
}
