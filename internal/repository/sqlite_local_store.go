package repository

import (
	"context"
	"database/sql"
	"fmt"
)

const sqliteLocalSchema = `
CREATE TABLE IF NOT EXISTS local_kv (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// SQLiteLocalStore はSQLiteファイルを使用した端末ローカルのキーバリューストア。
type SQLiteLocalStore struct {
	db *sql.DB
}

var _ LocalStore = (*SQLiteLocalStore)(nil)

// NewSQLiteLocalStore はテーブルを作成してSQLiteLocalStoreを生成する。
func NewSQLiteLocalStore(ctx context.Context, db *sql.DB) (*SQLiteLocalStore, error) {
	if _, err := db.ExecContext(ctx, sqliteLocalSchema); err != nil {
		return nil, fmt.Errorf("failed to create local_kv table: %w", err)
	}
	return &SQLiteLocalStore{db: db}, nil
}

// Get はキーの値を取得する。
func (s *SQLiteLocalStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM local_kv WHERE key = ?`, key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get local value: %w", err)
	}
	return value, true, nil
}

// Set はキーに値を保存する。既存の値は上書きする。
func (s *SQLiteLocalStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO local_kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set local value: %w", err)
	}
	return nil
}

// Remove はキーを削除する。
func (s *SQLiteLocalStore) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM local_kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to remove local value: %w", err)
	}
	return nil
}
