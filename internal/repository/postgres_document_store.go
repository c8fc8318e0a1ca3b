package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/simplyconnect/internal/model"
)

// PostgresDocumentStore はPostgreSQLのjsonbカラムを使用したドキュメントストア。
type PostgresDocumentStore struct {
	db *sql.DB
}

var _ DocumentStore = (*PostgresDocumentStore)(nil)

// NewPostgresDocumentStore はPostgresDocumentStoreを生成する。
func NewPostgresDocumentStore(db *sql.DB) *PostgresDocumentStore {
	return &PostgresDocumentStore{db: db}
}

// FindOne はfieldがvalueと等しい最初のドキュメントを作成順で返す。
// 等価判定はjsonbの包含演算子で行い、GINインデックスを利用する。
func (s *PostgresDocumentStore) FindOne(ctx context.Context, collection, field string, value any) (*model.Document, error) {
	filter, err := encodeFields(map[string]any{field: value})
	if err != nil {
		return nil, err
	}

	var id string
	var raw []byte
	err = s.db.QueryRowContext(ctx,
		`SELECT id, fields FROM documents
		 WHERE collection = $1 AND fields @> $2::jsonb
		 ORDER BY created_at, id
		 LIMIT 1`,
		collection, string(filter),
	).Scan(&id, &raw)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find document by %s: %w", field, err)
	}

	return buildDocument(collection, id, raw)
}

// Get は指定IDのドキュメントを取得する。見つからない場合はnilを返す。
func (s *PostgresDocumentStore) Get(ctx context.Context, collection, id string) (*model.Document, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT fields FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&raw)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return buildDocument(collection, id, raw)
}

// Create はドキュメントを作成する。idが空の場合はUUIDを採番する。
// 既存IDとの衝突はON CONFLICTで検出し、ErrDocumentExistsを返す。
func (s *PostgresDocumentStore) Create(ctx context.Context, collection, id string, fields map[string]any) (string, error) {
	if id == "" {
		id = uuid.New().String()
	}
	raw, err := encodeFields(fields)
	if err != nil {
		return "", err
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, fields, created_at, updated_at)
		 VALUES ($1, $2, $3::jsonb, now(), now())
		 ON CONFLICT (collection, id) DO NOTHING`,
		collection, id, string(raw),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert document: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return "", fmt.Errorf("%s/%s: %w", collection, id, ErrDocumentExists)
	}

	return id, nil
}

// Update は既存のフィールドに指定フィールドをマージする。
func (s *PostgresDocumentStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	raw, err := encodeFields(fields)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET fields = fields || $3::jsonb, updated_at = now()
		 WHERE collection = $1 AND id = $2`,
		collection, id, string(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrDocumentNotFound)
	}

	return nil
}

func buildDocument(collection, id string, raw []byte) (*model.Document, error) {
	fields, err := decodeFields(raw)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, err)
	}
	return &model.Document{Collection: collection, ID: id, Fields: fields}, nil
}
