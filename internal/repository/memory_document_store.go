package repository

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"

	"github.com/hitoshi/simplyconnect/internal/model"
)

// MemoryDocumentStore はプロセス内メモリに保持するドキュメントストア。
// DATABASE_URL未設定時の開発用およびテスト用に使用する。
// 値はJSONを往復させて保持するため、PostgresDocumentStoreと同じ型で読み出される。
type MemoryDocumentStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

type memoryCollection struct {
	order []string
	docs  map[string]map[string]any
}

var _ DocumentStore = (*MemoryDocumentStore)(nil)

// NewMemoryDocumentStore はMemoryDocumentStoreを生成する。
func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{collections: make(map[string]*memoryCollection)}
}

// FindOne はfieldがvalueと等しい最初のドキュメントを作成順で返す。
func (s *MemoryDocumentStore) FindOne(ctx context.Context, collection, field string, value any) (*model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want, err := normalizeValue(value)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return nil, nil
	}
	for _, id := range c.order {
		fields := c.docs[id]
		got, ok := fields[field]
		if ok && reflect.DeepEqual(got, want) {
			return s.snapshot(collection, id, fields)
		}
	}
	return nil, nil
}

// Get は指定IDのドキュメントを取得する。見つからない場合はnilを返す。
func (s *MemoryDocumentStore) Get(ctx context.Context, collection, id string) (*model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return nil, nil
	}
	fields, ok := c.docs[id]
	if !ok {
		return nil, nil
	}
	return s.snapshot(collection, id, fields)
}

// Create はドキュメントを作成する。idが空の場合はUUIDを採番する。
func (s *MemoryDocumentStore) Create(ctx context.Context, collection, id string, fields map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	normalized, err := normalizeFields(fields)
	if err != nil {
		return "", err
	}
	if id == "" {
		id = uuid.New().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[collection]
	if !ok {
		c = &memoryCollection{docs: make(map[string]map[string]any)}
		s.collections[collection] = c
	}
	if _, exists := c.docs[id]; exists {
		return "", fmt.Errorf("%s/%s: %w", collection, id, ErrDocumentExists)
	}
	c.docs[id] = normalized
	c.order = append(c.order, id)
	return id, nil
}

// Update は既存のフィールドに指定フィールドをマージする。
func (s *MemoryDocumentStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	normalized, err := normalizeFields(fields)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[collection]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrDocumentNotFound)
	}
	existing, ok := c.docs[id]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrDocumentNotFound)
	}
	for k, v := range normalized {
		existing[k] = v
	}
	return nil
}

// Count はコレクション内のドキュメント数を返す。
func (s *MemoryDocumentStore) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.collections[collection]; ok {
		return len(c.docs)
	}
	return 0
}

// snapshot は呼び出し側の変更がストアに波及しないようコピーを返す。
func (s *MemoryDocumentStore) snapshot(collection, id string, fields map[string]any) (*model.Document, error) {
	copied, err := normalizeFields(fields)
	if err != nil {
		return nil, err
	}
	return &model.Document{Collection: collection, ID: id, Fields: copied}, nil
}
