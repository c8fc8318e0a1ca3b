// Package repository はドキュメントストアと端末ローカルストアの
// インターフェースおよびその実装を提供する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/simplyconnect/internal/model"
)

var (
	// ErrDocumentExists は指定IDのドキュメントが既に存在する場合のエラー。
	ErrDocumentExists = errors.New("document already exists")
	// ErrDocumentNotFound は更新対象のドキュメントが存在しない場合のエラー。
	ErrDocumentNotFound = errors.New("document not found")
)

// DocumentStore はコレクション単位のドキュメント永続化インターフェース。
// フィールド値はJSON互換の型で保持される。
type DocumentStore interface {
	// FindOne はfieldがvalueと等しい最初のドキュメントを作成順で返す。
	// 見つからない場合はnilを返す。
	FindOne(ctx context.Context, collection, field string, value any) (*model.Document, error)

	// Get は指定IDのドキュメントを取得する。見つからない場合はnilを返す。
	Get(ctx context.Context, collection, id string) (*model.Document, error)

	// Create はドキュメントを作成し、そのIDを返す。
	// idが空の場合はUUIDを採番する。既存IDの場合はErrDocumentExistsを返す。
	Create(ctx context.Context, collection, id string, fields map[string]any) (string, error)

	// Update は指定フィールドのみを上書きする部分更新を行う。
	// 対象が存在しない場合はErrDocumentNotFoundを返す。
	Update(ctx context.Context, collection, id string, fields map[string]any) error
}

// LocalStore は端末ローカルのキーバリュー永続化インターフェース。
// 値は文字列として保持し、呼び出し側がエンコードする。
type LocalStore interface {
	// Get はキーの値を取得する。存在しない場合はokがfalseになる。
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set はキーに値を保存する。
	Set(ctx context.Context, key, value string) error

	// Remove はキーを削除する。存在しない場合もエラーにしない。
	Remove(ctx context.Context, key string) error
}
