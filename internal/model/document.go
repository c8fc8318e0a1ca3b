package model

import "errors"

// ErrMalformedDocument はドキュメントの内容が期待するスキーマに合わない場合のエラー。
var ErrMalformedDocument = errors.New("malformed document")

// Document はドキュメントストアの1レコードを表す。
// Fieldsの値はJSON互換の型（string, bool, float64, []any, map[string]any）を想定する。
type Document struct {
	Collection string
	ID         string
	Fields     map[string]any
}
