// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// UsersCollection はユーザープロフィールを保持するドキュメントコレクション名。
const UsersCollection = "users"

// ユーザードキュメントのフィールド名
const (
	FieldPhoneNumber = "phoneNumber"
	FieldFirstName   = "firstName"
	FieldLastName    = "lastName"
	FieldEmail       = "email"
	FieldProfileURL  = "profileURL"
	FieldConnections = "connections"
	FieldIsTestUser  = "isTestUser"
	FieldCreatedAt   = "createdAt"
)

// UserProfile はドキュメントストアが所有するユーザープロフィールを表す。
// セッションコントローラーはこのキャッシュコピーを読み取り中心で保持する。
type UserProfile struct {
	ID              string
	PhoneNumber     string
	FirstName       string
	LastName        string
	Email           string
	ProfilePhotoURL string
	Connections     []string // 友達のプロフィールID。空文字のプレースホルダーを含み得る
	IsTestUser      bool
	CreatedAt       time.Time
}

// DisplayName は表示用の氏名を返す。
func (p *UserProfile) DisplayName() string {
	switch {
	case p.FirstName == "" && p.LastName == "":
		return ""
	case p.LastName == "":
		return p.FirstName
	case p.FirstName == "":
		return p.LastName
	default:
		return p.FirstName + " " + p.LastName
	}
}

// Clone はConnectionsを含めたディープコピーを返す。
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	c := *p
	if p.Connections != nil {
		c.Connections = append([]string(nil), p.Connections...)
	}
	return &c
}

// FilterConnections は空文字のプレースホルダーと重複を除いた接続IDを返す。
// 元の順序は維持する。
func FilterConnections(connections []string) []string {
	out := make([]string, 0, len(connections))
	seen := make(map[string]struct{}, len(connections))
	for _, id := range connections {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// NewProfileFields は新規プロフィール作成時のフィールドを生成する。
// 表示属性はすべて空文字で初期化される。
func NewProfileFields(phoneNumber string, now time.Time) map[string]any {
	return map[string]any{
		FieldPhoneNumber: phoneNumber,
		FieldFirstName:   "",
		FieldLastName:    "",
		FieldEmail:       "",
		FieldProfileURL:  "",
		FieldConnections: []string{},
		FieldCreatedAt:   now.UTC().Format(time.RFC3339Nano),
	}
}

// ProfileFromDocument はドキュメントをUserProfileに変換する。
// フィールドの型が不正な場合や電話番号が欠落している場合は
// ErrMalformedDocument をラップしたエラーを返す。
func ProfileFromDocument(doc *Document) (*UserProfile, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: document is nil", ErrMalformedDocument)
	}
	if doc.ID == "" {
		return nil, fmt.Errorf("%w: document has no id", ErrMalformedDocument)
	}

	p := &UserProfile{ID: doc.ID}
	var err error

	if p.PhoneNumber, err = stringField(doc, FieldPhoneNumber); err != nil {
		return nil, err
	}
	if p.PhoneNumber == "" {
		return nil, fmt.Errorf("%w: %s/%s has no phone number", ErrMalformedDocument, doc.Collection, doc.ID)
	}
	if p.FirstName, err = stringField(doc, FieldFirstName); err != nil {
		return nil, err
	}
	if p.LastName, err = stringField(doc, FieldLastName); err != nil {
		return nil, err
	}
	if p.Email, err = stringField(doc, FieldEmail); err != nil {
		return nil, err
	}
	if p.ProfilePhotoURL, err = stringField(doc, FieldProfileURL); err != nil {
		return nil, err
	}
	if p.Connections, err = stringSliceField(doc, FieldConnections); err != nil {
		return nil, err
	}

	if v, ok := doc.Fields[FieldIsTestUser]; ok && v != nil {
		b, ok := v.(bool)
		if !ok {
			return nil, fieldTypeError(doc, FieldIsTestUser, "bool", v)
		}
		p.IsTestUser = b
	}

	if v, ok := doc.Fields[FieldCreatedAt]; ok && v != nil {
		switch t := v.(type) {
		case time.Time:
			p.CreatedAt = t
		case string:
			parsed, perr := time.Parse(time.RFC3339Nano, t)
			if perr != nil {
				return nil, fieldTypeError(doc, FieldCreatedAt, "RFC3339 timestamp", v)
			}
			p.CreatedAt = parsed
		default:
			return nil, fieldTypeError(doc, FieldCreatedAt, "timestamp", v)
		}
	}

	return p, nil
}

func stringField(doc *Document, key string) (string, error) {
	v, ok := doc.Fields[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fieldTypeError(doc, key, "string", v)
	}
	return s, nil
}

// stringSliceField はJSONデコード由来の[]anyと[]stringの両方を受け付ける。
func stringSliceField(doc *Document, key string) ([]string, error) {
	v, ok := doc.Fields[key]
	if !ok || v == nil {
		return []string{}, nil
	}
	switch list := v.(type) {
	case []string:
		return append([]string{}, list...), nil
	case []any:
		out := make([]string, 0, len(list))
		for _, e := range list {
			s, ok := e.(string)
			if !ok {
				return nil, fieldTypeError(doc, key, "[]string", v)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fieldTypeError(doc, key, "[]string", v)
	}
}

func fieldTypeError(doc *Document, key, want string, got any) error {
	return fmt.Errorf("%w: %s/%s field %q: want %s, got %T",
		ErrMalformedDocument, doc.Collection, doc.ID, key, want, got)
}
