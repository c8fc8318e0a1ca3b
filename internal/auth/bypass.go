package auth

import (
	"crypto/subtle"
	"fmt"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"

	"github.com/hitoshi/simplyconnect/internal/model"
)

// DefaultBypassCode はバイパスIDの確認コードの既定値。
const DefaultBypassCode = "123456"

// BypassUser は開発用のバイパスIDとそのプロフィール初期値を表す。
type BypassUser struct {
	ID          string `yaml:"id"`
	PhoneNumber string `yaml:"phoneNumber"`
	FirstName   string `yaml:"firstName"`
	LastName    string `yaml:"lastName"`
	Email       string `yaml:"email"`
}

// ProfileFields はバイパスユーザーのドキュメント作成用フィールドを返す。
func (u BypassUser) ProfileFields(now time.Time) map[string]any {
	fields := model.NewProfileFields(u.PhoneNumber, now)
	fields[model.FieldFirstName] = u.FirstName
	fields[model.FieldLastName] = u.LastName
	fields[model.FieldEmail] = u.Email
	fields[model.FieldIsTestUser] = true
	return fields
}

// bypassFile はバイパスID設定ファイルの構造。
type bypassFile struct {
	Code  string       `yaml:"code"`
	Users []BypassUser `yaml:"users"`
}

// TestIdentityProvider は外部IDプロバイダーを経由せずにログインできる
// 開発用のバイパスIDを保持する。構築時に明示的に渡された場合のみ有効になる。
type TestIdentityProvider struct {
	code    string
	byPhone map[string]BypassUser
	byID    map[string]BypassUser
}

// NewTestIdentityProvider はTestIdentityProviderを生成する。
// codeが空の場合はDefaultBypassCodeを使用する。
// IDや電話番号の欠落・重複、電話番号の形式不正はエラーとする。
func NewTestIdentityProvider(code string, users []BypassUser) (*TestIdentityProvider, error) {
	if code == "" {
		code = DefaultBypassCode
	}
	p := &TestIdentityProvider{
		code:    code,
		byPhone: make(map[string]BypassUser, len(users)),
		byID:    make(map[string]BypassUser, len(users)),
	}
	for i, u := range users {
		if u.ID == "" {
			return nil, fmt.Errorf("bypass user %d: id is required", i)
		}
		if err := ValidatePhoneNumber(u.PhoneNumber); err != nil {
			return nil, fmt.Errorf("bypass user %q: %w", u.ID, err)
		}
		if _, dup := p.byID[u.ID]; dup {
			return nil, fmt.Errorf("bypass user %q: duplicate id", u.ID)
		}
		if _, dup := p.byPhone[u.PhoneNumber]; dup {
			return nil, fmt.Errorf("bypass user %q: duplicate phone number", u.ID)
		}
		p.byID[u.ID] = u
		p.byPhone[u.PhoneNumber] = u
	}
	return p, nil
}

// LoadTestIdentityProvider はYAMLファイルからバイパスIDを読み込む。
func LoadTestIdentityProvider(path string) (*TestIdentityProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bypass identities file: %w", err)
	}

	var f bypassFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse bypass identities file: %w", err)
	}

	return NewTestIdentityProvider(f.Code, f.Users)
}

// LookupPhone は電話番号に対応するバイパスユーザーを返す。
func (p *TestIdentityProvider) LookupPhone(phoneNumber string) (BypassUser, bool) {
	u, ok := p.byPhone[phoneNumber]
	return u, ok
}

// LookupID はIDに対応するバイパスユーザーを返す。
func (p *TestIdentityProvider) LookupID(id string) (BypassUser, bool) {
	u, ok := p.byID[id]
	return u, ok
}

// Len は登録されたバイパスユーザー数を返す。
func (p *TestIdentityProvider) Len() int {
	return len(p.byID)
}

// StartVerification はバイパス電話番号の検証待ち状態を生成する。
// コードは送信しない。
func (p *TestIdentityProvider) StartVerification(phoneNumber string, ttl time.Duration) (*model.PendingVerification, error) {
	if _, ok := p.byPhone[phoneNumber]; !ok {
		return nil, ErrInvalidPhoneNumber
	}
	return &model.PendingVerification{
		ID:          ulid.Make().String(),
		PhoneNumber: phoneNumber,
		ExpiresAt:   time.Now().Add(ttl),
		Bypass:      true,
	}, nil
}

// Verify は固定コードを照合し、一致すればバイパスIDを返す。
func (p *TestIdentityProvider) Verify(phoneNumber, code string) (*model.IdentityHandle, error) {
	u, ok := p.byPhone[phoneNumber]
	if !ok {
		return nil, ErrInvalidPhoneNumber
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(p.code)) != 1 {
		return nil, ErrInvalidCode
	}
	return &model.IdentityHandle{
		ID:          u.ID,
		PhoneNumber: u.PhoneNumber,
		IssuedAt:    time.Now(),
		Bypass:      true,
	}, nil
}
