package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// SessionStatus はセッションの解決状態を表す。
type SessionStatus string

const (
	// SessionUninitialized はコントローラー起動前の状態。
	SessionUninitialized SessionStatus = "uninitialized"
	// SessionResolving は起動プロトコル実行中でまだ結論が出ていない状態。
	SessionResolving SessionStatus = "resolving"
	// SessionAuthenticated はプロフィールが確定した認証済み状態。
	SessionAuthenticated SessionStatus = "authenticated"
	// SessionUnauthenticated は未認証状態。
	SessionUnauthenticated SessionStatus = "unauthenticated"
	// SessionResolutionFailed はプロフィール解決に失敗し強制サインアウトした状態。
	// 未認証の一種だが、ガードがログイン画面ではなくエラーを表示できるよう区別する。
	SessionResolutionFailed SessionStatus = "resolution_failed"
)

// IsSignedOut は未認証系のステータスかどうかを返す。
func (s SessionStatus) IsSignedOut() bool {
	return s == SessionUnauthenticated || s == SessionResolutionFailed
}

// IsSettled は起動プロトコルが結論を出した後のステータスかどうかを返す。
func (s SessionStatus) IsSettled() bool {
	return s == SessionAuthenticated || s.IsSignedOut()
}

// IdentityHandle はIDプロバイダーが発行する不透明なID情報を表す。
type IdentityHandle struct {
	ID          string
	PhoneNumber string
	Token       string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Bypass      bool // テスト用バイパスIDの場合true
}

// PendingVerification は確認コード送信後の検証待ち状態を表す。
type PendingVerification struct {
	ID          string
	PhoneNumber string
	ExpiresAt   time.Time
	Bypass      bool
}

// SessionState はプロセス全体で1つだけ存在するセッション状態のスナップショット。
// Profileが非nilであることとStatusがSessionAuthenticatedであることは同値。
type SessionState struct {
	Status     SessionStatus
	Identity   *IdentityHandle
	Profile    *UserProfile
	LastError  *APIError
	Generation uint64
	UpdatedAt  time.Time
}

// Clone はプロフィールとIDを含めたディープコピーを返す。
func (s SessionState) Clone() SessionState {
	c := s
	c.Profile = s.Profile.Clone()
	if s.Identity != nil {
		id := *s.Identity
		c.Identity = &id
	}
	if s.LastError != nil {
		e := *s.LastError
		c.LastError = &e
	}
	return c
}

// Validate はセッション状態の不変条件を検証する。
func (s SessionState) Validate() error {
	authenticated := s.Status == SessionAuthenticated
	if authenticated != (s.Profile != nil) {
		return fmt.Errorf("session invariant violated: status=%s profile_present=%t", s.Status, s.Profile != nil)
	}
	if s.Identity != nil && !authenticated {
		return fmt.Errorf("session invariant violated: status=%s identity present", s.Status)
	}
	return nil
}

// DefaultSessionRecordKey はローカルストアに保存するセッションレコードのキー。
const DefaultSessionRecordKey = "appUserInfo"

// PersistedSessionRecord はローカルストアに保存する最小限のセッション情報。
type PersistedSessionRecord struct {
	ID          string `json:"uid"`
	PhoneNumber string `json:"phoneNumber"`
	IsTestUser  bool   `json:"isTestUser"`
}

// Encode はレコードをJSON文字列に変換する。
func (r PersistedSessionRecord) Encode() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to encode session record: %w", err)
	}
	return string(b), nil
}

// DecodeSessionRecord はJSON文字列からレコードを復元する。
// IDが空のレコードは不正として扱う。
func DecodeSessionRecord(raw string) (*PersistedSessionRecord, error) {
	var r PersistedSessionRecord
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("failed to decode session record: %w", err)
	}
	if r.ID == "" {
		return nil, fmt.Errorf("session record has no uid")
	}
	return &r, nil
}
