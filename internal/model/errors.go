// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, rate_limit, network, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidPhoneNumber = "INVALID_PHONE_NUMBER"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeNetworkError       = "NETWORK_ERROR"
	ErrCodeInvalidCode        = "INVALID_CODE"
	ErrCodeCodeExpired        = "CODE_EXPIRED"
	ErrCodeResolutionFailed   = "RESOLUTION_FAILED"
	ErrCodeSessionResolving   = "SESSION_RESOLVING"
	ErrCodeUnauthenticated    = "UNAUTHENTICATED"
	ErrCodeInvalidProfile     = "INVALID_PROFILE"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
)

// NewInvalidPhoneNumberError は電話番号の形式エラーを生成する。
func NewInvalidPhoneNumberError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPhoneNumber,
		Message:  "電話番号の形式が正しくありません。",
		Category: "validation",
		Action:   "国際形式（例: +1234567890）で電話番号を入力してください。",
	}
}

// NewRateLimitedError は確認コード送信の回数制限エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "試行回数が多すぎます。",
		Category: "rate_limit",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewNetworkError は通信エラーを生成する。
func NewNetworkError() *APIError {
	return &APIError{
		Code:     ErrCodeNetworkError,
		Message:  "ネットワークエラーが発生しました。",
		Category: "network",
		Action:   "接続を確認してから再度お試しください。",
	}
}

// NewInvalidCodeError は確認コード不一致エラーを生成する。
func NewInvalidCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCode,
		Message:  "確認コードが正しくありません。",
		Category: "validation",
		Action:   "受信した確認コードを再度入力してください。",
	}
}

// NewCodeExpiredError は確認コードの期限切れエラーを生成する。
func NewCodeExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeCodeExpired,
		Message:  "確認コードの有効期限が切れています。",
		Category: "auth",
		Action:   "確認コードを再送信してください。",
	}
}

// NewResolutionFailedError はプロフィール解決失敗エラーを生成する。
// 失敗の詳細はログのみに記録し、メッセージには含めない。
func NewResolutionFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeResolutionFailed,
		Message:  "ユーザー情報の読み込みに失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
}

// NewSessionResolvingError はセッション解決中エラーを生成する。
func NewSessionResolvingError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionResolving,
		Message:  "ログイン状態を確認しています。",
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidProfileError はプロフィール入力の検証エラーを生成する。
func NewInvalidProfileError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidProfile,
		Message:  fmt.Sprintf("プロフィールの入力が正しくありません: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}
