// Package auth は電話番号によるID確認フロー、開発用のバイパスID、
// およびログイン・ログアウトの対話フローを提供する。
package auth

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/hitoshi/simplyconnect/internal/model"
)

// IDプロバイダーが返すエラー。呼び出し側はerrors.Isで判定する。
var (
	ErrInvalidPhoneNumber = errors.New("invalid phone number")
	ErrRateLimited        = errors.New("too many verification requests")
	ErrNetwork            = errors.New("identity provider unreachable")
	ErrInvalidCode        = errors.New("invalid verification code")
	ErrCodeExpired        = errors.New("verification code expired")
)

// IdentityProvider は電話番号認証を行う外部IDプロバイダーのインターフェース。
type IdentityProvider interface {
	// SendCode は電話番号に確認コードを送信する。
	SendCode(ctx context.Context, phoneNumber string) (*model.PendingVerification, error)

	// ConfirmCode は確認コードを検証し、成功時はIDを確定する。
	// 確定したIDはOnIdentityChangedの購読者にも通知される。
	ConfirmCode(ctx context.Context, pending *model.PendingVerification, code string) (*model.IdentityHandle, error)

	// OnIdentityChanged はIDの変化を購読する。
	// 登録直後に現在のID（未ログインの場合はnil）が1回通知される。
	// 通知は発生順に逐次行われる。戻り値の関数で購読を解除する。
	OnIdentityChanged(listener func(*model.IdentityHandle)) (unsubscribe func())

	// SignOut は現在のIDを破棄する。購読者にはnilが通知される。
	SignOut(ctx context.Context) error
}

// e164Pattern は国際形式の電話番号（+と7〜15桁の数字）にマッチする。
var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// ValidatePhoneNumber は電話番号がE.164形式かどうかを検証する。
func ValidatePhoneNumber(phoneNumber string) error {
	if !e164Pattern.MatchString(phoneNumber) {
		return ErrInvalidPhoneNumber
	}
	return nil
}

// NormalizePhoneNumber は入力された電話番号から区切り文字を除去する。
// +で始まらない場合はdefaultCountryCodeを前置する。
func NormalizePhoneNumber(input, defaultCountryCode string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(input) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" || strings.HasPrefix(out, "+") {
		return out
	}
	return "+" + defaultCountryCode + out
}

// MaskPhoneNumber はログ出力用に末尾4桁以外を伏せた電話番号を返す。
func MaskPhoneNumber(phoneNumber string) string {
	if len(phoneNumber) <= 4 {
		return strings.Repeat("*", len(phoneNumber))
	}
	return strings.Repeat("*", len(phoneNumber)-4) + phoneNumber[len(phoneNumber)-4:]
}
