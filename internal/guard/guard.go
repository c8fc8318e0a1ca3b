// Package guard はセッションのステータスから画面遷移を決定するルートガードを提供する。
package guard

import (
	"strings"

	"github.com/hitoshi/simplyconnect/internal/model"
)

// 遷移先のルート
const (
	LoginRoute = "/login"
	HomeRoute  = "/home"
	ErrorRoute = "/session-error"
)

// Group はルートの分類。
type Group string

const (
	// GroupAuth はログイン前の画面群（ログイン、確認コード入力）。
	GroupAuth Group = "auth"
	// GroupProtected は認証済みでのみ表示できる画面群。
	GroupProtected Group = "protected"
	// GroupPublic はステータスに関係なく表示できる画面群。
	GroupPublic Group = "public"
)

// authRoutes はGroupAuthに属するルートの接頭辞。
var authRoutes = []string{"/login", "/verify", "/auth"}

// publicRoutes はGroupPublicに属するルート。
var publicRoutes = []string{ErrorRoute, "/health"}

// GroupOf はルートの分類を返す。
func GroupOf(route string) Group {
	for _, p := range publicRoutes {
		if route == p {
			return GroupPublic
		}
	}
	for _, p := range authRoutes {
		if route == p || strings.HasPrefix(route, p+"/") {
			return GroupAuth
		}
	}
	return GroupProtected
}

// Action はガードの判定結果。
type Action string

const (
	ActionAllow    Action = "allow"
	ActionWait     Action = "wait"
	ActionRedirect Action = "redirect"
	ActionError    Action = "error"
)

// Decision はガードの判定とリダイレクト先。
type Decision struct {
	Action Action
	Route  string // ActionRedirect, ActionErrorの場合のみ設定される
}

// Decide はステータスとルートの分類から遷移を決定する。
//
// 解決中は判定を保留し、解決失敗はログイン画面ではなくエラー画面に送る。
// 未認証で保護画面にいる場合はログイン画面へ、認証済みでログイン画面群にいる場合はホームへ送る。
func Decide(status model.SessionStatus, group Group) Decision {
	if group == GroupPublic {
		return Decision{Action: ActionAllow}
	}
	switch status {
	case model.SessionUninitialized, model.SessionResolving:
		return Decision{Action: ActionWait}
	case model.SessionResolutionFailed:
		if group == GroupAuth {
			// エラーを確認した利用者が再ログインできるようにログイン画面群は許可する
			return Decision{Action: ActionAllow}
		}
		return Decision{Action: ActionError, Route: ErrorRoute}
	case model.SessionUnauthenticated:
		if group == GroupProtected {
			return Decision{Action: ActionRedirect, Route: LoginRoute}
		}
	case model.SessionAuthenticated:
		if group == GroupAuth {
			return Decision{Action: ActionRedirect, Route: HomeRoute}
		}
	}
	return Decision{Action: ActionAllow}
}
