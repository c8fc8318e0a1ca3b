// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/simplyconnect/internal/guard"
	"github.com/hitoshi/simplyconnect/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// profileIDContextKey はリクエストコンテキストにプロフィールIDを格納するためのキー。
var profileIDContextKey = contextKey("profile_id")

// SnapshotSource はセッション状態のスナップショットを返すインターフェース。
// session.Controllerの部分集合として定義する。
type SnapshotSource interface {
	Snapshot() model.SessionState
}

// NewSessionGuardMiddleware は保護されたルートにルートガードの判定を適用するミドルウェアを返す。
//   - 解決中: 503 + Retry-After
//   - 解決失敗: 503 RESOLUTION_FAILED
//   - 未認証: HTMLを要求するリクエストにはログイン画面への307、それ以外は401
//
// 認証済みの場合はプロフィールIDをリクエストコンテキストに注入する。
func NewSessionGuardMiddleware(source SnapshotSource, retryAfter time.Duration) func(next http.Handler) http.Handler {
	retrySec := int(retryAfter.Round(time.Second) / time.Second)
	if retrySec < 1 {
		retrySec = 1
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap := source.Snapshot()
			d := guard.Decide(snap.Status, guard.GroupProtected)

			switch d.Action {
			case guard.ActionWait:
				w.Header().Set("Retry-After", strconv.Itoa(retrySec))
				WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewSessionResolvingError())
				return

			case guard.ActionError:
				apiErr := snap.LastError
				if apiErr == nil {
					apiErr = model.NewResolutionFailedError()
				}
				WriteErrorResponse(w, http.StatusServiceUnavailable, apiErr)
				return

			case guard.ActionRedirect:
				if acceptsHTML(r) {
					http.Redirect(w, r, d.Route, http.StatusTemporaryRedirect)
					return
				}
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}

			if snap.Profile == nil {
				slog.Error("authenticated session without profile", slog.String("path", r.URL.Path))
				WriteInternalServerError(w)
				return
			}
			ctx := ContextWithProfileID(r.Context(), snap.Profile.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func acceptsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// ProfileIDFromContext はリクエストコンテキストからプロフィールIDを取得する。
// セッションガードを通過したリクエストでのみ有効。
func ProfileIDFromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(profileIDContextKey).(string)
	if !ok || id == "" {
		return "", fmt.Errorf("profile ID not found in context")
	}
	return id, nil
}

// ContextWithProfileID はコンテキストにプロフィールIDを注入する。
func ContextWithProfileID(ctx context.Context, profileID string) context.Context {
	if h, ok := ctx.Value(profileIDHolderContextKey).(*profileIDHolder); ok {
		h.id = profileID
	}
	return context.WithValue(ctx, profileIDContextKey, profileID)
}

// profileIDHolder は外側のミドルウェアが内側で確定したプロフィールIDを参照するための入れ物。
type profileIDHolder struct {
	id string
}

var profileIDHolderContextKey = contextKey("profile_id_holder")

func contextWithHolder(ctx context.Context, h *profileIDHolder) context.Context {
	return context.WithValue(ctx, profileIDHolderContextKey, h)
}
