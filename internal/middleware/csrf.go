package middleware

import (
	"log/slog"
	"mime"
	"net/http"

	"github.com/hitoshi/simplyconnect/internal/model"
)

// NewJSONOnlyMiddleware は状態変更メソッド（POST, PUT, PATCH, DELETE）に
// application/jsonのContent-Typeを要求するミドルウェアを返す。
// ボディを持たないリクエストでもContent-Typeは必須とする。
func NewJSONOnlyMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mediaType != "application/json" {
				slog.Warn("rejected non-JSON state-changing request",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("content_type", r.Header.Get("Content-Type")),
				)
				WriteErrorResponse(w, http.StatusUnsupportedMediaType, &model.APIError{
					Code:     "UNSUPPORTED_MEDIA_TYPE",
					Message:  "リクエスト形式が正しくありません。",
					Category: "validation",
					Action:   "Content-Type: application/json で送信してください。",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isSafeMethod は状態を変更しないHTTPメソッドかどうかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
