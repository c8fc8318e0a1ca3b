package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/simplyconnect/internal/middleware"
)

// HealthChecker はヘルスチェックで疎通を確認する依存先のインターフェース。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Session           SessionSource
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	RetryAfter        time.Duration // 解決中の503に付与するRetry-After
	Logger            *slog.Logger
	StatusRecorder    middleware.StatusRecorder

	// 公開エンドポイント
	Routes         RouteReader   // nilの場合/sessionにルートを含めない
	HealthChecker  HealthChecker // nilの場合は常に正常とみなす
	MetricsHandler http.Handler  // nilの場合は/metricsを公開しない

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// プロフィール
	ProfileService ProfileServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → JSONOnly
//
// 保護ルート（/api/*）にはさらに SessionGuard → RateLimit(General) を適用する。
// 確認コードAPIには RateLimit(Auth) を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewJSONOnlyMiddleware())

	authHandler := NewAuthHandler(deps.AuthService, deps.Session, deps.AuthConfig)
	sessionHandler := NewSessionHandler(deps.Session, deps.Routes, deps.CORSAllowedOrigin, logger)
	profileHandler := NewProfileHandler(deps.ProfileService)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/session", func(r chi.Router) {
		r.Get("/", sessionHandler.Get)
		r.Get("/stream", sessionHandler.Stream)
	})

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())
			r.Post("/phone/code", authHandler.SendCode)
			r.Post("/phone/verify", authHandler.Verify)
		})
		r.Post("/logout", authHandler.Logout)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: SessionGuard → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionGuardMiddleware(deps.Session, deps.RetryAfter))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/profile", func(r chi.Router) {
			r.Get("/", profileHandler.Get)
			r.Patch("/", profileHandler.Update)
			r.Get("/connections", profileHandler.Connections)
		})
	})

	return r
}

// healthHandler は依存先の疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Warn("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
