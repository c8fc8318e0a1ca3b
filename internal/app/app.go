// Package app はアプリケーションの初期化と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/simplyconnect/internal/auth"
	"github.com/hitoshi/simplyconnect/internal/config"
	"github.com/hitoshi/simplyconnect/internal/database"
	"github.com/hitoshi/simplyconnect/internal/guard"
	"github.com/hitoshi/simplyconnect/internal/handler"
	"github.com/hitoshi/simplyconnect/internal/logger"
	"github.com/hitoshi/simplyconnect/internal/metrics"
	"github.com/hitoshi/simplyconnect/internal/middleware"
	"github.com/hitoshi/simplyconnect/internal/profile"
	"github.com/hitoshi/simplyconnect/internal/security"
	"github.com/hitoshi/simplyconnect/internal/session"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでログを再設定する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("local_store", cfg.LocalStore),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// server はserveモードで起動する構成要素をまとめたもの。
type server struct {
	stores     *stores
	provider   *auth.PhoneProvider
	controller *session.Controller
	limiter    *middleware.RateLimiter
	routes     *guard.RouteState
	router     http.Handler
}

// close は構成要素を生成と逆順に停止する。
func (s *server) close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.controller != nil {
		s.controller.Stop()
	}
	if s.provider != nil {
		s.provider.Close()
	}
	if s.stores != nil {
		if err := s.stores.Close(); err != nil {
			slog.Warn("failed to close stores", slog.String("error", err.Error()))
		}
	}
}

// buildServer は全依存関係をワイヤリングし、セッションコントローラーを起動する。
// エラー時は生成済みの構成要素を停止してから返す。
func buildServer(ctx context.Context, cfg *config.Config) (_ *server, err error) {
	srv := &server{}
	defer func() {
		if err != nil {
			srv.close()
		}
	}()

	// 1. ストアの初期化
	srv.stores, err = openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// 2. メトリクスの初期化
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 3. バイパスIDの読み込み（開発用）
	var bypass *auth.TestIdentityProvider
	if cfg.BypassIdentitiesFile != "" {
		bypass, err = auth.LoadTestIdentityProvider(cfg.BypassIdentitiesFile)
		if err != nil {
			return nil, err
		}
		slog.Warn("bypass identities enabled",
			slog.String("file", cfg.BypassIdentitiesFile),
			slog.Int("users", bypass.Len()),
		)
	}

	// 4. IDプロバイダーの初期化
	srv.provider, err = auth.NewPhoneProvider(ctx, auth.PhoneProviderConfig{
		SigningKey: []byte(cfg.IdentitySigningKey),
		TokenTTL:   cfg.IdentityTokenTTL,
		CodeTTL:    cfg.VerificationCodeTTL,
		SendRate:   rate.Every(cfg.SendCodeRateWindow),
		SendBurst:  cfg.SendCodeBurst,
	}, auth.NewLogCodeSender(slog.Default()), srv.stores.local, collector)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity provider: %w", err)
	}

	// 5. セッションコントローラーの起動
	srv.controller = session.NewController(srv.provider, srv.stores.docs, srv.stores.local, session.Options{
		Bypass:    bypass,
		Logger:    slog.Default(),
		Metrics:   collector,
		RecordKey: cfg.SessionRecordKey,
	})
	if err = srv.controller.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start session controller: %w", err)
	}

	// 6. ルートガードの監視を開始する
	srv.routes = guard.NewRouteState(guard.HomeRoute)
	watcher := guard.NewWatcher(srv.controller, srv.routes, slog.Default())
	go func() {
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("route guard watcher stopped", slog.String("error", err.Error()))
		}
	}()

	// 7. ドメインサービスの初期化
	authService := auth.NewService(srv.provider, bypass, srv.controller, auth.ServiceConfig{
		BypassCodeTTL: cfg.VerificationCodeTTL,
	})
	profileService := profile.NewService(
		srv.stores.docs, srv.controller,
		security.NewURLGuard(cfg.URLProbeTimeout), security.NewTextSanitizer(),
		profile.Config{ProbePhotoURLs: cfg.ProbePhotoURLs},
	)

	// 8. ルーターの構築
	limiterCfg := middleware.DefaultRateLimiterConfig()
	// configのレート制限はreq/min単位なのでreq/secに変換する
	if cfg.RateLimitGeneral > 0 {
		limiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		limiterCfg.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitAuth > 0 {
		limiterCfg.AuthRate = rate.Limit(float64(cfg.RateLimitAuth) / 60.0)
		limiterCfg.AuthBurst = cfg.RateLimitAuth
	}
	srv.limiter = middleware.NewRateLimiter(limiterCfg)

	deps := &handler.RouterDeps{
		Session:           srv.controller,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       srv.limiter,
		RetryAfter:        cfg.SessionRetryAfter,
		Logger:            slog.Default(),
		StatusRecorder:    collector,
		Routes:            srv.routes,
		MetricsHandler:    metrics.Handler(reg),
		AuthService:       authService,
		AuthConfig:        handler.AuthHandlerConfig{DefaultCountryCode: cfg.DefaultCountryCode},
		ProfileService:    profileService,
	}
	if srv.stores.health != nil {
		deps.HealthChecker = srv.stores.health
	}
	srv.router = handler.NewRouter(deps)

	return srv, nil
}

// runServe はAPIサーバーモードで起動する。
// ctxが終了する（SIGINTまたはSIGTERMを受信する）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	srv, err := buildServer(ctx, cfg)
	if err != nil {
		return err
	}
	defer srv.close()

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はドキュメントストアのマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("migrate requires DATABASE_URL")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
