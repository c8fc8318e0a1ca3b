// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/simplyconnect/internal/logger"
	"github.com/hitoshi/simplyconnect/internal/model"
)

// ローカルストアの種類
const (
	LocalStoreSQLite = "sqlite"
	LocalStoreRedis  = "redis"
	LocalStoreMemory = "memory"
)

// minSigningKeyLength はIDトークン署名鍵の最小バイト数。
const minSigningKeyLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Identity
	IdentitySigningKey  string
	IdentityTokenTTL    time.Duration
	VerificationCodeTTL time.Duration
	SendCodeRateWindow  time.Duration // 電話番号ごとに送信枠が1回分回復するまでの間隔
	SendCodeBurst       int
	DefaultCountryCode  string

	// Bypass
	BypassIdentitiesFile string

	// Document store（空の場合はインメモリ）
	DatabaseURL string

	// Local store
	LocalStore       string
	LocalStorePath   string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	SessionRecordKey string

	// Session
	SessionRetryAfter time.Duration

	// Profile
	ProbePhotoURLs  bool
	URLProbeTimeout time.Duration

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitAuth    int

	// Logging
	LogLevel slog.Level

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.IdentitySigningKey = os.Getenv("IDENTITY_SIGNING_KEY")
	if cfg.IdentitySigningKey == "" {
		missing = append(missing, "IDENTITY_SIGNING_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if len(cfg.IdentitySigningKey) < minSigningKeyLength {
		return nil, fmt.Errorf("IDENTITY_SIGNING_KEY must be at least %d bytes", minSigningKeyLength)
	}

	// Optional fields with defaults
	cfg.IdentityTokenTTL = getEnvDuration("IDENTITY_TOKEN_TTL", 30*24*time.Hour)
	cfg.VerificationCodeTTL = getEnvDuration("VERIFICATION_CODE_TTL", 5*time.Minute)
	cfg.SendCodeRateWindow = getEnvDuration("SEND_CODE_RATE_WINDOW", 2*time.Minute)
	cfg.SendCodeBurst = getEnvInt("SEND_CODE_BURST", 3)
	cfg.DefaultCountryCode = strings.TrimPrefix(getEnvString("DEFAULT_COUNTRY_CODE", "1"), "+")
	cfg.BypassIdentitiesFile = getEnvString("BYPASS_IDENTITIES_FILE", "")
	cfg.DatabaseURL = getEnvString("DATABASE_URL", "")
	cfg.LocalStore = strings.ToLower(getEnvString("LOCAL_STORE", LocalStoreSQLite))
	cfg.LocalStorePath = getEnvString("LOCAL_STORE_PATH", "data/local.db")
	cfg.RedisAddr = getEnvString("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.SessionRecordKey = getEnvString("SESSION_RECORD_KEY", model.DefaultSessionRecordKey)
	cfg.SessionRetryAfter = getEnvDuration("SESSION_RETRY_AFTER", time.Second)
	cfg.ProbePhotoURLs = getEnvBool("PROBE_PHOTO_URLS", false)
	cfg.URLProbeTimeout = getEnvDuration("URL_PROBE_TIMEOUT", 5*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	switch cfg.LocalStore {
	case LocalStoreSQLite, LocalStoreRedis, LocalStoreMemory:
	default:
		return nil, fmt.Errorf("LOCAL_STORE must be one of %s, %s, %s: got %q",
			LocalStoreSQLite, LocalStoreRedis, LocalStoreMemory, cfg.LocalStore)
	}

	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
