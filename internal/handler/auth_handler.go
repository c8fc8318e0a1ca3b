// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/simplyconnect/internal/auth"
	"github.com/hitoshi/simplyconnect/internal/middleware"
	"github.com/hitoshi/simplyconnect/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SendCode(ctx context.Context, phoneNumber string) (*model.PendingVerification, error)
	ConfirmCode(ctx context.Context, verificationID, code string) (*model.IdentityHandle, error)
	SignOut(ctx context.Context) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	DefaultCountryCode string // +で始まらない電話番号に前置する国番号
}

// AuthHandler は電話番号ログイン関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	session SnapshotSource
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, session SnapshotSource, config AuthHandlerConfig) *AuthHandler {
	if config.DefaultCountryCode == "" {
		config.DefaultCountryCode = "1"
	}
	return &AuthHandler{
		service: service,
		session: session,
		config:  config,
	}
}

type sendCodeRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type sendCodeResponse struct {
	VerificationID string    `json:"verificationId"`
	PhoneNumber    string    `json:"phoneNumber"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

type verifyRequest struct {
	VerificationID string `json:"verificationId"`
	Code           string `json:"code"`
}

type verifyResponse struct {
	Status model.SessionStatus `json:"status"`
}

// SendCode は電話番号に確認コードを送信する。
// POST /auth/phone/code
func (h *AuthHandler) SendCode(w http.ResponseWriter, r *http.Request) {
	var req sendCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeInvalidRequest(w)
		return
	}

	phone := auth.NormalizePhoneNumber(req.PhoneNumber, h.config.DefaultCountryCode)
	pv, err := h.service.SendCode(r.Context(), phone)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sendCodeResponse{
		VerificationID: pv.ID,
		PhoneNumber:    pv.PhoneNumber,
		ExpiresAt:      pv.ExpiresAt,
	})
}

// Verify は確認コードを検証する。
// 通常のIDではセッション解決は非同期に進むため、応答時点のステータスを返す。
// POST /auth/phone/verify
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil || req.VerificationID == "" {
		writeInvalidRequest(w)
		return
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		middleware.WriteError(w, r, model.NewInvalidCodeError())
		return
	}

	if _, err := h.service.ConfirmCode(r.Context(), req.VerificationID, code); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{Status: h.session.Snapshot().Status})
}

// Logout はログアウトする。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.SignOut(r.Context()); err != nil {
		slog.Error("failed to sign out", slog.String("error", err.Error()))
		middleware.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
