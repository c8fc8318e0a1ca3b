package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/simplyconnect/internal/model"
)

// TestWriteErrorResponse_WritesUnifiedFormat は統一エラーフォーマットでレスポンスが書き込まれることを検証する。
func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "TEST_ERROR",
		Message:  "テストエラーです。",
		Category: "validation",
		Action:   "正しい値を入力してください。",
	})

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	want := map[string]string{
		"code":     "TEST_ERROR",
		"message":  "テストエラーです。",
		"category": "validation",
		"action":   "正しい値を入力してください。",
	}
	for k, v := range want {
		if raw[k] != v {
			t.Errorf("%s = %v, want %q", k, raw[k], v)
		}
	}
}

// TestInternalServerError_ReturnsSystemError は内部エラーが統一フォーマットで返ることを検証する。
func TestInternalServerError_ReturnsSystemError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternalServerError(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	body := decodeErrorBody(t, w)
	if body.Code != "INTERNAL_ERROR" || body.Category != "system" || body.Action == "" {
		t.Errorf("body = %+v", body)
	}
}

func TestWriteError_MapsAPIErrors(t *testing.T) {
	tests := []struct {
		err  *model.APIError
		want int
	}{
		{model.NewInvalidPhoneNumberError(), http.StatusBadRequest},
		{model.NewInvalidCodeError(), http.StatusBadRequest},
		{model.NewInvalidProfileError("x"), http.StatusBadRequest},
		{model.NewCodeExpiredError(), http.StatusGone},
		{model.NewRateLimitedError(), http.StatusTooManyRequests},
		{model.NewNetworkError(), http.StatusBadGateway},
		{model.NewUnauthenticatedError(), http.StatusUnauthorized},
		{model.NewUserNotFoundError(), http.StatusNotFound},
		{model.NewSessionResolvingError(), http.StatusServiceUnavailable},
		{model.NewResolutionFailedError(), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.err.Code, func(t *testing.T) {
			w := httptest.NewRecorder()
			// ラップされたエラーでもコードを判定できる
			WriteError(w, httptest.NewRequest(http.MethodGet, "/", nil), fmt.Errorf("wrapped: %w", tt.err))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if body := decodeErrorBody(t, w); body.Code != tt.err.Code {
				t.Errorf("code = %q, want %q", body.Code, tt.err.Code)
			}
		})
	}
}

func TestWriteError_UnknownErrorIsInternal(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("database exploded"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if body := decodeErrorBody(t, w); body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q", body.Code)
	}
}
