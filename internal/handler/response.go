package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/simplyconnect/internal/middleware"
	"github.com/hitoshi/simplyconnect/internal/model"
)

// maxRequestBodyBytes はJSONリクエストボディの上限サイズ。
const maxRequestBodyBytes = 64 << 10

// profileResponse はプロフィールのレスポンス形式。
type profileResponse struct {
	ID              string    `json:"id"`
	PhoneNumber     string    `json:"phoneNumber"`
	FirstName       string    `json:"firstName"`
	LastName        string    `json:"lastName"`
	DisplayName     string    `json:"displayName"`
	Email           string    `json:"email"`
	ProfilePhotoURL string    `json:"profileURL"`
	Connections     []string  `json:"connections"`
	IsTestUser      bool      `json:"isTestUser"`
	CreatedAt       time.Time `json:"createdAt"`
}

// sessionResponse はセッション状態のレスポンス形式。
// IDトークンなどの秘匿情報は含めない。
type sessionResponse struct {
	Status     model.SessionStatus           `json:"status"`
	Generation uint64                        `json:"generation"`
	UpdatedAt  time.Time                     `json:"updatedAt"`
	Profile    *profileResponse              `json:"profile"`
	Error      *middleware.ErrorResponseBody `json:"error,omitempty"`
	Route      string                        `json:"route,omitempty"`
}

func toProfileResponse(p *model.UserProfile) *profileResponse {
	if p == nil {
		return nil
	}
	connections := model.FilterConnections(p.Connections)
	return &profileResponse{
		ID:              p.ID,
		PhoneNumber:     p.PhoneNumber,
		FirstName:       p.FirstName,
		LastName:        p.LastName,
		DisplayName:     p.DisplayName(),
		Email:           p.Email,
		ProfilePhotoURL: p.ProfilePhotoURL,
		Connections:     connections,
		IsTestUser:      p.IsTestUser,
		CreatedAt:       p.CreatedAt,
	}
}

func toSessionResponse(s model.SessionState) sessionResponse {
	resp := sessionResponse{
		Status:     s.Status,
		Generation: s.Generation,
		UpdatedAt:  s.UpdatedAt,
		Profile:    toProfileResponse(s.Profile),
	}
	if s.LastError != nil {
		resp.Error = &middleware.ErrorResponseBody{
			Code:     s.LastError.Code,
			Message:  s.LastError.Message,
			Category: s.LastError.Category,
			Action:   s.LastError.Action,
		}
	}
	return resp
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをデコードする。
// 上限サイズを超えるボディや未知のフィールドはエラーとする。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// writeInvalidRequest はリクエストボディの形式エラーを返す。
func writeInvalidRequest(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストの形式が正しくありません。",
		Category: "validation",
		Action:   "入力内容を確認してください。",
	})
}
