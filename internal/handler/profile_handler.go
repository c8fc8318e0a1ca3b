package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/simplyconnect/internal/middleware"
	"github.com/hitoshi/simplyconnect/internal/model"
	"github.com/hitoshi/simplyconnect/internal/profile"
)

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	Current(ctx context.Context) (*model.UserProfile, error)
	Update(ctx context.Context, in profile.UpdateInput) (*model.UserProfile, error)
	Connections(ctx context.Context) ([]*model.UserProfile, error)
}

// ProfileHandler はプロフィール関連のHTTPハンドラー。
// セッションガードの内側に配置する。
type ProfileHandler struct {
	service ProfileServiceInterface
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{service: service}
}

// updateProfileRequest はPATCH /api/profileのリクエストボディ。
// 省略したフィールドは変更しない。空文字は削除を意味する。
type updateProfileRequest struct {
	FirstName       *string `json:"firstName"`
	LastName        *string `json:"lastName"`
	Email           *string `json:"email"`
	ProfilePhotoURL *string `json:"profileURL"`
}

type connectionsResponse struct {
	Connections []*profileResponse `json:"connections"`
}

// Get は認証済みのプロフィールを返す。
// GET /api/profile
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Current(r.Context())
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

// Update はプロフィールを部分更新する。
// PATCH /api/profile
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeInvalidRequest(w)
		return
	}

	p, err := h.service.Update(r.Context(), profile.UpdateInput{
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Email:           req.Email,
		ProfilePhotoURL: req.ProfilePhotoURL,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

// Connections は友達のプロフィール一覧を返す。
// GET /api/profile/connections
func (h *ProfileHandler) Connections(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.service.Connections(r.Context())
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	resp := connectionsResponse{Connections: make([]*profileResponse, 0, len(profiles))}
	for _, p := range profiles {
		resp.Connections = append(resp.Connections, toProfileResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}
