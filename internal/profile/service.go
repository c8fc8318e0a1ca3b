// Package profile は認証済み利用者のプロフィール参照・編集と友達一覧を提供する。
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"unicode/utf8"

	"github.com/hitoshi/simplyconnect/internal/model"
	"github.com/hitoshi/simplyconnect/internal/repository"
	"github.com/hitoshi/simplyconnect/internal/security"
)

// SessionCache はセッションコントローラーが保持するプロフィールキャッシュのインターフェース。
type SessionCache interface {
	Snapshot() model.SessionState
	ReplaceProfile(p *model.UserProfile) bool
}

// Config はプロフィールサービスの設定。
type Config struct {
	MaxNameLength  int  // 氏名の最大文字数
	ProbePhotoURLs bool // trueの場合、写真URLが画像を返すことをHTTPで確認する
}

// UpdateInput はプロフィール編集の入力。nilのフィールドは変更しない。
type UpdateInput struct {
	FirstName       *string
	LastName        *string
	Email           *string
	ProfilePhotoURL *string
}

// Service はプロフィールのサービス層。
// ドキュメントストアを更新した後、セッションのキャッシュを置き換える。
type Service struct {
	docs    repository.DocumentStore
	session SessionCache
	urls    security.URLGuard
	text    security.TextSanitizer
	config  Config
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	docs repository.DocumentStore,
	session SessionCache,
	urls security.URLGuard,
	text security.TextSanitizer,
	config Config,
) *Service {
	if config.MaxNameLength <= 0 {
		config.MaxNameLength = 50
	}
	return &Service{
		docs:    docs,
		session: session,
		urls:    urls,
		text:    text,
		config:  config,
	}
}

// Current は認証済みのプロフィールを返す。
func (s *Service) Current(ctx context.Context) (*model.UserProfile, error) {
	return s.current()
}

// Update はプロフィールを検証して保存し、保存後の内容を返す。
// ステータスは変わらないため、ルートガードへの通知は発生しない。
func (s *Service) Update(ctx context.Context, in UpdateInput) (*model.UserProfile, error) {
	current, err := s.current()
	if err != nil {
		return nil, err
	}

	fields, err := s.buildFields(ctx, in)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return current, nil
	}

	if err := s.docs.Update(ctx, model.UsersCollection, current.ID, fields); err != nil {
		if errors.Is(err, repository.ErrDocumentNotFound) {
			return nil, model.NewUserNotFoundError()
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	doc, err := s.docs.Get(ctx, model.UsersCollection, current.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload profile: %w", err)
	}
	if doc == nil {
		return nil, model.NewUserNotFoundError()
	}
	updated, err := model.ProfileFromDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}

	if !s.session.ReplaceProfile(updated) {
		// 保存中にログアウトなどでセッションが変わった場合はキャッシュを更新しない
		slog.Warn("session changed during profile update",
			slog.String("profile_id", updated.ID),
		)
	}
	slog.Info("profile updated",
		slog.String("profile_id", updated.ID),
		slog.Int("fields", len(fields)),
	)
	return updated, nil
}

// Connections は友達のプロフィールを返す。
// 空のプレースホルダーと重複は除外し、存在しないか読み取れないプロフィールは読み飛ばす。
func (s *Service) Connections(ctx context.Context) ([]*model.UserProfile, error) {
	current, err := s.current()
	if err != nil {
		return nil, err
	}

	ids := model.FilterConnections(current.Connections)
	out := make([]*model.UserProfile, 0, len(ids))
	for _, id := range ids {
		doc, err := s.docs.Get(ctx, model.UsersCollection, id)
		if err != nil {
			return nil, fmt.Errorf("failed to get connection %s: %w", id, err)
		}
		if doc == nil {
			continue
		}
		p, err := model.ProfileFromDocument(doc)
		if err != nil {
			slog.Warn("skipping malformed connection profile",
				slog.String("profile_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Service) current() (*model.UserProfile, error) {
	snap := s.session.Snapshot()
	if snap.Status != model.SessionAuthenticated || snap.Profile == nil {
		return nil, model.NewUnauthenticatedError()
	}
	return snap.Profile, nil
}

func (s *Service) buildFields(ctx context.Context, in UpdateInput) (map[string]any, error) {
	fields := make(map[string]any)

	names := []struct {
		key   string
		value *string
	}{
		{model.FieldFirstName, in.FirstName},
		{model.FieldLastName, in.LastName},
	}
	for _, n := range names {
		if n.value == nil {
			continue
		}
		v := s.text.SanitizeText(*n.value)
		if utf8.RuneCountInString(v) > s.config.MaxNameLength {
			return nil, model.NewInvalidProfileError(fmt.Sprintf("%s must be at most %d characters", n.key, s.config.MaxNameLength))
		}
		fields[n.key] = v
	}

	if in.Email != nil {
		email, err := normalizeEmail(*in.Email)
		if err != nil {
			return nil, err
		}
		fields[model.FieldEmail] = email
	}

	if in.ProfilePhotoURL != nil {
		u := *in.ProfilePhotoURL
		if u != "" {
			check := s.urls.ValidateURL
			if s.config.ProbePhotoURLs {
				check = func(raw string) error { return s.urls.ProbeImage(ctx, raw) }
			}
			if err := check(u); err != nil {
				slog.Info("rejected profile photo URL", slog.String("error", err.Error()))
				return nil, model.NewInvalidProfileError("profileURL must be a public https image URL")
			}
		}
		fields[model.FieldProfileURL] = u
	}

	return fields, nil
}

// normalizeEmail は表示名を含まない単一のメールアドレスのみ受け付ける。空文字は削除として扱う。
func normalizeEmail(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Name != "" || addr.Address != raw {
		return "", model.NewInvalidProfileError("email is not a valid address")
	}
	return addr.Address, nil
}
