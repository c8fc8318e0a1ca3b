package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/simplyconnect/internal/model"
)

// SessionController は対話フローから操作するセッションコントローラーのインターフェース。
type SessionController interface {
	// AdoptBypass はバイパスIDでのログインをセッションに反映する。
	AdoptBypass(ctx context.Context, identity *model.IdentityHandle) error
	// SignOut は利用者の操作によるログアウトを行う。
	SignOut(ctx context.Context) error
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	BypassCodeTTL time.Duration // バイパスIDの検証待ち有効期間
}

// Service は確認コードの送信・検証とログアウトの対話フローを提供する。
// エラーは利用者向けの*model.APIErrorとして同期的に返し、
// セッション状態の変更はIDプロバイダーの通知とコントローラーに委ねる。
type Service struct {
	provider IdentityProvider
	bypass   *TestIdentityProvider
	session  SessionController
	config   ServiceConfig
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]*model.PendingVerification
}

// NewService はServiceを生成する。bypassはnilでもよい。
func NewService(
	provider IdentityProvider,
	bypass *TestIdentityProvider,
	session SessionController,
	config ServiceConfig,
) *Service {
	if config.BypassCodeTTL <= 0 {
		config.BypassCodeTTL = DefaultPhoneProviderConfig().CodeTTL
	}
	return &Service{
		provider: provider,
		bypass:   bypass,
		session:  session,
		config:   config,
		now:      time.Now,
		pending:  make(map[string]*model.PendingVerification),
	}
}

// SendCode は電話番号に確認コードを送信し、検証待ち状態を返す。
// バイパス電話番号の場合は外部IDプロバイダーを呼び出さない。
func (s *Service) SendCode(ctx context.Context, phoneNumber string) (*model.PendingVerification, error) {
	var (
		pv  *model.PendingVerification
		err error
	)

	if s.isBypassPhone(phoneNumber) {
		pv, err = s.bypass.StartVerification(phoneNumber, s.config.BypassCodeTTL)
		slog.Info("bypass verification started",
			slog.String("phone_number", MaskPhoneNumber(phoneNumber)),
		)
	} else {
		pv, err = s.provider.SendCode(ctx, phoneNumber)
	}
	if err != nil {
		return nil, ToAPIError(err)
	}

	s.mu.Lock()
	s.prunePending()
	s.pending[pv.ID] = pv
	s.mu.Unlock()

	out := *pv
	return &out, nil
}

// ConfirmCode は確認コードを検証する。
// バイパスIDの場合はコントローラーに直接反映し、その完了を待って返る。
// 通常のIDの場合はIDプロバイダーの通知がセッション解決を駆動する。
func (s *Service) ConfirmCode(ctx context.Context, verificationID, code string) (*model.IdentityHandle, error) {
	s.mu.Lock()
	pv, ok := s.pending[verificationID]
	s.mu.Unlock()
	if !ok {
		return nil, model.NewCodeExpiredError()
	}

	if pv.Bypass {
		return s.confirmBypass(ctx, pv, code)
	}

	identity, err := s.provider.ConfirmCode(ctx, pv, code)
	if err != nil {
		if !errors.Is(err, ErrInvalidCode) {
			s.forget(verificationID)
		}
		return nil, ToAPIError(err)
	}

	s.forget(verificationID)
	slog.Info("phone number verified",
		slog.String("uid", identity.ID),
		slog.String("phone_number", MaskPhoneNumber(identity.PhoneNumber)),
	)
	return identity, nil
}

func (s *Service) confirmBypass(ctx context.Context, pv *model.PendingVerification, code string) (*model.IdentityHandle, error) {
	if s.bypass == nil {
		s.forget(pv.ID)
		return nil, model.NewCodeExpiredError()
	}
	if !s.now().Before(pv.ExpiresAt) {
		s.forget(pv.ID)
		return nil, model.NewCodeExpiredError()
	}

	identity, err := s.bypass.Verify(pv.PhoneNumber, code)
	if err != nil {
		return nil, ToAPIError(err)
	}

	if err := s.session.AdoptBypass(ctx, identity); err != nil {
		return nil, fmt.Errorf("failed to adopt bypass identity: %w", err)
	}

	s.forget(pv.ID)
	slog.Info("bypass identity signed in", slog.String("uid", identity.ID))
	return identity, nil
}

// SignOut はログアウトする。
func (s *Service) SignOut(ctx context.Context) error {
	if err := s.session.SignOut(ctx); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	return nil
}

func (s *Service) isBypassPhone(phoneNumber string) bool {
	if s.bypass == nil {
		return false
	}
	_, ok := s.bypass.LookupPhone(phoneNumber)
	return ok
}

func (s *Service) forget(verificationID string) {
	s.mu.Lock()
	delete(s.pending, verificationID)
	s.mu.Unlock()
}

// prunePending は期限切れの検証待ち状態を削除する。s.muを保持して呼び出すこと。
func (s *Service) prunePending() {
	now := s.now()
	for id, pv := range s.pending {
		if !now.Before(pv.ExpiresAt) {
			delete(s.pending, id)
		}
	}
}

// ToAPIError はIDプロバイダーのエラーを利用者向けのAPIErrorに変換する。
// 既知のエラーでない場合はそのまま返す。
func ToAPIError(err error) error {
	var apiErr *model.APIError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, ErrInvalidPhoneNumber):
		return model.NewInvalidPhoneNumberError()
	case errors.Is(err, ErrRateLimited):
		return model.NewRateLimitedError()
	case errors.Is(err, ErrNetwork):
		return model.NewNetworkError()
	case errors.Is(err, ErrInvalidCode):
		return model.NewInvalidCodeError()
	case errors.Is(err, ErrCodeExpired):
		return model.NewCodeExpiredError()
	default:
		return err
	}
}
