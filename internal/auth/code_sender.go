package auth

import (
	"context"
	"log/slog"
)

// CodeSender は確認コードを利用者に届けるインターフェース。
type CodeSender interface {
	SendCode(ctx context.Context, phoneNumber, code string) error
}

// LogCodeSender は確認コードを構造化ログに出力する開発用の送信者。
type LogCodeSender struct {
	logger *slog.Logger
}

// NewLogCodeSender はLogCodeSenderを生成する。loggerがnilの場合はデフォルトロガーを使用する。
func NewLogCodeSender(logger *slog.Logger) *LogCodeSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogCodeSender{logger: logger}
}

// SendCode は確認コードをログに出力する。
func (s *LogCodeSender) SendCode(ctx context.Context, phoneNumber, code string) error {
	s.logger.InfoContext(ctx, "verification code issued",
		slog.String("phone_number", MaskPhoneNumber(phoneNumber)),
		slog.String("code", code),
	)
	return nil
}
