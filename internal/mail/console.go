package mail

import (
	"context"
	"log/slog"
	"strings"
)

// ConsoleMailer はメールを送信せずにログへ出力する。開発環境用。
type ConsoleMailer struct {
	logger *slog.Logger
}

// NewConsoleMailer はConsoleMailerを生成する。loggerがnilの場合はデフォルトロガーを使用する。
func NewConsoleMailer(logger *slog.Logger) *ConsoleMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleMailer{logger: logger}
}

// Send はメールの内容をログに出力する。
func (m *ConsoleMailer) Send(ctx context.Context, msg Message) error {
	m.logger.InfoContext(ctx, "メールを出力します",
		slog.String("to", strings.Join(msg.To, ", ")),
		slog.String("subject", msg.Subject),
		slog.String("body", msg.HTMLBody),
	)
	return nil
}
