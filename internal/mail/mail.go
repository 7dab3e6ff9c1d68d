// Package mail はアカウント確認・パスワードリセットのメール送信を提供する。
//
// 送信経路は3種類ある。
// SMTPMailerはSMTPサーバーへ直接送信する。ConsoleMailerは開発用にログへ出力する。
// QueueMailerはAMQPキューへ投入し、workerのConsumerがSMTPで配送する。
package mail

import "context"

// Message は送信するメールを表す。
type Message struct {
	To       []string `json:"to"`
	Subject  string   `json:"subject"`
	HTMLBody string   `json:"html_body"`
}

// Mailer はメール送信のインターフェース。
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// compile-time interface check
var (
	_ Mailer = (*SMTPMailer)(nil)
	_ Mailer = (*ConsoleMailer)(nil)
	_ Mailer = (*QueueMailer)(nil)
)
