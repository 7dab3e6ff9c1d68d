package mail

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
)

// sendFunc はsmtp.SendMailと同じシグネチャの送信関数。
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer はSMTPサーバー経由でメールを送信する。
type SMTPMailer struct {
	addr string
	auth smtp.Auth
	from string
	send sendFunc
}

// NewSMTPMailer はSMTPMailerを生成する。usernameが空の場合は認証を行わない。
func NewSMTPMailer(host, port, username, password, from string) *SMTPMailer {
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &SMTPMailer{
		addr: net.JoinHostPort(host, port),
		auth: auth,
		from: from,
		send: smtp.SendMail,
	}
}

// Send はメールを送信する。smtp.SendMailはcontextに対応しないため、
// 送信前にキャンセル済みかどうかのみ確認する。
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(msg.To) == 0 {
		return errors.New("mail has no recipients")
	}
	for _, to := range msg.To {
		if strings.ContainsAny(to, "\r\n") {
			return fmt.Errorf("invalid recipient %q", to)
		}
	}

	if err := m.send(m.addr, m.auth, m.from, msg.To, m.build(msg)); err != nil {
		return fmt.Errorf("failed to send mail via smtp: %w", err)
	}
	return nil
}

// build はヘッダーと本文からRFC 5322形式のメッセージを組み立てる。
func (m *SMTPMailer) build(msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + m.from + "\r\n")
	b.WriteString("To: " + strings.Join(msg.To, ", ") + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTMLBody)
	return []byte(b.String())
}
