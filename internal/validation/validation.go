// Package validation は利用者入力の検証ルールを提供する。
// 検証エラーはmodel.KindValidationのAPIErrorとして返す。
package validation

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/market/internal/model"
)

// 検証ルール
const (
	MinNameLength     = 2
	MaxNameLength     = 30
	MaxEmailLength    = 64
	MobileDigits      = 11
	MinPasswordLength = 8
	MaxPasswordLength = 16
	MaxStateLength    = 200
)

// passwordSpecials はパスワードに1文字以上必要な記号。
const passwordSpecials = "@$!%*?&"

// Name は表示名を検証する。
func Name(name string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	if n < MinNameLength || n > MaxNameLength {
		return model.NewValidationError("name", fmt.Sprintf("must be between %d and %d characters", MinNameLength, MaxNameLength))
	}
	return nil
}

// Email はメールアドレスを検証する。表示名付きの形式は受け付けない。
func Email(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return model.NewValidationError("email", "is required")
	}
	if len(email) > MaxEmailLength {
		return model.NewValidationError("email", fmt.Sprintf("must be at most %d characters", MaxEmailLength))
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return model.NewValidationError("email", "Please enter a valid email address.")
	}
	return nil
}

// NormalizeEmail は比較・保存用にメールアドレスの前後の空白を除去し、小文字化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Mobile は電話番号を検証する。requiredがfalseの場合は空を許可する。
func Mobile(field, number string, required bool) error {
	number = strings.TrimSpace(number)
	if number == "" {
		if required {
			return model.NewValidationError(field, "is required")
		}
		return nil
	}
	if len(number) != MobileDigits {
		return model.NewValidationError(field, fmt.Sprintf("must be exactly %d digits", MobileDigits))
	}
	for _, r := range number {
		if r < '0' || r > '9' {
			return model.NewValidationError(field, fmt.Sprintf("must be exactly %d digits", MobileDigits))
		}
	}
	return nil
}

// Password はパスワードの強度を検証する。
// 8〜16文字で、英大文字・英小文字・数字・記号(@$!%*?&)をそれぞれ1文字以上含み、
// それ以外の文字を含まないこと。
func Password(password string) error {
	if len(password) < MinPasswordLength || len(password) > MaxPasswordLength {
		return model.NewValidationError("password", fmt.Sprintf("must be between %d and %d characters", MinPasswordLength, MaxPasswordLength))
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasDigit = true
		case strings.ContainsRune(passwordSpecials, r):
			hasSpecial = true
		default:
			return model.NewValidationError("password", "contains a character that is not allowed")
		}
	}
	if !hasUpper || !hasLower || !hasDigit || !hasSpecial {
		return model.NewValidationError("password",
			"Password must contain at least one uppercase letter, one lowercase letter, one number, and one special character.")
	}
	return nil
}

// PasswordConfirmation はパスワードと確認用パスワードの一致を検証する。
func PasswordConfirmation(password, confirm string) error {
	if password != confirm {
		return model.NewValidationError("confirm_password", "Passwords must match.")
	}
	return nil
}

// State は状態メッセージを検証する。
func State(state string) error {
	if utf8.RuneCountInString(state) > MaxStateLength {
		return model.NewValidationError("state", fmt.Sprintf("must be at most %d characters", MaxStateLength))
	}
	return nil
}
