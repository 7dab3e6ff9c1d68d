// Package token は用途ごとにソルトを分けた署名付き・期限付きトークンを発行・検証する。
// トークンはサーバー側に保存せず、署名と発行時刻のみで有効性を判定する。
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Purpose はトークンの用途を表す。用途ごとに署名鍵のソルトが異なる。
type Purpose string

const (
	// PurposeEmailVerify はメールアドレス確認用トークン。claimはメールアドレス。
	PurposeEmailVerify Purpose = "email-verify"
	// PurposePasswordReset はパスワードリセット用トークン。claimはユーザーID。
	PurposePasswordReset Purpose = "password-reset"
)

// DefaultMaxAge はトークンの既定の有効期間。
const DefaultMaxAge = time.Hour

// futureLeeway は発行時刻が未来を指す場合に許容する時計ずれ。
const futureLeeway = 5 * time.Second

// ErrInvalidToken はトークン検証の失敗を表す。
// 署名不正・形式不正・用途違い・期限切れを区別しない。
var ErrInvalidToken = errors.New("invalid or expired token")

// Service はトークンの発行と検証を行う。
type Service struct {
	secret []byte
	now    func() time.Time
}

// NewService はアプリケーションの秘密鍵からServiceを生成する。
func NewService(secret string) *Service {
	return &Service{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// WithClock はテスト用に時刻関数を差し替えたServiceを返す。
func (s *Service) WithClock(now func() time.Time) *Service {
	return &Service{secret: s.secret, now: now}
}

// Issue はclaimと発行時刻を含むトークンを発行する。
func (s *Service) Issue(purpose Purpose, claim string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:  claim,
		Audience: jwt.ClaimStrings{string(purpose)},
		IssuedAt: jwt.NewNumericDate(s.now()),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.key(purpose))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify はトークンを検証し、埋め込まれたclaimを返す。
// 発行からmaxAgeを超えたトークン、他用途のトークンはErrInvalidTokenとなる。
func (s *Service) Verify(tok string, purpose Purpose, maxAge time.Duration) (claim string, err error) {
	// 想定外の入力でpanicしても呼び出し元には一律の失敗として返す
	defer func() {
		if r := recover(); r != nil {
			claim, err = "", ErrInvalidToken
		}
	}()

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(tok, claims,
		func(t *jwt.Token) (interface{}, error) {
			return s.key(purpose), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(string(purpose)),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(futureLeeway),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}

	if claims.IssuedAt == nil {
		return "", ErrInvalidToken
	}
	if s.now().Sub(claims.IssuedAt.Time) > maxAge {
		return "", ErrInvalidToken
	}

	return claims.Subject, nil
}

// key は秘密鍵と用途ソルトから署名鍵を導出する。
func (s *Service) key(purpose Purpose) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(salt(purpose)))
	return mac.Sum(nil)
}

func salt(purpose Purpose) string {
	return "market." + string(purpose) + ".salt"
}
