// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/market/internal/auth"
	"github.com/hitoshi/market/internal/middleware"
	"github.com/hitoshi/market/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, sessionID string, in auth.RegisterInput) (auth.MailResult, error)
	ResendVerification(ctx context.Context, sessionID string) (auth.MailResult, error)
	VerificationSent(ctx context.Context, sessionID string) (bool, error)
	VerifyEmail(ctx context.Context, sessionID, tok string) (*model.User, error)
	Login(ctx context.Context, sessionID, email, password string) (*model.Session, *model.User, error)
	Logout(ctx context.Context, sessionID string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, tok, password, confirm string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
	MediaBaseURL  string
}

// cookie はセッションCookieの設定を返す。
func (c AuthHandlerConfig) cookie() middleware.CookieConfig {
	return middleware.CookieConfig{
		MaxAge: c.SessionMaxAge,
		Secure: c.CookieSecure,
		Domain: c.CookieDomain,
	}
}

// AuthHandler は会員登録・ログイン・パスワードリセットのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
	media   mediaURLs
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
		media:   mediaURLs{baseURL: config.MediaBaseURL},
	}
}

// --- リクエスト・レスポンス型 ---

type registerRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email_address"`
	Mobile1         string `json:"mobile_number1"`
	Mobile2         string `json:"mobile_number2"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type loginRequest struct {
	Email    string `json:"email_address"`
	Password string `json:"password"`
}

type resetRequest struct {
	Email string `json:"email_address"`
}

type newPasswordRequest struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// mailResponse は確認メール送信の結果。
type mailResponse struct {
	EmailSent bool     `json:"email_sent"`
	Warnings  []string `json:"warnings,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func toMailResponse(result auth.MailResult) mailResponse {
	return mailResponse{
		EmailSent: result.Sent,
		Warnings:  warningMessages(result.Warning),
	}
}

// Register は仮登録を行い確認メールを送信する。
// POST /api/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Register(r.Context(), middleware.SessionIDFromContext(r.Context()), auth.RegisterInput{
		Name:            req.Name,
		Email:           req.Email,
		Mobile1:         req.Mobile1,
		Mobile2:         req.Mobile2,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMailResponse(result))
}

// ResendVerification は確認メールを再送する。
// POST /api/resend-verification
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.ResendVerification(r.Context(), middleware.SessionIDFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMailResponse(result))
}

// VerificationSent は確認メールが送信済みかを返す。
// GET /api/verification-sent
func (h *AuthHandler) VerificationSent(w http.ResponseWriter, r *http.Request) {
	sent, err := h.service.VerificationSent(r.Context(), middleware.SessionIDFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mailResponse{EmailSent: sent})
}

// VerifyEmail は確認リンクのトークンを検証し、ユーザーを作成する。
// GET /api/verify-email/:token
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.VerifyEmail(r.Context(), middleware.SessionIDFromContext(r.Context()), chi.URLParam(r, "token"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.media.account(user))
}

// Login はメールアドレスとパスワードで認証し、セッションCookieを発行する。
// POST /api/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, user, err := h.service.Login(r.Context(), middleware.SessionIDFromContext(r.Context()), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.SetSessionCookie(w, h.config.cookie(), session.ID)
	writeJSON(w, http.StatusOK, h.media.account(user))
}

// Logout はセッションを破棄する。
// POST /api/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if sessionID := middleware.SessionIDFromContext(r.Context()); sessionID != "" {
		if err := h.service.Logout(r.Context(), sessionID); err != nil {
			// ログアウト失敗してもCookieはクリアする
			slog.Error("failed to logout", slog.String("error", err.Error()))
		}
	}

	middleware.ClearSessionCookie(w, h.config.cookie())
	w.WriteHeader(http.StatusNoContent)
}

// RequestPasswordReset はパスワードリセットメールを送信する。
// 登録有無を推測されないよう、常に同じレスポンスを返す。
// POST /api/reset-password
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), req.Email); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{
		Message: "If an account exists for that email, a reset link has been sent.",
	})
}

// ResetPassword はリセットリンクのトークンを検証し、パスワードを再設定する。
// POST /api/reset-password/:token
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req newPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.ResetPassword(r.Context(), chi.URLParam(r, "token"), req.Password, req.ConfirmPassword); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
