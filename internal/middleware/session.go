// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/market/internal/model"
)

const sessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
	// sessionIDContextKey はリクエストコンテキストにセッションIDを格納するためのキー。
	sessionIDContextKey = contextKey("session_id")
)

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// SessionStarter は匿名セッションを発行する。auth.Serviceが実装する。
type SessionStarter interface {
	StartSession(ctx context.Context) (*model.Session, error)
}

// CookieConfig はセッションCookieの設定。
type CookieConfig struct {
	MaxAge int // 秒
	Secure bool
	Domain string
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取るミドルウェアを返す。
// 有効なセッションがあればセッションIDと（ログイン済みなら）ユーザーIDをコンテキストに注入する。
// セッションがなくてもリクエストは拒否しない。
func NewSessionMiddleware(sessionFinder SessionFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(sessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			session, err := sessionFinder.FindByID(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("failed to find session",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if session == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := ContextWithSessionID(r.Context(), session.ID)
			if session.IsAuthenticated() {
				ctx = ContextWithUserID(ctx, session.UserID)
				annotateUser(ctx, session.UserID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewEnsureSessionMiddleware は有効なセッションがない場合に匿名セッションを発行し、
// Cookieを設定するミドルウェアを返す。仮登録を扱うルートで使用する。
func NewEnsureSessionMiddleware(starter SessionStarter, config CookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if SessionIDFromContext(r.Context()) != "" {
				next.ServeHTTP(w, r)
				return
			}

			session, err := starter.StartSession(r.Context())
			if err != nil {
				slog.Error("failed to start anonymous session",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			SetSessionCookie(w, config, session.ID)
			next.ServeHTTP(w, r.WithContext(ContextWithSessionID(r.Context(), session.ID)))
		})
	}
}

// RequireUser はログイン済みでないリクエストに401を返すミドルウェア。
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := UserIDFromContext(r.Context()); err != nil {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SetSessionCookie はセッションCookieを設定する。
func SetSessionCookie(w http.ResponseWriter, config CookieConfig, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   config.MaxAge,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie はセッションCookieを削除する。
func ClearSessionCookie(w http.ResponseWriter, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// ログイン済みセッションでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// SessionIDFromContext はリクエストコンテキストからセッションIDを取得する。なければ空文字列を返す。
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDContextKey).(string)
	return id
}

// ContextWithSessionID はコンテキストにセッションIDを注入する。
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDContextKey, sessionID)
}
