package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/market/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
	Logger         *slog.Logger
	HTTPMetrics    middleware.HTTPRecorder

	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	SessionStarter    middleware.SessionStarter
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 商品・ユーザー・一覧
	ItemService    ItemServiceInterface
	UserService    UserServiceInterface
	CatalogService CatalogServiceInterface
	Upload         UploadConfig

	// StaticRoot が空でない場合、ローカル保存の画像を/static/以下で配信する
	StaticRoot string
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Session → CSRF → RateLimit
//
// 匿名セッションは仮登録を扱うルートでのみ発行する。
// ログインが必要なルートはRequireUserの後にユーザー単位のレート制限を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cookie := deps.AuthConfig.cookie()
	csrfConfig := middleware.CSRFConfig{
		CookieSecure: deps.AuthConfig.CookieSecure,
		CookieDomain: deps.AuthConfig.CookieDomain,
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.HTTPMetrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	// 運用エンドポイントはセッション・CSRFの対象外
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	if deps.StaticRoot != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(deps.StaticRoot))))
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	itemHandler := NewItemHandler(deps.ItemService, deps.Upload)
	userHandler := NewUserHandler(deps.UserService, deps.Upload, cookie)
	marketHandler := NewMarketHandler(deps.CatalogService, deps.Upload.MediaBaseURL)

	rl := deps.RateLimiter
	ensureSession := middleware.NewEnsureSessionMiddleware(deps.SessionStarter, cookie)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(middleware.NewCSRFMiddleware(csrfConfig))

		r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(csrfConfig).ServeHTTP)

		// --- 認証不要のルート ---

		// 会員登録（匿名セッションに仮登録を保持する）
		r.With(rl.AuthMiddleware(), ensureSession).Post("/api/register", authHandler.Register)
		r.With(ensureSession).Get("/api/verify-email/{token}", authHandler.VerifyEmail)
		r.With(rl.SensitiveMiddleware(), ensureSession).Post("/api/resend-verification", authHandler.ResendVerification)
		r.With(ensureSession).Get("/api/verification-sent", authHandler.VerificationSent)

		// ログイン・ログアウト
		r.With(rl.AuthMiddleware()).Post("/api/login", authHandler.Login)
		r.Post("/api/logout", authHandler.Logout)

		// パスワードリセット
		r.With(rl.SensitiveMiddleware()).Post("/api/reset-password", authHandler.RequestPasswordReset)
		r.With(rl.SensitiveMiddleware()).Post("/api/reset-password/{token}", authHandler.ResetPassword)

		// 閲覧
		r.Get("/api/market", marketHandler.Search)
		r.Get("/api/owners/{id}", userHandler.Owner)
		r.Get("/api/items/{id}", itemHandler.GetItem)

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser)
			r.Use(rl.GeneralMiddleware())

			// アカウント管理
			r.Route("/api/account", func(r chi.Router) {
				r.Get("/", userHandler.Account)
				r.Put("/", userHandler.UpdateAccount)
				r.Put("/password", userHandler.ChangePassword)
			})
			r.With(rl.SensitiveMiddleware()).Delete("/api/users/{id}", userHandler.Withdraw)

			// 商品管理
			// GET /api/items/{id} は公開ルートと同じパスのため、Routeでマウントせず個別に登録する
			r.Post("/api/items", itemHandler.CreateItem)
			r.Put("/api/items/{id}", itemHandler.UpdateItem)
			r.With(rl.SensitiveMiddleware()).Delete("/api/items/{id}", itemHandler.DeleteItem)
			r.Post("/api/items/{id}/buy", itemHandler.BuyItem)
			r.With(rl.SensitiveMiddleware()).Delete("/api/pictures/{id}", itemHandler.DeletePicture)
		})
	})

	return r
}
