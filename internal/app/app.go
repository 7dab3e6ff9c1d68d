package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/market/internal/auth"
	"github.com/hitoshi/market/internal/catalog"
	"github.com/hitoshi/market/internal/config"
	"github.com/hitoshi/market/internal/database"
	"github.com/hitoshi/market/internal/handler"
	"github.com/hitoshi/market/internal/imaging"
	"github.com/hitoshi/market/internal/item"
	"github.com/hitoshi/market/internal/logger"
	"github.com/hitoshi/market/internal/mail"
	"github.com/hitoshi/market/internal/metrics"
	"github.com/hitoshi/market/internal/middleware"
	"github.com/hitoshi/market/internal/repository"
	"github.com/hitoshi/market/internal/security"
	"github.com/hitoshi/market/internal/token"
	"github.com/hitoshi/market/internal/user"
	"github.com/hitoshi/market/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. LOG_LEVELを反映する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx := context.Background()

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 3. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	itemRepo := repository.NewPostgresItemRepo(db)
	pictureRepo := repository.NewPostgresPictureRepo(db)

	// 4. 外部バックエンドの初期化
	store, staticRoot, err := newStorage(ctx, cfg)
	if err != nil {
		return err
	}

	pendingStore, closePending, err := newPendingStore(ctx, cfg, sessionRepo)
	if err != nil {
		return err
	}
	defer closePending()

	mailer, closeMailer, err := newMailer(cfg)
	if err != nil {
		return err
	}
	defer closeMailer()

	// 5. ドメインサービスの初期化
	sanitizer := security.NewTextSanitizer()
	pipeline := imaging.NewPipeline(store, cfg.MaxUploadBytes, collector)

	authService := auth.NewService(
		userRepo, sessionRepo, pendingStore, token.NewService(cfg.SecretKey), mailer, collector,
		auth.ServiceConfig{
			SessionMaxAge: cfg.SessionMaxAge,
			TokenMaxAge:   cfg.TokenMaxAge,
			BaseURL:       cfg.BaseURL,
			DefaultBudget: cfg.DefaultBudget,
		},
	)
	itemService := item.NewService(itemRepo, pictureRepo, pipeline, store, sanitizer, collector)
	userService := user.NewService(userRepo, sessionRepo, itemService, pipeline, store, sanitizer, collector)
	catalogService := catalog.NewService(itemRepo, cfg.CatalogPageSize, collector)

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),
		Logger:         slog.Default(),
		HTTPMetrics:    collector,

		SessionFinder:     sessionRepo,
		SessionStarter:    authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
			MediaBaseURL:  cfg.MediaBaseURL,
		},

		ItemService:    itemService,
		UserService:    handler.NewUserServiceAdapter(userService, authService),
		CatalogService: catalogService,
		Upload: handler.UploadConfig{
			MaxUploadBytes: cfg.MaxUploadBytes,
			MediaBaseURL:   cfg.MediaBaseURL,
		},

		StaticRoot: staticRoot,
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.String("storage", cfg.StorageBackend),
			slog.String("pending_store", cfg.PendingStore),
			slog.String("mail_transport", cfg.MailTransport),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの定期削除を行い、MAIL_TRANSPORT=queueの場合は
// メールキューを購読してSMTPで配送する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	collector := metrics.NewCollector(prometheus.NewRegistry())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.String("mail_transport", cfg.MailTransport),
	)

	// メールキューの購読をバックグラウンドで起動
	if cfg.MailTransport == config.MailTransportQueue {
		smtpMailer := mail.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.MailFrom)
		consumer := mail.NewConsumer(cfg.AMQPURL, cfg.MailQueue, smtpMailer, collector)
		go func() {
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("mail consumer stopped", slog.String("error", err.Error()))
			}
		}()
	}

	// セッションクリーンアップジョブをメインgoroutineで実行（ブロッキング）
	cleanupJob := cleanup.NewSessionCleanupJob(db, slog.Default(), collector)
	cleanupJob.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
