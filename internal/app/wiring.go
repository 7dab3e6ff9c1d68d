package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/market/internal/config"
	"github.com/hitoshi/market/internal/mail"
	"github.com/hitoshi/market/internal/middleware"
	"github.com/hitoshi/market/internal/pending"
	"github.com/hitoshi/market/internal/storage"
)

// newStorage はSTORAGE_BACKENDに応じた画像ストレージを生成する。
// ローカル保存の場合は/static/で配信するディレクトリも返す。
func newStorage(ctx context.Context, cfg *config.Config) (storage.Storage, string, error) {
	switch cfg.StorageBackend {
	case config.StorageBackendS3:
		s, err := storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		})
		if err != nil {
			return nil, "", fmt.Errorf("failed to initialize s3 storage: %w", err)
		}
		return s, "", nil
	default:
		local := storage.NewLocalStorage(cfg.StaticRoot)
		return local, local.Root(), nil
	}
}

// newPendingStore はPENDING_STOREに応じた仮登録ストアを生成する。
// 戻り値の関数は接続を閉じる。
func newPendingStore(ctx context.Context, cfg *config.Config, repo pending.SessionDataRepository) (pending.Store, func(), error) {
	if cfg.PendingStore != config.PendingStoreRedis {
		return pending.NewPostgresStore(repo), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis connection established", slog.String("addr", cfg.RedisAddr))

	ttl := time.Duration(cfg.SessionMaxAge) * time.Second
	closeFn := func() {
		if err := client.Close(); err != nil {
			slog.Warn("failed to close redis client", slog.String("error", err.Error()))
		}
	}
	return pending.NewRedisStore(client, ttl), closeFn, nil
}

// newMailer はMAIL_TRANSPORTに応じたメール送信手段を生成する。
// 戻り値の関数はブローカー接続を閉じる。
func newMailer(cfg *config.Config) (mail.Mailer, func(), error) {
	switch cfg.MailTransport {
	case config.MailTransportSMTP:
		return mail.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.MailFrom), func() {}, nil
	case config.MailTransportQueue:
		q, err := mail.NewQueueMailer(cfg.AMQPURL, cfg.MailQueue)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize mail queue: %w", err)
		}
		closeFn := func() {
			if err := q.Close(); err != nil {
				slog.Warn("failed to close mail queue", slog.String("error", err.Error()))
			}
		}
		return q, closeFn, nil
	default:
		return mail.NewConsoleMailer(slog.Default()), func() {}, nil
	}
}

// rateLimiterConfig は設定値（req/min）からレート制限設定を生成する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	return middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth, cfg.RateLimitSensitive)
}
