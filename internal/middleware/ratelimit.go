package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // ログイン後のAPI全般のレート（req/sec、ユーザー単位）
	GeneralBurst    int           // API全般のバーストサイズ
	AuthRate        rate.Limit    // 登録・ログインのレート（req/sec、IP単位）
	AuthBurst       int           // 登録・ログインのバーストサイズ
	SensitiveRate   rate.Limit    // 削除・パスワードリセット・メール再送のレート（req/sec、IP単位）
	SensitiveBurst  int           // 削除等のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/user、登録・ログイン 10 req/min/IP、削除等 5 req/min/IP。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return NewRateLimiterConfig(120, 10, 5)
}

// NewRateLimiterConfig は1分あたりの上限回数からレート制限設定を生成する。
// バーストサイズは1分あたりの上限回数と同じとする。
func NewRateLimiterConfig(generalPerMin, authPerMin, sensitivePerMin int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     perMinute(generalPerMin),
		GeneralBurst:    max(generalPerMin, 1),
		AuthRate:        perMinute(authPerMin),
		AuthBurst:       max(authPerMin, 1),
		SensitiveRate:   perMinute(sensitivePerMin),
		SensitiveBurst:  max(sensitivePerMin, 1),
		CleanupInterval: 5 * time.Minute,
	}
}

func perMinute(n int) rate.Limit {
	return rate.Limit(float64(max(n, 1)) / 60.0)
}

// keyedLimiter はキーとアクセス時刻を保持するリミッター。
type keyedLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet はキー（ユーザーIDまたはIP）ごとのリミッターを管理する。
type limiterSet struct {
	name  string
	rate  rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*keyedLimiter
}

func newLimiterSet(name string, r rate.Limit, burst int) *limiterSet {
	return &limiterSet{
		name:     name,
		rate:     r,
		burst:    burst,
		limiters: make(map[string]*keyedLimiter),
	}
}

// allow はkeyのリミッターからトークンを1つ消費できるかを返す。
func (s *limiterSet) allow(key string) bool {
	s.mu.Lock()
	kl, ok := s.limiters[key]
	if !ok {
		kl = &keyedLimiter{limiter: rate.NewLimiter(s.rate, s.burst)}
		s.limiters[key] = kl
	}
	kl.lastAccess = time.Now()
	s.mu.Unlock()
	return kl.limiter.Allow()
}

func (s *limiterSet) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// prune は最終アクセス時刻がttlを超えたエントリを削除する。
func (s *limiterSet) prune(now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, kl := range s.limiters {
		if now.Sub(kl.lastAccess) > ttl {
			delete(s.limiters, key)
		}
	}
}

// RateLimiter はレート制限を管理する。
// ログイン後のAPI全般（ユーザー単位）、登録・ログイン（IP単位）、
// 削除などの重要操作（IP単位）の3種類を独立に提供する。
type RateLimiter struct {
	config    RateLimiterConfig
	general   *limiterSet
	auth      *limiterSet
	sensitive *limiterSet

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:    config,
		general:   newLimiterSet("general", config.GeneralRate, config.GeneralBurst),
		auth:      newLimiterSet("auth", config.AuthRate, config.AuthBurst),
		sensitive: newLimiterSet("sensitive", config.SensitiveRate, config.SensitiveBurst),
		stopCh:    make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。複数回呼び出してもよい。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はログイン後のAPI全般のレート制限ミドルウェアを返す。
// リクエストコンテキストにユーザーIDが含まれている必要がある（RequireUserの後に配置）。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.general, func(r *http.Request) (string, bool) {
		userID, err := UserIDFromContext(r.Context())
		return userID, err == nil
	})
}

// AuthMiddleware は登録・ログイン用のIP単位のレート制限ミドルウェアを返す。
func (rl *RateLimiter) AuthMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.auth, clientKey)
}

// SensitiveMiddleware は削除・パスワードリセット・メール再送用のIP単位のレート制限ミドルウェアを返す。
// API全般のレート制限とは独立に動作する。
func (rl *RateLimiter) SensitiveMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.sensitive, clientKey)
}

func (rl *RateLimiter) middleware(set *limiterSet, keyFn func(r *http.Request) (string, bool)) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := keyFn(r)
			if !ok {
				RequireUser(next).ServeHTTP(w, r)
				return
			}

			if !set.allow(key) {
				writeRateLimitResponse(w, set.rate)
				slog.Warn("rate limit exceeded",
					slog.String("key", key),
					slog.String("limit_type", set.name),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LimiterCount は指定種別で管理されているリミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) LimiterCount(kind string) int {
	switch kind {
	case "general":
		return rl.general.count()
	case "auth":
		return rl.auth.count()
	case "sensitive":
		return rl.sensitive.count()
	default:
		return 0
	}
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2
	now := time.Now()
	rl.general.prune(now, ttl)
	rl.auth.prune(now, ttl)
	rl.sensitive.prune(now, ttl)
}

// clientKey はクライアントIPをキーとして返す。
// X-Forwarded-Forの解釈はchiのRealIPミドルウェアに任せ、ここではRemoteAddrのみを見る。
func clientKey(r *http.Request) (string, bool) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr, true
	}
	return host, true
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     "RATE_LIMIT_EXCEEDED",
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Please wait and retry after the specified time.",
	})
}
