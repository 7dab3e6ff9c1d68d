// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層・ミドルウェア・ワーカーから利用する。
type MetricsCollector interface {
	RecordRegistration()
	RecordVerification(outcome string)
	RecordLogin(success bool)
	RecordImageIngested(kind string)
	RecordImageIngestFailure(kind string, reason string)
	RecordCatalogSearch(resultCount int)
	RecordPurchase()
	RecordMailFailure()
	RecordCleanupFailure(target string)
	RecordSessionsPurged(count int64)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	registrations   prometheus.Counter
	verifications   *prometheus.CounterVec
	logins          *prometheus.CounterVec
	imagesIngested  *prometheus.CounterVec
	ingestFailures  *prometheus.CounterVec
	catalogSearches prometheus.Counter
	catalogResults  prometheus.Histogram
	purchases       prometheus.Counter
	mailFailures    prometheus.Counter
	cleanupFailures *prometheus.CounterVec
	sessionsPurged  prometheus.Counter
	httpStatus      *prometheus.CounterVec
	requestLatency  prometheus.Histogram
}

// コンパイル時にインターフェースの実装を検証する。
var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "market_registrations_total",
			Help: "仮登録フォーム送信の合計数",
		}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_verifications_total",
			Help: "メール確認の結果別の件数",
		}, []string{"outcome"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_logins_total",
			Help: "ログイン試行の結果別の件数",
		}, []string{"result"}),
		imagesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_images_ingested_total",
			Help: "保存に成功した画像の件数",
		}, []string{"kind"}),
		ingestFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_image_ingest_failures_total",
			Help: "画像取り込み失敗の件数",
		}, []string{"kind", "reason"}),
		catalogSearches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "market_catalog_searches_total",
			Help: "カタログ検索の合計数",
		}),
		catalogResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "market_catalog_result_count",
			Help:    "カタログ検索1回あたりの該当件数",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500},
		}),
		purchases: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "market_purchases_total",
			Help: "購入成立の合計数",
		}),
		mailFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "market_mail_failures_total",
			Help: "メール送信失敗の合計数",
		}),
		cleanupFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_cleanup_failures_total",
			Help: "ベストエフォートのファイル削除失敗の件数",
		}, []string{"target"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "market_sessions_purged_total",
			Help: "期限切れで削除されたセッションの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "market_request_latency_seconds",
			Help:    "HTTPリクエスト処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.registrations,
		c.verifications,
		c.logins,
		c.imagesIngested,
		c.ingestFailures,
		c.catalogSearches,
		c.catalogResults,
		c.purchases,
		c.mailFailures,
		c.cleanupFailures,
		c.sessionsPurged,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordRegistration は仮登録を記録する。
func (c *Collector) RecordRegistration() {
	c.registrations.Inc()
}

// RecordVerification はメール確認の結果を記録する。
func (c *Collector) RecordVerification(outcome string) {
	c.verifications.WithLabelValues(outcome).Inc()
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.logins.WithLabelValues(result).Inc()
}

// RecordImageIngested は画像の保存成功を記録する。
func (c *Collector) RecordImageIngested(kind string) {
	c.imagesIngested.WithLabelValues(kind).Inc()
}

// RecordImageIngestFailure は画像取り込みの失敗を記録する。
func (c *Collector) RecordImageIngestFailure(kind string, reason string) {
	c.ingestFailures.WithLabelValues(kind, reason).Inc()
}

// RecordCatalogSearch はカタログ検索と該当件数を記録する。
func (c *Collector) RecordCatalogSearch(resultCount int) {
	c.catalogSearches.Inc()
	c.catalogResults.Observe(float64(resultCount))
}

// RecordPurchase は購入成立を記録する。
func (c *Collector) RecordPurchase() {
	c.purchases.Inc()
}

// RecordMailFailure はメール送信失敗を記録する。
func (c *Collector) RecordMailFailure() {
	c.mailFailures.Inc()
}

// RecordCleanupFailure はファイル削除失敗を記録する。
func (c *Collector) RecordCleanupFailure(target string) {
	c.cleanupFailures.WithLabelValues(target).Inc()
}

// RecordSessionsPurged は削除した期限切れセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエスト処理のレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
