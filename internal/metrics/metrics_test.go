package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetricFamily は収集結果から名前でメトリクスファミリーを探す。
func findMetricFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// labelValue はメトリクスから指定ラベルの値を返す。
func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordRegistration_IncrementsCounter は仮登録カウンタが増加することを検証する。
func TestRecordRegistration_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRegistration()
	c.RecordRegistration()

	mf := findMetricFamily(t, reg, "market_registrations_total")
	if val := mf.GetMetric()[0].GetCounter().GetValue(); val != 2 {
		t.Errorf("registrations_total = %v, want 2", val)
	}
}

// TestRecordLogin_SplitsByResult はログイン結果がラベル別に集計されることを検証する。
func TestRecordLogin_SplitsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLogin(true)
	c.RecordLogin(false)
	c.RecordLogin(false)

	mf := findMetricFamily(t, reg, "market_logins_total")
	got := map[string]float64{}
	for _, m := range mf.GetMetric() {
		got[labelValue(m, "result")] = m.GetCounter().GetValue()
	}
	if got["success"] != 1 {
		t.Errorf("success = %v, want 1", got["success"])
	}
	if got["failure"] != 2 {
		t.Errorf("failure = %v, want 2", got["failure"])
	}
}

// TestRecordImageIngestFailure_IncrementsCounterWithLabels は画像取り込み失敗が種別と理由で記録されることを検証する。
func TestRecordImageIngestFailure_IncrementsCounterWithLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordImageIngestFailure("item", "unsupported_type")

	mf := findMetricFamily(t, reg, "market_image_ingest_failures_total")
	m := mf.GetMetric()[0]
	if labelValue(m, "kind") != "item" {
		t.Errorf("kind = %q, want %q", labelValue(m, "kind"), "item")
	}
	if labelValue(m, "reason") != "unsupported_type" {
		t.Errorf("reason = %q, want %q", labelValue(m, "reason"), "unsupported_type")
	}
	if m.GetCounter().GetValue() != 1 {
		t.Errorf("value = %v, want 1", m.GetCounter().GetValue())
	}
}

// TestRecordCatalogSearch_ObservesResultCount は検索回数と該当件数が記録されることを検証する。
func TestRecordCatalogSearch_ObservesResultCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCatalogSearch(0)
	c.RecordCatalogSearch(7)

	if val := findMetricFamily(t, reg, "market_catalog_searches_total").GetMetric()[0].GetCounter().GetValue(); val != 2 {
		t.Errorf("catalog_searches_total = %v, want 2", val)
	}
	h := findMetricFamily(t, reg, "market_catalog_result_count").GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", h.GetSampleCount())
	}
	if h.GetSampleSum() != 7 {
		t.Errorf("sample sum = %v, want 7", h.GetSampleSum())
	}
}

// TestRecordCleanupFailure_IncrementsCounterWithLabel はファイル削除失敗が対象別に記録されることを検証する。
func TestRecordCleanupFailure_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCleanupFailure("item_dir")
	c.RecordCleanupFailure("item_dir")
	c.RecordCleanupFailure("profile_picture")

	mf := findMetricFamily(t, reg, "market_cleanup_failures_total")
	got := map[string]float64{}
	for _, m := range mf.GetMetric() {
		got[labelValue(m, "target")] = m.GetCounter().GetValue()
	}
	if got["item_dir"] != 2 {
		t.Errorf("item_dir = %v, want 2", got["item_dir"])
	}
	if got["profile_picture"] != 1 {
		t.Errorf("profile_picture = %v, want 1", got["profile_picture"])
	}
}

// TestRecordSessionsPurged_AddsCount は削除セッション数が加算されることを検証する。
func TestRecordSessionsPurged_AddsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionsPurged(3)
	c.RecordSessionsPurged(4)

	if val := findMetricFamily(t, reg, "market_sessions_purged_total").GetMetric()[0].GetCounter().GetValue(); val != 7 {
		t.Errorf("sessions_purged_total = %v, want 7", val)
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はHTTPステータスコードがラベル付きで記録されることを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(404)

	mf := findMetricFamily(t, reg, "market_http_status_total")
	got := map[string]float64{}
	for _, m := range mf.GetMetric() {
		got[labelValue(m, "status_code")] = m.GetCounter().GetValue()
	}
	if got["200"] != 2 {
		t.Errorf("200 = %v, want 2", got["200"])
	}
	if got["404"] != 1 {
		t.Errorf("404 = %v, want 1", got["404"])
	}
}

// TestRecordRequestLatency_ObservesHistogram はレイテンシがヒストグラムに記録されることを検証する。
func TestRecordRequestLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRequestLatency(150 * time.Millisecond)

	h := findMetricFamily(t, reg, "market_request_latency_seconds").GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 1 {
		t.Errorf("sample count = %d, want 1", h.GetSampleCount())
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat はハンドラーがPrometheus形式で出力することを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRegistration()
	c.RecordVerification("created")
	c.RecordPurchase()
	c.RecordMailFailure()
	c.RecordImageIngested("profile")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	body, _ := io.ReadAll(w.Body)
	for _, name := range []string{
		"market_registrations_total",
		"market_verifications_total",
		"market_purchases_total",
		"market_mail_failures_total",
		"market_images_ingested_total",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("response should contain %s", name)
		}
	}
}

// TestMultipleCollectors_IndependentRegistries は別レジストリのCollectorが独立していることを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	_ = NewCollector(reg2)

	c1.RecordPurchase()

	if val := findMetricFamily(t, reg1, "market_purchases_total").GetMetric()[0].GetCounter().GetValue(); val != 1 {
		t.Errorf("reg1 purchases = %v, want 1", val)
	}
	if val := findMetricFamily(t, reg2, "market_purchases_total").GetMetric()[0].GetCounter().GetValue(); val != 0 {
		t.Errorf("reg2 purchases = %v, want 0", val)
	}
}
