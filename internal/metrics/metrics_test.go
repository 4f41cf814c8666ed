package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/authgate/internal/auth"
)

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// counterValue はレジストリから指定名のカウンタ値を取り出すヘルパー。
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	for _, mf := range metrics {
		if mf.GetName() == name {
			if len(mf.GetMetric()) != 1 {
				t.Fatalf("expected 1 metric for %s, got %d", name, len(mf.GetMetric()))
			}
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

// TestRecordRegistration_IncrementsCounter は登録カウンタが増加することを検証する。
func TestRecordRegistration_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRegistration()
	c.RecordRegistration()

	if val := counterValue(t, reg, "authgate_registrations_total"); val != 2 {
		t.Errorf("registrations_total = %v, want 2", val)
	}
}

// TestRecordLoginOutcomes_IncrementIndependently は成功・失敗カウンタが独立に増加することを検証する。
func TestRecordLoginOutcomes_IncrementIndependently(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLoginSuccess()
	c.RecordLoginFailure()
	c.RecordLoginFailure()
	c.RecordLoginFailure()

	if val := counterValue(t, reg, "authgate_login_success_total"); val != 1 {
		t.Errorf("login_success_total = %v, want 1", val)
	}
	if val := counterValue(t, reg, "authgate_login_fail_total"); val != 3 {
		t.Errorf("login_fail_total = %v, want 3", val)
	}
}

// TestRecordRateLimitRejection_LabelsByKeyspace はキー空間別ラベルで拒否が記録されることを検証する。
func TestRecordRateLimitRejection_LabelsByKeyspace(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRateLimitRejection("ip")
	c.RecordRateLimitRejection("ip")
	c.RecordRateLimitRejection("email")

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "authgate_rate_limit_rejections_total" {
			found = true
			if len(mf.GetMetric()) != 2 {
				t.Fatalf("expected 2 label combinations, got %d", len(mf.GetMetric()))
			}
			for _, m := range mf.GetMetric() {
				label := m.GetLabel()[0].GetValue()
				val := m.GetCounter().GetValue()
				switch label {
				case "ip":
					if val != 2 {
						t.Errorf("rejections{keyspace=ip} = %v, want 2", val)
					}
				case "email":
					if val != 1 {
						t.Errorf("rejections{keyspace=email} = %v, want 1", val)
					}
				default:
					t.Errorf("unexpected label value: %s", label)
				}
			}
		}
	}
	if !found {
		t.Error("authgate_rate_limit_rejections_total metric not found")
	}
}

// TestObserveHashDuration_ObservesHistogram はハッシュ時間のヒストグラムに値が記録されることを検証する。
func TestObserveHashDuration_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveHashDuration(50 * time.Millisecond)
	c.ObserveHashDuration(150 * time.Millisecond)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "authgate_password_hash_duration_seconds" {
			found = true
			h := mf.GetMetric()[0].GetHistogram()
			if h.GetSampleCount() != 2 {
				t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
			}
			// 合計は0.05 + 0.15 = 0.2秒
			if h.GetSampleSum() < 0.19 || h.GetSampleSum() > 0.21 {
				t.Errorf("sample_sum = %v, want ~0.2", h.GetSampleSum())
			}
		}
	}
	if !found {
		t.Error("authgate_password_hash_duration_seconds metric not found")
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はHTTPステータスカウンタがラベル付きで増加することを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(401)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "authgate_http_status_total" {
			found = true
			for _, m := range mf.GetMetric() {
				label := m.GetLabel()[0].GetValue()
				val := m.GetCounter().GetValue()
				switch label {
				case "200":
					if val != 2 {
						t.Errorf("http_status_total{status_code=200} = %v, want 2", val)
					}
				case "401":
					if val != 1 {
						t.Errorf("http_status_total{status_code=401} = %v, want 1", val)
					}
				default:
					t.Errorf("unexpected label value: %s", label)
				}
			}
		}
	}
	if !found {
		t.Error("authgate_http_status_total metric not found")
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat は/metricsエンドポイントがPrometheus形式で返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRegistration()
	c.RecordLoginSuccess()
	c.RecordRateLimitRejection("ip")
	c.RecordTokenIssued()
	c.ObserveHashDuration(100 * time.Millisecond)
	c.RecordHTTPStatus(200)

	handler := Handler(reg)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	expectedMetrics := []string{
		"authgate_registrations_total",
		"authgate_login_success_total",
		"authgate_rate_limit_rejections_total",
		"authgate_tokens_issued_total",
		"authgate_password_hash_duration_seconds",
		"authgate_http_status_total",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestCollector_ImplementsMetricsRecorderInterface はCollectorが認証サービスの
// メトリクスインターフェースを実装することを検証する。
func TestCollector_ImplementsMetricsRecorderInterface(t *testing.T) {
	reg := prometheus.NewRegistry()
	var _ auth.MetricsRecorder = NewCollector(reg)
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで独立に動作することを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	c2 := NewCollector(reg2)

	c1.RecordTokenIssued()
	c2.RecordTokenIssued()
	c2.RecordTokenIssued()

	if val := counterValue(t, reg1, "authgate_tokens_issued_total"); val != 1 {
		t.Errorf("reg1 tokens_issued = %v, want 1", val)
	}
	if val := counterValue(t, reg2, "authgate_tokens_issued_total"); val != 2 {
		t.Errorf("reg2 tokens_issued = %v, want 2", val)
	}
}
