package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/hitoshi/simplyconnect/internal/model"
)

// findMetric は名前とラベルが一致するメトリクスを返す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
			matched++
		}
	}
	return matched == len(labels)
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	if NewCollector(prometheus.NewRegistry()) == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordTransition_CountsByLabels は遷移元・遷移先ラベル別に記録されることを検証する。
func TestRecordTransition_CountsByLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTransition(model.SessionResolving, model.SessionAuthenticated)
	c.RecordTransition(model.SessionResolving, model.SessionAuthenticated)
	c.RecordTransition(model.SessionAuthenticated, model.SessionUnauthenticated)

	m := findMetric(t, reg, "simplyconnect_session_transitions_total",
		map[string]string{"from": "resolving", "to": "authenticated"})
	if got := m.GetCounter().GetValue(); got != 2 {
		t.Errorf("resolving->authenticated = %v, want 2", got)
	}
	m = findMetric(t, reg, "simplyconnect_session_transitions_total",
		map[string]string{"from": "authenticated", "to": "unauthenticated"})
	if got := m.GetCounter().GetValue(); got != 1 {
		t.Errorf("authenticated->unauthenticated = %v, want 1", got)
	}
}

// TestRecordResolution_ObservesLatency は結果別カウンタとヒストグラムが更新されることを検証する。
func TestRecordResolution_ObservesLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordResolution("authenticated", 120*time.Millisecond)
	c.RecordResolution("failed", 2*time.Second)

	m := findMetric(t, reg, "simplyconnect_session_resolutions_total", map[string]string{"outcome": "failed"})
	if got := m.GetCounter().GetValue(); got != 1 {
		t.Errorf("failed resolutions = %v, want 1", got)
	}
	h := findMetric(t, reg, "simplyconnect_session_resolution_seconds", nil).GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", h.GetSampleCount())
	}
	if h.GetSampleSum() < 2.1 {
		t.Errorf("sample sum = %v, want >= 2.1", h.GetSampleSum())
	}
}

func TestRecordStaleDiscard_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordStaleDiscard()
	c.RecordStaleDiscard()
	c.RecordStaleDiscard()

	m := findMetric(t, reg, "simplyconnect_session_stale_discards_total", nil)
	if got := m.GetCounter().GetValue(); got != 3 {
		t.Errorf("stale discards = %v, want 3", got)
	}
}

func TestRecordVerificationCode_CountsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordVerificationCode("sent")
	c.RecordVerificationCode("sent")
	c.RecordVerificationCode("invalid")

	m := findMetric(t, reg, "simplyconnect_verification_codes_total", map[string]string{"result": "sent"})
	if got := m.GetCounter().GetValue(); got != 2 {
		t.Errorf("sent = %v, want 2", got)
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はステータスコードラベル別に記録されることを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(503)
	c.RecordHTTPStatus(503)

	m := findMetric(t, reg, "simplyconnect_http_status_total", map[string]string{"status_code": "503"})
	if got := m.GetCounter().GetValue(); got != 2 {
		t.Errorf("503 = %v, want 2", got)
	}
}

// TestMultipleCollectors_IndependentRegistries は別レジストリで複数生成できることを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	NewCollector(reg2)

	c1.RecordStaleDiscard()

	families, err := reg2.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range families {
		if mf.GetName() == "simplyconnect_session_stale_discards_total" && mf.GetMetric()[0].GetCounter().GetValue() != 0 {
			t.Error("registries are not independent")
		}
	}
}
