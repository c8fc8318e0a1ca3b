// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/simplyconnect/internal/model"
)

// MetricsCollector はメトリクス収集のインターフェース。
// セッションコントローラー、IDプロバイダー、HTTP層から利用する。
type MetricsCollector interface {
	RecordTransition(from, to model.SessionStatus)
	RecordResolution(outcome string, d time.Duration)
	RecordStaleDiscard()
	RecordVerificationCode(result string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	transitions       *prometheus.CounterVec
	resolutions       *prometheus.CounterVec
	resolutionLatency prometheus.Histogram
	staleDiscards     prometheus.Counter
	verificationCodes *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simplyconnect_session_transitions_total",
			Help: "セッションステータス遷移の合計数",
		}, []string{"from", "to"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simplyconnect_session_resolutions_total",
			Help: "結果別のセッション解決の合計数",
		}, []string{"outcome"}),
		resolutionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simplyconnect_session_resolution_seconds",
			Help:    "セッション解決のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		staleDiscards: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simplyconnect_session_stale_discards_total",
			Help: "後続のイベントにより破棄された解決結果の合計数",
		}),
		verificationCodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simplyconnect_verification_codes_total",
			Help: "結果別の確認コード処理の合計数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simplyconnect_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.transitions,
		c.resolutions,
		c.resolutionLatency,
		c.staleDiscards,
		c.verificationCodes,
		c.httpStatus,
	)

	return c
}

// RecordTransition はステータス遷移を記録する。
func (c *Collector) RecordTransition(from, to model.SessionStatus) {
	c.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// RecordResolution は解決処理の結果とレイテンシを記録する。
func (c *Collector) RecordResolution(outcome string, d time.Duration) {
	c.resolutions.WithLabelValues(outcome).Inc()
	c.resolutionLatency.Observe(d.Seconds())
}

// RecordStaleDiscard は破棄された解決結果を記録する。
func (c *Collector) RecordStaleDiscard() {
	c.staleDiscards.Inc()
}

// RecordVerificationCode は確認コードの送信・検証結果を記録する。
func (c *Collector) RecordVerificationCode(result string) {
	c.verificationCodes.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
