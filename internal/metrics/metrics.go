// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 認証アクションの結果ラベル。
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービス、ミドルウェア、セッション掃除ワーカーから利用する。
type MetricsCollector interface {
	RecordAuthAction(action, result string)
	RecordUpstreamFailure(step string)
	RecordUpstreamLatency(step string, duration time.Duration)
	RecordSessionsReaped(count int64)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authActions     *prometheus.CounterVec
	upstreamFail    *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	sessionsReaped  prometheus.Counter
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weatherid_auth_actions_total",
			Help: "認証アクション別・結果別の実行回数",
		}, []string{"action", "result"}),
		upstreamFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weatherid_oauth_upstream_fail_total",
			Help: "OAuthプロバイダー呼び出しの失敗回数",
		}, []string{"step"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "weatherid_oauth_upstream_latency_seconds",
			Help:    "OAuthプロバイダー呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"step"}),
		sessionsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weatherid_sessions_reaped_total",
			Help: "削除された期限切れセッションの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weatherid_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.authActions,
		c.upstreamFail,
		c.upstreamLatency,
		c.sessionsReaped,
		c.httpStatus,
	)

	return c
}

// RecordAuthAction は認証アクションの実行結果を記録する。
func (c *Collector) RecordAuthAction(action, result string) {
	c.authActions.WithLabelValues(action, result).Inc()
}

// RecordUpstreamFailure はOAuthプロバイダー呼び出しの失敗を記録する。
// stepは"token"または"profile"。
func (c *Collector) RecordUpstreamFailure(step string) {
	c.upstreamFail.WithLabelValues(step).Inc()
}

// RecordUpstreamLatency はOAuthプロバイダー呼び出しのレイテンシを記録する。
func (c *Collector) RecordUpstreamLatency(step string, duration time.Duration) {
	c.upstreamLatency.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordSessionsReaped は削除したセッション数を記録する。
func (c *Collector) RecordSessionsReaped(count int64) {
	c.sessionsReaped.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。メトリクスを使わない構成とテストで使用する。
type Nop struct{}

func (Nop) RecordAuthAction(string, string) {}
func (Nop) RecordUpstreamFailure(string) {}
func (Nop) RecordUpstreamLatency(string, time.Duration) {}
func (Nop) RecordSessionsReaped(int64) {}
func (Nop) RecordHTTPStatus(int) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
