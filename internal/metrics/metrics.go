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
// ミドルウェア、認証サービス、プロンプトサービス、ワーカーから利用する。
type MetricsCollector interface {
	RecordHTTPRequest(method, route string, statusCode int, duration time.Duration)
	RecordAuthProviderCall(outcome string, duration time.Duration)
	RecordPromptOperation(operation string)
	RecordSessionsSwept(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
	providerCalls   *prometheus.CounterVec
	providerLatency prometheus.Histogram
	promptOps       *prometheus.CounterVec
	sessionsSwept   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contextos_http_requests_total",
			Help: "ルート・メソッド・ステータスコード別のHTTPリクエスト数",
		}, []string{"method", "route", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "contextos_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contextos_auth_provider_calls_total",
			Help: "外部IDプロバイダ呼び出しの結果別件数",
		}, []string{"outcome"}),
		providerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "contextos_auth_provider_latency_seconds",
			Help:    "外部IDプロバイダ呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		promptOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contextos_prompt_operations_total",
			Help: "成功したプロンプト操作の件数",
		}, []string{"operation"}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contextos_sessions_swept_total",
			Help: "クリーンアップで削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpLatency,
		c.providerCalls,
		c.providerLatency,
		c.promptOps,
		c.sessionsSwept,
	)

	return c
}

// RecordHTTPRequest はHTTPリクエストの件数と処理時間を記録する。
// routeにはchiのルートパターンを渡し、ラベルのカーディナリティを抑える。
func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordAuthProviderCall は外部IDプロバイダ呼び出しの結果とレイテンシを記録する。
func (c *Collector) RecordAuthProviderCall(outcome string, duration time.Duration) {
	c.providerCalls.WithLabelValues(outcome).Inc()
	c.providerLatency.Observe(duration.Seconds())
}

// RecordPromptOperation はプロンプト操作を記録する。
func (c *Collector) RecordPromptOperation(operation string) {
	c.promptOps.WithLabelValues(operation).Inc()
}

// RecordSessionsSwept は削除した期限切れセッション数を記録する。
func (c *Collector) RecordSessionsSwept(count int64) {
	c.sessionsSwept.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordHTTPRequest(string, string, int, time.Duration) {}
func (Nop) RecordAuthProviderCall(string, time.Duration)         {}
func (Nop) RecordPromptOperation(string)                         {}
func (Nop) RecordSessionsSwept(int64)                            {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
