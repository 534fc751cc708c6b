package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/contextos/internal/metrics"
)

// unmatchedRoute はルーティングされなかったリクエストのrouteラベル。
// 任意のパスをラベルにするとカーディナリティが増え続けるため固定値にまとめる。
const unmatchedRoute = "unmatched"

// NewMetricsMiddleware はHTTPリクエスト数とレイテンシを記録するミドルウェアを返す。
// routeラベルにはchiのルートパターン（例: /api/prompts/{id}）を使用する。
func NewMetricsMiddleware(collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rec, r)

			route := unmatchedRoute
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}

			collector.RecordHTTPRequest(r.Method, route, rec.statusCode, time.Since(start))
		})
	}
}
