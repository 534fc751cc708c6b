package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/contextos/internal/metrics"
	"github.com/hitoshi/contextos/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Authenticator     middleware.Authenticator
	CORSAllowedOrigin string

	// RateLimiterがnilの場合はレート制限を行わない
	RateLimiter *middleware.RateLimiter
	Logger      *slog.Logger

	// メトリクス。Gathererがnilの場合は/metricsを公開しない
	Metrics  metrics.MetricsCollector
	Gatherer prometheus.Gatherer

	// ヘルスチェック。nilの場合はストレージの疎通確認を行わない
	HealthChecker HealthChecker

	AuthService     AuthServiceInterface
	PromptService   PromptServiceInterface
	CategoryService CategoryServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Metrics → Logging
//	  認証ルート: → Session → RateLimit(General)
//	  セッション交換: → RateLimit(SessionExchange)
func NewRouter(deps *RouterDeps) http.Handler {
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sessionExchangeLimit, generalLimit := passthrough, passthrough
	if deps.RateLimiter != nil {
		sessionExchangeLimit = deps.RateLimiter.SessionExchangeMiddleware()
		generalLimit = deps.RateLimiter.GeneralMiddleware()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewLoggingMiddleware(logger))

	authHandler := NewAuthHandler(deps.AuthService)
	promptHandler := NewPromptHandler(deps.PromptService)
	categoryHandler := NewCategoryHandler(deps.CategoryService)
	healthHandler := NewHealthHandler(deps.HealthChecker)

	// --- 認証不要のルート ---

	r.Get("/api/health", healthHandler.Health)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	// セッション交換はユーザー未確定のためクライアントIP単位で制限する
	r.With(sessionExchangeLimit).
		Post("/api/auth/session", authHandler.CreateSession)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Authenticator))
		r.Use(generalLimit)

		r.Get("/api/auth/profile", authHandler.Profile)
		r.Get("/api/categories", categoryHandler.ListCategories)

		r.Route("/api/prompts", func(r chi.Router) {
			r.Post("/", promptHandler.CreatePrompt)
			r.Get("/", promptHandler.ListPrompts)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", promptHandler.GetPrompt)
				r.Put("/", promptHandler.UpdatePrompt)
				r.Delete("/", promptHandler.DeletePrompt)
				r.Post("/generate", promptHandler.GeneratePrompt)
			})
		})
	})

	return r
}

// passthrough は何もしないミドルウェア。
func passthrough(next http.Handler) http.Handler {
	return next
}
