package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/contextos/internal/auth"
	"github.com/hitoshi/contextos/internal/category"
	"github.com/hitoshi/contextos/internal/config"
	"github.com/hitoshi/contextos/internal/database"
	"github.com/hitoshi/contextos/internal/handler"
	"github.com/hitoshi/contextos/internal/logger"
	"github.com/hitoshi/contextos/internal/metrics"
	"github.com/hitoshi/contextos/internal/middleware"
	"github.com/hitoshi/contextos/internal/prompt"
	"github.com/hitoshi/contextos/internal/repository"
	"github.com/hitoshi/contextos/internal/worker/cleanup"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	level := logger.SetupDefault(w)

	// 2. .envを読み込んでから環境変数を解釈する
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. ログレベルの反映
	lvl, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		slog.Warn("invalid LOG_LEVEL, falling back to info", slog.String("log_level", cfg.LogLevel))
	}
	level.Set(lvl)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMで停止する。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8001"
		}
		return runHealthcheck(fmt.Sprintf("http://localhost:%s/api/health", port))
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("storage_driver", cfg.StorageDriver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// storage は選択されたストレージドライバのリポジトリ一式を保持する。
type storage struct {
	db         *sql.DB // memoryドライバではnil
	users      repository.UserRepository
	sessions   repository.SessionRepository
	prompts    repository.PromptRepository
	categories repository.CategoryRepository
}

// openStorage はSTORAGE_DRIVERに応じてリポジトリを初期化する。
func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		slog.Warn("using in-memory storage; data is lost on restart")
		return &storage{
			users:      repository.NewMemoryUserRepo(),
			sessions:   repository.NewMemorySessionRepo(),
			prompts:    repository.NewMemoryPromptRepo(),
			categories: repository.NewMemoryCategoryRepo(),
		}, nil
	}

	db, err := database.Connect(ctx, cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	return &storage{
		db:         db,
		users:      repository.NewPostgresUserRepo(db),
		sessions:   repository.NewPostgresSessionRepo(db),
		prompts:    repository.NewPostgresPromptRepo(db),
		categories: repository.NewPostgresCategoryRepo(db),
	}, nil
}

// healthChecker はDB接続がある場合のみHealthCheckerを返す。
func (s *storage) healthChecker() handler.HealthChecker {
	if s.db == nil {
		return nil
	}
	return s.db
}

// Close はDB接続を閉じる。
func (s *storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// newMetricsRegistry はアプリケーションとランタイムのメトリクスを登録したレジストリを返す。
func newMetricsRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// application はserveモードで組み立てた依存関係。
type application struct {
	handler     http.Handler
	rateLimiter *middleware.RateLimiter
	sessions    repository.SessionRepository
	collector   *metrics.Collector
}

// newApplication は全依存関係をワイヤリングし、カテゴリのシードを行う。
func newApplication(ctx context.Context, cfg *config.Config, st *storage) (*application, error) {
	reg, collector := newMetricsRegistry()

	// 1. カテゴリのシード（冪等）
	catalog := category.NewCatalog(st.categories, category.DefaultSeeds())
	if err := catalog.Seed(ctx); err != nil {
		return nil, fmt.Errorf("failed to seed categories: %w", err)
	}

	// 2. ドメインサービスの初期化
	provider := auth.NewHTTPIdentityProvider(auth.HTTPProviderConfig{
		URL:     cfg.AuthProviderURL,
		Timeout: cfg.AuthProviderTimeout,
	})
	authService := auth.NewService(provider, st.users, st.sessions, collector, auth.ServiceConfig{
		SessionTTL: cfg.SessionTTL,
	})
	promptService := prompt.NewService(st.prompts, nil, collector)

	// 3. ルーターの構築（configはreq/min単位）
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(
		cfg.RateLimitGeneral, cfg.RateLimitSessionExchange,
	))

	router := handler.NewRouter(&handler.RouterDeps{
		Authenticator:     authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		Metrics:           collector,
		Gatherer:          reg,
		HealthChecker:     st.healthChecker(),
		AuthService:       authService,
		PromptService:     promptService,
		CategoryService:   catalog,
	})

	return &application{
		handler:     router,
		rateLimiter: rateLimiter,
		sessions:    st.sessions,
		collector:   collector,
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	app, err := newApplication(ctx, cfg, st)
	if err != nil {
		return err
	}
	defer app.rateLimiter.Stop()

	// インメモリのセッションは別プロセスのworkerから参照できないため、同一プロセスで掃除する
	if st.db == nil {
		job := cleanup.NewSessionCleanupJob(st.sessions, slog.Default(), app.collector)
		go job.Start(ctx, cfg.SessionCleanupInterval)
	}

	ln, err := net.Listen("tcp", ":"+cfg.ServerPort)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", cfg.ServerPort, err)
	}

	server := &http.Server{
		Handler:      app.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションのクリーンアップをSESSION_CLEANUP_INTERVALごとに実行する。
// ctxがキャンセルされるまでブロックする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.StorageDriver == config.StorageDriverMemory {
		return fmt.Errorf("worker requires %s storage; in-memory sessions are swept by the serve process", config.StorageDriverPostgres)
	}

	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	_, collector := newMetricsRegistry()
	job := cleanup.NewSessionCleanupJob(st.sessions, slog.Default(), collector)

	slog.Info("worker starting",
		slog.Duration("session_cleanup_interval", cfg.SessionCleanupInterval),
	)
	job.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.StorageDriver == config.StorageDriverMemory {
		return fmt.Errorf("migrate requires %s storage", config.StorageDriverPostgres)
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(healthURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(healthURL)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
