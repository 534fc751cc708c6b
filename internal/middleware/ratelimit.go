package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate          rate.Limit    // 認証済みAPIのユーザーごとのレート（req/sec）
	GeneralBurst         int           // 認証済みAPIのバーストサイズ
	SessionExchangeRate  rate.Limit    // セッション交換のクライアントIPごとのレート（req/sec）
	SessionExchangeBurst int           // セッション交換のバーストサイズ
	CleanupInterval      time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 認証済みAPI 120 req/min/user、セッション交換 20 req/min/IP。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return NewRateLimiterConfig(120, 20)
}

// NewRateLimiterConfig は1分あたりのリクエスト数からレート制限設定を生成する。
// バーストサイズは1分あたりの上限と同じにする。
func NewRateLimiterConfig(generalPerMinute, sessionExchangePerMinute int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:          perMinute(generalPerMinute),
		GeneralBurst:         max(generalPerMinute, 1),
		SessionExchangeRate:  perMinute(sessionExchangePerMinute),
		SessionExchangeBurst: max(sessionExchangePerMinute, 1),
		CleanupInterval:      5 * time.Minute,
	}
}

func perMinute(n int) rate.Limit {
	if n <= 0 {
		n = 1
	}
	return rate.Limit(float64(n) / 60.0)
}

// keyedEntry はキーごとのレートリミッターとアクセス時刻を保持する。
type keyedEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// keyedLimiters はキー（ユーザーIDやクライアントIP）ごとのリミッター集合。
type keyedLimiters struct {
	mu      sync.RWMutex
	rate    rate.Limit
	burst   int
	entries map[string]*keyedEntry
}

func newKeyedLimiters(r rate.Limit, burst int) *keyedLimiters {
	return &keyedLimiters{
		rate:    r,
		burst:   burst,
		entries: make(map[string]*keyedEntry),
	}
}

// get はキーのリミッターを取得または作成する。
func (k *keyedLimiters) get(key string) *rate.Limiter {
	k.mu.RLock()
	e, exists := k.entries[key]
	k.mu.RUnlock()

	if exists {
		k.mu.Lock()
		e.lastAccess = time.Now()
		k.mu.Unlock()
		return e.limiter
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	// ダブルチェック
	if e, exists := k.entries[key]; exists {
		e.lastAccess = time.Now()
		return e.limiter
	}

	limiter := rate.NewLimiter(k.rate, k.burst)
	k.entries[key] = &keyedEntry{
		limiter:    limiter,
		lastAccess: time.Now(),
	}
	return limiter
}

// evictIdle は最終アクセスからttlを超えたエントリを削除する。
func (k *keyedLimiters) evictIdle(now time.Time, ttl time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, e := range k.entries {
		if now.Sub(e.lastAccess) > ttl {
			delete(k.entries, key)
		}
	}
}

func (k *keyedLimiters) count() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.entries)
}

// RateLimiter は認証済みAPIのユーザーごとのレート制限と、
// セッション交換のクライアントIPごとのレート制限を管理する。
type RateLimiter struct {
	config RateLimiterConfig

	general         *keyedLimiters
	sessionExchange *keyedLimiters

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:          config,
		general:         newKeyedLimiters(config.GeneralRate, config.GeneralBurst),
		sessionExchange: newKeyedLimiters(config.SessionExchangeRate, config.SessionExchangeBurst),
		stopCh:          make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。複数回呼んでもよい。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware は認証済みAPIのレート制限ミドルウェアを返す。
// リクエストコンテキストにユーザーが含まれている必要がある（SessionMiddlewareの後に配置）。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				slog.Error("rate limiter used without session middleware",
					slog.String("path", r.URL.Path),
				)
				WriteInternalServerError(w)
				return
			}

			if !rl.general.get(userID).Allow() {
				writeRateLimitResponse(w, rl.config.GeneralRate)
				slog.Warn("rate limit exceeded",
					slog.String("user_id", userID),
					slog.String("limit_type", "general"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SessionExchangeMiddleware はセッション交換用のレート制限ミドルウェアを返す。
// 交換時点ではユーザーが未確定のため、クライアントIPをキーにする。
func (rl *RateLimiter) SessionExchangeMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)

			if !rl.sessionExchange.get(ip).Allow() {
				writeRateLimitResponse(w, rl.config.SessionExchangeRate)
				slog.Warn("rate limit exceeded",
					slog.String("client_ip", ip),
					slog.String("limit_type", "session_exchange"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GeneralLimiterCount は現在管理されている認証済みAPIリミッターのエントリ数を返す。
// テスト用。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.count()
}

// SessionExchangeLimiterCount は現在管理されているセッション交換リミッターのエントリ数を返す。
// テスト用。
func (rl *RateLimiter) SessionExchangeLimiterCount() int {
	return rl.sessionExchange.count()
}

// ClientIP はリクエスト元のIPアドレスを返す。
// RemoteAddrがhost:port形式でない場合はそのまま返す。
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2
	rl.general.evictIdle(now, ttl)
	rl.sessionExchange.evictIdle(now, ttl)
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     "rate_limit_exceeded",
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Wait for the time given in Retry-After and try again.",
	})
}
