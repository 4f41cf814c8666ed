package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/authgate/internal/model"
)

// ThrottleConfig はAPI全般のレート制限設定を保持する。
// ログイン試行のスライディングウィンドウ制限とは別物で、
// こちらは全エンドポイントに対する粗い流量制御を担う。
type ThrottleConfig struct {
	RequestsPerMinute int           // クライアントIPごとの毎分リクエスト上限
	CleanupInterval   time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultThrottleConfig はデフォルトのレート制限設定を返す。
func DefaultThrottleConfig(requestsPerMinute int) ThrottleConfig {
	return ThrottleConfig{
		RequestsPerMinute: requestsPerMinute,
		CleanupInterval:   5 * time.Minute,
	}
}

// clientLimiter はクライアントごとのトークンバケットとアクセス時刻を保持する。
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Throttler はクライアントIPごとのトークンバケット型レート制限を管理する。
type Throttler struct {
	config ThrottleConfig
	limit  rate.Limit
	burst  int

	mu       sync.RWMutex
	limiters map[string]*clientLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewThrottler は新しいThrottlerを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewThrottler(config ThrottleConfig) *Throttler {
	t := &Throttler{
		config:   config,
		limit:    rate.Limit(float64(config.RequestsPerMinute) / 60.0),
		burst:    config.RequestsPerMinute,
		limiters: make(map[string]*clientLimiter),
		stopCh:   make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		go t.cleanupLoop()
	}

	return t
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (t *Throttler) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

// Middleware はAPI全般のレート制限ミドルウェアを返す。
// クライアントIP単位で流量を制御し、超過時は429を返す。
func (t *Throttler) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			limiter := t.getOrCreateLimiter(ip)

			if !limiter.Allow() {
				slog.Warn("rate limit exceeded",
					slog.String("client_ip", ip),
					slog.String("limit_type", "general"),
				)
				t.writeThrottleResponse(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LimiterCount は現在管理されているリミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (t *Throttler) LimiterCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.limiters)
}

// getOrCreateLimiter はクライアントのリミッターを取得または作成する。
func (t *Throttler) getOrCreateLimiter(ip string) *rate.Limiter {
	t.mu.RLock()
	cl, exists := t.limiters[ip]
	t.mu.RUnlock()

	if exists {
		t.mu.Lock()
		cl.lastAccess = time.Now()
		t.mu.Unlock()
		return cl.limiter
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// ダブルチェック
	if cl, exists := t.limiters[ip]; exists {
		cl.lastAccess = time.Now()
		return cl.limiter
	}

	limiter := rate.NewLimiter(t.limit, t.burst)
	t.limiters[ip] = &clientLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (t *Throttler) cleanupLoop() {
	ticker := time.NewTicker(t.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.cleanup()
		case <-t.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (t *Throttler) cleanup() {
	ttl := t.config.CleanupInterval * 2
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	for ip, cl := range t.limiters {
		if now.Sub(cl.lastAccess) > ttl {
			delete(t.limiters, ip)
		}
	}
}

// writeThrottleResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func (t *Throttler) writeThrottleResponse(w http.ResponseWriter) {
	retryAfterSec := int(math.Ceil(1.0 / float64(t.limit)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	apiErr := model.NewTooManyRequestsError(retryAfterSec)
	apiErr.Message = "リクエストが多すぎます。"
	WriteAPIError(w, apiErr)
}
